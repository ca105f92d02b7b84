// Package api implements the REST endpoints for routing decisions, outcome
// reporting, usage queries, workspace configuration, and budget alerts.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/alerts"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/catalog"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/routing"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/workspace"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	engine   *routing.Engine
	store    *workspace.Store
	usage    *ledger.Ledger
	alerts   *alerts.Engine
	insights *analytics.Engine
	spend    *cache.Cache // nil when Redis is unavailable
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance. spend may be nil.
func NewHandlers(engine *routing.Engine, store *workspace.Store, usage *ledger.Ledger, alertEngine *alerts.Engine, insights *analytics.Engine, spend *cache.Cache, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		engine:   engine,
		store:    store,
		usage:    usage,
		alerts:   alertEngine,
		insights: insights,
		spend:    spend,
		logger:   logger,
	}
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pilot",
		"version": "0.1.0",
	})
}

// fail translates domain errors to HTTP status codes.
func fail(c *gin.Context, err error) {
	switch {
	case errs.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.IsValidation(err), errs.IsInvalidReference(err), errs.IsNoTaskConfig(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RouteRequest is the request body for a routing decision.
type RouteRequest struct {
	TaskType    string  `json:"task_type"`
	Model       string  `json:"model"` // optional override: alias or "provider:model"
	Complexity  float64 `json:"complexity"`
	WorkspaceID string  `json:"workspace_id"`

	// Per-call constraints, merged on top of workspace constraints.
	MaxCostPer1M       decimal.Decimal `json:"max_cost_per_1m"`
	MaxLatencyMs       int64           `json:"max_latency_ms"`
	RequireFunctions   bool            `json:"require_functions"`
	RequireVision      bool            `json:"require_vision"`
	PreferredProviders []string        `json:"preferred_providers"`
	BlockedProviders   []string        `json:"blocked_providers"`
}

// Route decides which model should serve a request. Workspace constraints are
// folded into the per-call routing config before the engine runs; an explicit
// model override in the request takes precedence over the workspace task rule.
func (h *Handlers) Route(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TaskType == "" && req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type or model is required"})
		return
	}

	cfg := routing.DefaultConfig()
	taskType := models.TaskType(req.TaskType)
	reference := req.Model

	wsCfg, err := h.store.Get(c.Request.Context(), req.WorkspaceID, true)
	if err != nil {
		fail(c, err)
		return
	}
	foldConstraints(&cfg, wsCfg.Constraints)
	if reference == "" && taskType != "" {
		if rule, ok := wsCfg.GetRuleForTask(taskType); ok {
			reference = models.QualifiedName(rule.Provider, rule.Model)
		}
	}

	mergeCallConstraints(&cfg, req)

	var decision models.RoutingDecision
	if reference != "" {
		decision, err = h.engine.RouteModel(reference, taskType, &cfg, req.Complexity)
	} else {
		decision, err = h.engine.RouteTask(taskType, &cfg, req.Complexity)
	}
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// foldConstraints applies workspace constraints to the per-call config.
func foldConstraints(cfg *routing.Config, ws *workspace.RoutingConstraints) {
	if ws == nil {
		return
	}
	cfg.MaxCostPer1M = ws.MaxCostPer1M
	cfg.MaxLatencyMs = ws.MaxLatencyMs
	cfg.PreferredProviders = append([]models.LLMProvider(nil), ws.PreferredProviders...)
	cfg.BlockedProviders = append([]models.LLMProvider(nil), ws.BlockedProviders...)
	cfg.RequireFunctions = ws.RequireFunctions
	cfg.RequireVision = ws.RequireVision
}

// mergeCallConstraints tightens the config with per-call constraints. Caps
// only shrink, capability requirements only turn on, and provider lists are
// appended, so a call can never widen what the workspace allows.
func mergeCallConstraints(cfg *routing.Config, req RouteRequest) {
	if req.MaxCostPer1M.IsPositive() && (cfg.MaxCostPer1M.IsZero() || req.MaxCostPer1M.LessThan(cfg.MaxCostPer1M)) {
		cfg.MaxCostPer1M = req.MaxCostPer1M
	}
	if req.MaxLatencyMs > 0 && (cfg.MaxLatencyMs == 0 || req.MaxLatencyMs < cfg.MaxLatencyMs) {
		cfg.MaxLatencyMs = req.MaxLatencyMs
	}
	cfg.RequireFunctions = cfg.RequireFunctions || req.RequireFunctions
	cfg.RequireVision = cfg.RequireVision || req.RequireVision
	for _, p := range req.PreferredProviders {
		cfg.PreferredProviders = append(cfg.PreferredProviders, models.LLMProvider(p))
	}
	for _, p := range req.BlockedProviders {
		cfg.BlockedProviders = append(cfg.BlockedProviders, models.LLMProvider(p))
	}
}

// OutcomeRequest is the request body for reporting a completed (or failed)
// provider call.
type OutcomeRequest struct {
	Provider     string `json:"provider" binding:"required"`
	Model        string `json:"model" binding:"required"`
	Success      bool   `json:"success"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	LatencyMs    int64  `json:"latency_ms"`
	ErrorMessage string `json:"error_message"`
	WorkspaceID  string `json:"workspace_id"`
	UserID       string `json:"user_id"`
	RequestID    string `json:"request_id"`
}

// ReportOutcome records one call outcome: it feeds the circuit breaker for
// the model, prices the token usage from the catalog, and appends the record
// to the usage ledger.
func (h *Handlers) ReportOutcome(c *gin.Context) {
	var req OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider := models.LLMProvider(req.Provider)
	if req.Success {
		h.engine.RecordSuccess(provider, req.Model)
	} else {
		h.engine.RecordFailure(provider, req.Model)
	}

	params := models.TokenUsageParams{
		Provider:     provider,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		LatencyMs:    req.LatencyMs,
		Success:      req.Success,
		ErrorMessage: req.ErrorMessage,
		WorkspaceID:  req.WorkspaceID,
		UserID:       req.UserID,
		RequestID:    req.RequestID,
	}
	if def, ok := h.engine.Catalog().Get(provider, req.Model); ok {
		params.InputPerMToken = def.InputPerMToken
		params.OutputPerMToken = def.OutputPerMToken
	}

	usage, err := models.NewTokenUsage(params)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.usage.Record(c.Request.Context(), usage); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, usage)
}

// usageFilter builds a ledger filter from query parameters.
func usageFilter(c *gin.Context) (ledger.Filter, error) {
	f := ledger.Filter{
		Provider:    models.LLMProvider(c.Query("provider")),
		Model:       c.Query("model"),
		WorkspaceID: c.Query("workspace_id"),
		UserID:      c.Query("user_id"),
		SuccessOnly: c.Query("success_only") == "true",
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errs.Validation("from", "use RFC3339")
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errs.Validation("to", "use RFC3339")
		}
		f.To = t
	}
	if v := c.Query("min_tokens"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, errs.Validation("min_tokens", "must be a non-negative integer")
		}
		f.MinTokens = n
	}
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 50
	}
	f.Limit = limit
	return f, nil
}

// QueryUsage returns filtered usage records, newest first.
func (h *Handlers) QueryUsage(c *gin.Context) {
	f, err := usageFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	records, err := h.usage.Query(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "data": records})
}

// GetUsage returns one usage record by id.
func (h *Handlers) GetUsage(c *gin.Context) {
	u, err := h.usage.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// UsageStats returns aggregate usage statistics for the filtered window.
func (h *Handlers) UsageStats(c *gin.Context) {
	f, err := usageFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	f.Offset, f.Limit = 0, 0
	stats, err := h.usage.Stats(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSpend returns the fast spend counter for a scope and entity.
func (h *Handlers) GetSpend(c *gin.Context) {
	if h.spend == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spend counters unavailable"})
		return
	}
	scope := c.Param("scope")
	if scope != "workspace" && scope != "user" && scope != "global" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be workspace, user, or global"})
		return
	}
	amount, err := h.spend.GetSpend(c.Request.Context(), scope, c.Param("entity_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":     scope,
		"entity_id": c.Param("entity_id"),
		"spend_usd": amount,
	})
}

// RoutingHistory returns the most recent routing decisions, newest first.
func (h *Handlers) RoutingHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 50
	}
	decisions := h.engine.History(limit)
	c.JSON(http.StatusOK, gin.H{"count": len(decisions), "data": decisions})
}

// ListBreakers returns a snapshot of every circuit breaker.
func (h *Handlers) ListBreakers(c *gin.Context) {
	snaps := h.engine.BreakerSnapshots()
	c.JSON(http.StatusOK, gin.H{"count": len(snaps), "data": snaps})
}

// ResetBreaker force-closes the breaker for one model.
func (h *Handlers) ResetBreaker(c *gin.Context) {
	provider := models.LLMProvider(c.Param("provider"))
	model := c.Param("model")
	h.engine.Breaker(provider, model).Reset()
	c.JSON(http.StatusOK, gin.H{"provider": provider, "model": model, "state": "CLOSED"})
}

// ListModels returns the model catalog.
func (h *Handlers) ListModels(c *gin.Context) {
	defs := h.engine.Catalog().List()
	c.JSON(http.StatusOK, gin.H{"count": len(defs), "data": defs})
}

// ResolveModel resolves an alias or qualified reference to a catalog entry.
func (h *Handlers) ResolveModel(c *gin.Context) {
	ref := c.Query("ref")
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ref query parameter is required"})
		return
	}
	provider, model, err := h.engine.Catalog().Resolve(ref, models.LLMProvider(c.Query("default_provider")))
	if err != nil {
		fail(c, err)
		return
	}
	def, ok := h.engine.Catalog().Get(provider, model)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not registered: " + models.QualifiedName(provider, model)})
		return
	}
	c.JSON(http.StatusOK, def)
}

// RecommendRequest is the request body for a catalog recommendation.
type RecommendRequest struct {
	TaskType          string          `json:"task_type"`
	RequiresFunctions bool            `json:"requires_functions"`
	RequiresVision    bool            `json:"requires_vision"`
	MaxCostPer1M      decimal.Decimal `json:"max_cost_per_1m"`
	AllowedProviders  []string        `json:"allowed_providers"`
}

// RecommendModel returns the cheapest capable model for the request.
func (h *Handlers) RecommendModel(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	providers := make([]models.LLMProvider, 0, len(req.AllowedProviders))
	for _, p := range req.AllowedProviders {
		providers = append(providers, models.LLMProvider(p))
	}
	def, ok := h.engine.Catalog().Recommend(catalog.RecommendRequest{
		TaskType:          models.TaskType(req.TaskType),
		RequiresFunctions: req.RequiresFunctions,
		RequiresVision:    req.RequiresVision,
		MaxCostPer1M:      req.MaxCostPer1M,
		AllowedProviders:  providers,
	})
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no model satisfies the request"})
		return
	}
	c.JSON(http.StatusOK, def)
}

// DeprecateModel marks a catalog model deprecated so routing skips it.
func (h *Handlers) DeprecateModel(c *gin.Context) {
	provider := models.LLMProvider(c.Param("provider"))
	model := c.Param("model")
	if !h.engine.Catalog().Deprecate(provider, model) {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not registered: " + models.QualifiedName(provider, model)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider, "model": model, "deprecated": true})
}

// GetGlobalConfig returns the global routing configuration snapshot.
func (h *Handlers) GetGlobalConfig(c *gin.Context) {
	cfg, err := h.store.GetGlobal(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ListConfigs returns every stored routing configuration snapshot.
func (h *Handlers) ListConfigs(c *gin.Context) {
	cfgs, err := h.store.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(cfgs), "data": cfgs})
}

// GetWorkspaceConfig returns the routing configuration for one workspace.
// With ?fallback=true the global snapshot is returned when the workspace has
// no override.
func (h *Handlers) GetWorkspaceConfig(c *gin.Context) {
	fallback := c.DefaultQuery("fallback", "true") == "true"
	cfg, err := h.store.Get(c.Request.Context(), c.Param("workspace_id"), fallback)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateConfigRequest is the request body for updating a workspace's routing
// configuration. Omitted sections are cleared, matching snapshot semantics.
type UpdateConfigRequest struct {
	Rules        []workspace.TaskRoutingRule    `json:"rules"`
	Constraints  *workspace.RoutingConstraints  `json:"constraints"`
	BreakerRules []workspace.CircuitBreakerRule `json:"breaker_rules"`
	FeatureFlags map[string]bool                `json:"feature_flags"`
}

// UpdateWorkspaceConfig stores a new configuration snapshot for a workspace
// (or the global default for an empty workspace id) and applies any breaker
// overrides it carries.
func (h *Handlers) UpdateWorkspaceConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workspaceID := c.Param("workspace_id")
	base, err := h.store.Get(c.Request.Context(), workspaceID, false)
	if err != nil {
		if !errs.IsNotFound(err) {
			fail(c, err)
			return
		}
		base = workspace.NewWorkspaceDefault(workspaceID)
	}

	next := base.CreateUpdated(func(cfg *workspace.Config) {
		cfg.Rules = req.Rules
		cfg.Constraints = req.Constraints
		cfg.BreakerRules = req.BreakerRules
		cfg.FeatureFlags = req.FeatureFlags
	})

	saved, err := h.store.Save(c.Request.Context(), next)
	if err != nil {
		fail(c, err)
		return
	}

	h.applyBreakerRules(saved.BreakerRules)
	c.JSON(http.StatusOK, saved)
}

// applyBreakerRules pushes workspace breaker overrides into the registry. A
// rule with an empty model covers every registered model of its provider.
func (h *Handlers) applyBreakerRules(rules []workspace.CircuitBreakerRule) {
	for _, rule := range rules {
		cfg := breaker.Config{
			FailureThreshold: rule.FailureThreshold,
			SuccessThreshold: rule.SuccessThreshold,
			OpenTimeout:      rule.OpenTimeout,
			HalfOpenMaxCalls: rule.HalfOpenMaxCalls,
		}
		if rule.Model != "" {
			h.engine.ConfigureBreaker(rule.Provider, rule.Model, cfg)
			continue
		}
		for _, def := range h.engine.Catalog().List() {
			if def.Provider == rule.Provider {
				h.engine.ConfigureBreaker(def.Provider, def.Name, cfg)
			}
		}
	}
}

// ResetWorkspaceConfig replaces a workspace's configuration with an empty
// inherit-global snapshot.
func (h *Handlers) ResetWorkspaceConfig(c *gin.Context) {
	cfg, err := h.store.Reset(c.Request.Context(), c.Param("workspace_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// DeleteWorkspaceConfig removes a workspace's configuration override.
func (h *Handlers) DeleteWorkspaceConfig(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("workspace_id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateAlertRequest is the request body for creating a budget alert.
type CreateAlertRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name" binding:"required"`
	ThresholdType string          `json:"threshold_type" binding:"required"`
	Threshold     decimal.Decimal `json:"threshold"`
	Operator      string          `json:"operator"`
	Severity      string          `json:"severity"`
	Frequency     string          `json:"frequency"`
	WindowSeconds int64           `json:"window_seconds"`
	WorkspaceID   string          `json:"workspace_id"`
	UserID        string          `json:"user_id"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	Enabled       *bool           `json:"enabled"`
	CooldownSecs  int64           `json:"cooldown_seconds"`
}

// CreateAlert creates or replaces a budget alert definition.
func (h *Handlers) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg, err := models.NewBudgetAlertConfig(models.BudgetAlertParams{
		ID:            req.ID,
		Name:          req.Name,
		ThresholdType: models.ThresholdType(req.ThresholdType),
		Threshold:     req.Threshold,
		Operator:      models.ThresholdOperator(req.Operator),
		Severity:      models.AlertSeverity(req.Severity),
		Frequency:     models.AlertFrequency(req.Frequency),
		Window:        time.Duration(req.WindowSeconds) * time.Second,
		WorkspaceID:   req.WorkspaceID,
		UserID:        req.UserID,
		Provider:      models.LLMProvider(req.Provider),
		Model:         req.Model,
		Enabled:       enabled,
		Cooldown:      time.Duration(req.CooldownSecs) * time.Second,
	})
	if err != nil {
		fail(c, err)
		return
	}

	if err := h.alerts.SaveAlert(c.Request.Context(), cfg); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// ListAlerts returns alert definitions, optionally scoped by workspace/user.
func (h *Handlers) ListAlerts(c *gin.Context) {
	configs, err := h.alerts.Alerts(c.Request.Context(), alerts.ConfigFilter{
		WorkspaceID: c.Query("workspace_id"),
		UserID:      c.Query("user_id"),
		EnabledOnly: c.Query("enabled_only") == "true",
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(configs), "data": configs})
}

// GetAlert returns one alert definition with its trigger state.
func (h *Handlers) GetAlert(c *gin.Context) {
	id := c.Param("id")
	cfg, err := h.alerts.Alert(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	state, err := h.alerts.State(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": cfg, "state": state})
}

// DeleteAlert removes an alert definition.
func (h *Handlers) DeleteAlert(c *gin.Context) {
	if err := h.alerts.DeleteAlert(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetAlert clears an alert's trigger history.
func (h *Handlers) ResetAlert(c *gin.Context) {
	if err := h.alerts.ResetState(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "reset": true})
}

// ListAlertEvents returns triggered events for one alert, newest first.
func (h *Handlers) ListAlertEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 50
	}
	events, err := h.alerts.Events(c.Request.Context(), alerts.EventFilter{
		AlertID: c.Param("id"),
		Limit:   limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "data": events})
}

// ListInsights returns cost insights derived from recent usage: spend
// spikes and cheaper-model recommendations.
func (h *Handlers) ListInsights(c *gin.Context) {
	insights, err := h.insights.Insights(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(insights), "data": insights})
}

// UsageReport returns a period summary report. Defaults to the last 7 days.
func (h *Handlers) UsageReport(c *gin.Context) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, errs.Validation("from", "use RFC3339"))
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, errs.Validation("to", "use RFC3339"))
			return
		}
		to = t
	}
	if to.Before(from) {
		fail(c, errs.Validation("to", "must not precede from"))
		return
	}

	report, err := h.insights.GenerateReport(c.Request.Context(), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckAlerts runs the periodic threshold sweep immediately.
func (h *Handlers) CheckAlerts(c *gin.Context) {
	events, err := h.alerts.CheckThresholds(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggered": len(events), "data": events})
}
