// Package alerts implements the budget alert engine: configured spend and
// usage thresholds evaluated per completed call and periodically over
// windowed aggregates, notifying registered handlers under frequency and
// cooldown rules.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// ConfigFilter narrows alert config lookups. An alert with an empty scope
// field matches every value of that dimension. ListAll skips scope matching
// entirely and returns every config; the periodic sweep uses it so that
// workspace- and user-scoped alerts are still evaluated.
type ConfigFilter struct {
	WorkspaceID string
	UserID      string
	EnabledOnly bool
	ListAll     bool
}

// EventFilter narrows triggered-event queries.
type EventFilter struct {
	AlertID     string
	WorkspaceID string
	From        time.Time
	To          time.Time
	Limit       int
}

// Repository is the persistence contract for alert configs, their mutable
// state, and the triggered-event log.
type Repository interface {
	SaveConfig(ctx context.Context, cfg models.BudgetAlertConfig) error
	GetConfig(ctx context.Context, id string) (models.BudgetAlertConfig, error)
	ListConfigs(ctx context.Context, f ConfigFilter) ([]models.BudgetAlertConfig, error)
	DeleteConfig(ctx context.Context, id string) error

	GetState(ctx context.Context, alertID string) (models.BudgetAlertState, error)
	SaveState(ctx context.Context, state models.BudgetAlertState) error

	LogEvent(ctx context.Context, ev models.AlertTriggeredEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]models.AlertTriggeredEvent, error)
}

// StatsSource supplies windowed aggregates for periodic threshold checks;
// the usage ledger satisfies it.
type StatsSource interface {
	Stats(ctx context.Context, f ledger.Filter) (models.TokenUsageStats, error)
}

// Handler receives triggered events. A panicking handler is recovered and
// logged, never propagated to the evaluation path.
type Handler func(ev models.AlertTriggeredEvent)

type registeredHandler struct {
	fn    Handler
	async bool
}

// Engine evaluates budget alerts. Per-event evaluation is intentionally
// unserialized for low per-call latency (at-least-once notification under
// near-simultaneous events); periodic sweeps are serialized by one lock so
// two sweeps can never double-trigger the same alert.
type Engine struct {
	repo   Repository
	stats  StatsSource
	logger *zap.Logger
	now    func() time.Time

	handlersMu sync.RWMutex
	handlers   []registeredHandler

	sweepMu sync.Mutex
}

// NewEngine creates an alert engine. stats may be nil when periodic checks
// are not used; a nil logger is replaced with a no-op one.
func NewEngine(repo Repository, stats StatsSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:   repo,
		stats:  stats,
		logger: logger,
		now:    time.Now,
	}
}

// OnTriggered registers a synchronous handler.
func (e *Engine) OnTriggered(h Handler) {
	e.handlersMu.Lock()
	e.handlers = append(e.handlers, registeredHandler{fn: h})
	e.handlersMu.Unlock()
}

// OnTriggeredAsync registers a handler invoked on its own goroutine.
func (e *Engine) OnTriggeredAsync(h Handler) {
	e.handlersMu.Lock()
	e.handlers = append(e.handlers, registeredHandler{fn: h, async: true})
	e.handlersMu.Unlock()
}

// EvaluateUsage runs the per-event path for one completed call: it fetches
// the enabled alerts scoped to the event's workspace and user, applies the
// frequency/cooldown gate, compares the event-level metric against each
// threshold, and on breach persists state, logs the event, and notifies
// handlers. Returns the events that fired.
func (e *Engine) EvaluateUsage(ctx context.Context, u models.TokenUsage) ([]models.AlertTriggeredEvent, error) {
	configs, err := e.repo.ListConfigs(ctx, ConfigFilter{
		WorkspaceID: u.WorkspaceID,
		UserID:      u.UserID,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	var fired []models.AlertTriggeredEvent

	for _, cfg := range configs {
		if cfg.Provider != "" && cfg.Provider != u.Provider {
			continue
		}
		if cfg.Model != "" && cfg.Model != u.Model {
			continue
		}

		state, err := e.stateFor(ctx, cfg.ID)
		if err != nil {
			e.logger.Warn("alert state load failed", zap.String("alert_id", cfg.ID), zap.Error(err))
			continue
		}
		if !shouldNotify(cfg, state, now) {
			continue
		}

		observed := eventMetric(cfg.ThresholdType, u)
		if !breached(observed, cfg.Threshold, cfg.Operator) {
			continue
		}

		ev := e.emit(ctx, cfg, state, observed, now, map[string]string{
			"usage_id": u.ID,
			"source":   "event",
		})
		fired = append(fired, ev)
	}
	return fired, nil
}

// CheckThresholds runs the periodic path: for every enabled alert it pulls
// a windowed aggregate from the stats source and compares the summed metric,
// gated by the same frequency/cooldown policy. A sweep already in progress
// makes this call return immediately.
func (e *Engine) CheckThresholds(ctx context.Context) ([]models.AlertTriggeredEvent, error) {
	if !e.sweepMu.TryLock() {
		return nil, nil
	}
	defer e.sweepMu.Unlock()

	if e.stats == nil {
		return nil, nil
	}

	configs, err := e.repo.ListConfigs(ctx, ConfigFilter{EnabledOnly: true, ListAll: true})
	if err != nil {
		return nil, err
	}

	now := e.now()
	var fired []models.AlertTriggeredEvent

	for _, cfg := range configs {
		state, err := e.stateFor(ctx, cfg.ID)
		if err != nil {
			e.logger.Warn("alert state load failed", zap.String("alert_id", cfg.ID), zap.Error(err))
			continue
		}
		if !shouldNotify(cfg, state, now) {
			continue
		}

		stats, err := e.stats.Stats(ctx, ledger.Filter{
			Provider:    cfg.Provider,
			Model:       cfg.Model,
			WorkspaceID: cfg.WorkspaceID,
			UserID:      cfg.UserID,
			From:        now.Add(-cfg.Window),
			To:          now,
		})
		if err != nil {
			e.logger.Warn("aggregate stats failed", zap.String("alert_id", cfg.ID), zap.Error(err))
			continue
		}

		observed := aggregateMetric(cfg.ThresholdType, stats)
		if !breached(observed, cfg.Threshold, cfg.Operator) {
			continue
		}

		ev := e.emit(ctx, cfg, state, observed, now, map[string]string{
			"source": "sweep",
			"window": cfg.Window.String(),
		})
		fired = append(fired, ev)
	}
	return fired, nil
}

// SaveAlert persists an alert definition.
func (e *Engine) SaveAlert(ctx context.Context, cfg models.BudgetAlertConfig) error {
	return e.repo.SaveConfig(ctx, cfg)
}

// Alert returns one alert definition by id.
func (e *Engine) Alert(ctx context.Context, id string) (models.BudgetAlertConfig, error) {
	return e.repo.GetConfig(ctx, id)
}

// Alerts returns alert definitions matching the filter.
func (e *Engine) Alerts(ctx context.Context, f ConfigFilter) ([]models.BudgetAlertConfig, error) {
	return e.repo.ListConfigs(ctx, f)
}

// DeleteAlert removes an alert definition and its state.
func (e *Engine) DeleteAlert(ctx context.Context, id string) error {
	return e.repo.DeleteConfig(ctx, id)
}

// State returns the trigger state for an alert, zero-valued if it has never
// fired.
func (e *Engine) State(ctx context.Context, alertID string) (models.BudgetAlertState, error) {
	return e.stateFor(ctx, alertID)
}

// Events returns triggered events matching the filter, newest first.
func (e *Engine) Events(ctx context.Context, f EventFilter) ([]models.AlertTriggeredEvent, error) {
	return e.repo.ListEvents(ctx, f)
}

// ResetState clears the trigger history of an alert.
func (e *Engine) ResetState(ctx context.Context, alertID string) error {
	state, err := e.stateFor(ctx, alertID)
	if err != nil {
		return err
	}
	state.Reset()
	return e.repo.SaveState(ctx, state)
}

func (e *Engine) stateFor(ctx context.Context, alertID string) (models.BudgetAlertState, error) {
	state, err := e.repo.GetState(ctx, alertID)
	if err == nil {
		return state, nil
	}
	if errs.IsNotFound(err) {
		return models.NewBudgetAlertState(alertID), nil
	}
	return models.BudgetAlertState{}, err
}

// emit records the breach and fans out to handlers.
func (e *Engine) emit(ctx context.Context, cfg models.BudgetAlertConfig, state models.BudgetAlertState, observed decimal.Decimal, now time.Time, metadata map[string]string) models.AlertTriggeredEvent {
	ev := models.AlertTriggeredEvent{
		ID:            newEventID(),
		AlertID:       cfg.ID,
		ThresholdType: cfg.ThresholdType,
		Observed:      observed,
		Threshold:     cfg.Threshold,
		Severity:      cfg.Severity,
		Message:       breachMessage(cfg, observed),
		WorkspaceID:   cfg.WorkspaceID,
		UserID:        cfg.UserID,
		Timestamp:     now.UTC(),
		Metadata:      metadata,
	}

	state.MarkTriggered(now, true)
	if err := e.repo.SaveState(ctx, state); err != nil {
		e.logger.Warn("alert state save failed", zap.String("alert_id", cfg.ID), zap.Error(err))
	}
	if err := e.repo.LogEvent(ctx, ev); err != nil {
		e.logger.Warn("alert event log failed", zap.String("alert_id", cfg.ID), zap.Error(err))
	}

	e.logger.Info("budget alert triggered",
		zap.String("alert_id", cfg.ID),
		zap.String("name", cfg.Name),
		zap.String("threshold_type", string(cfg.ThresholdType)),
		zap.String("observed", observed.String()),
		zap.String("threshold", cfg.Threshold.String()),
		zap.String("severity", string(cfg.Severity)),
	)

	e.dispatch(ev)
	return ev
}

func (e *Engine) dispatch(ev models.AlertTriggeredEvent) {
	e.handlersMu.RLock()
	handlers := e.handlers
	e.handlersMu.RUnlock()

	for _, h := range handlers {
		if h.async {
			go e.invoke(h.fn, ev)
		} else {
			e.invoke(h.fn, ev)
		}
	}
}

func (e *Engine) invoke(h Handler, ev models.AlertTriggeredEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("alert handler panicked",
				zap.String("alert_id", ev.AlertID), zap.Any("panic", r))
		}
	}()
	h(ev)
}

// eventMetric computes the per-event observation for a threshold type:
// cost, tokens, or 1 for request/API-call counting.
func eventMetric(t models.ThresholdType, u models.TokenUsage) decimal.Decimal {
	switch t {
	case models.ThresholdCost:
		return u.TotalCost
	case models.ThresholdTokens:
		return decimal.NewFromInt(u.TotalTokens)
	case models.ThresholdRequests, models.ThresholdAPICalls:
		return decimal.NewFromInt(1)
	default:
		return decimal.Zero
	}
}

// aggregateMetric computes the windowed observation for a threshold type.
func aggregateMetric(t models.ThresholdType, s models.TokenUsageStats) decimal.Decimal {
	switch t {
	case models.ThresholdCost:
		return s.TotalCost
	case models.ThresholdTokens:
		return decimal.NewFromInt(s.TotalTokens)
	case models.ThresholdRequests, models.ThresholdAPICalls:
		return decimal.NewFromInt(s.TotalRequests)
	default:
		return decimal.Zero
	}
}

func newEventID() string {
	return uuid.New().String()
}

func breachMessage(cfg models.BudgetAlertConfig, observed decimal.Decimal) string {
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	return "alert " + name + ": " + string(cfg.ThresholdType) + " " +
		observed.String() + " " + string(cfg.Operator) + " " + cfg.Threshold.String()
}
