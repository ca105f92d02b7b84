// Package workspace implements tenant-scoped routing configuration: versioned
// immutable snapshots of task rules, constraints, and circuit-breaker
// overrides keyed by workspace id, with the empty id holding the global
// default.
package workspace

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// Scope identifies whether a snapshot is the global default or a workspace
// override.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeWorkspace Scope = "workspace"
)

// TaskRoutingRule overrides the default model for one task type. Among
// enabled rules for the same task type, the highest priority wins.
type TaskRoutingRule struct {
	TaskType          models.TaskType      `json:"task_type"`
	Provider          models.LLMProvider   `json:"provider"`
	Model             string               `json:"model"`
	Temperature       float64              `json:"temperature"`
	MaxTokens         int64                `json:"max_tokens"`
	FallbackProviders []models.LLMProvider `json:"fallback_providers,omitempty"`
	Priority          int                  `json:"priority"`
	Enabled           bool                 `json:"enabled"`
}

// RoutingConstraints are folded by callers into the per-call routing config.
type RoutingConstraints struct {
	MaxCostPer1M       decimal.Decimal      `json:"max_cost_per_1m"`
	MaxLatencyMs       int64                `json:"max_latency_ms"`
	PreferredProviders []models.LLMProvider `json:"preferred_providers,omitempty"`
	BlockedProviders   []models.LLMProvider `json:"blocked_providers,omitempty"`
	RequireFunctions   bool                 `json:"require_functions"`
	RequireVision      bool                 `json:"require_vision"`
}

// CircuitBreakerRule overrides breaker thresholds for one model key. An
// empty model applies the rule to every model of the provider.
type CircuitBreakerRule struct {
	Provider         models.LLMProvider `json:"provider"`
	Model            string             `json:"model,omitempty"`
	FailureThreshold int                `json:"failure_threshold"`
	SuccessThreshold int                `json:"success_threshold"`
	OpenTimeout      time.Duration      `json:"open_timeout"`
	HalfOpenMaxCalls int                `json:"half_open_max_calls"`
}

// Config is one immutable versioned snapshot of a workspace's routing
// configuration. Updates never mutate in place: CreateUpdated yields a new
// snapshot with version+1 and the original creation time preserved.
type Config struct {
	WorkspaceID  string               `json:"workspace_id"` // empty = global
	Scope        Scope                `json:"scope"`
	Rules        []TaskRoutingRule    `json:"rules"`
	Constraints  *RoutingConstraints  `json:"constraints,omitempty"`
	BreakerRules []CircuitBreakerRule `json:"breaker_rules,omitempty"`
	FeatureFlags map[string]bool      `json:"feature_flags,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Version      int64                `json:"version"`
}

// NewGlobalDefault builds the global snapshot carrying one rule per task
// configuration.
func NewGlobalDefault(taskConfigs []models.TaskModelConfig) Config {
	now := time.Now().UTC()
	rules := make([]TaskRoutingRule, 0, len(taskConfigs))
	for _, tc := range taskConfigs {
		rules = append(rules, TaskRoutingRule{
			TaskType:          tc.TaskType,
			Provider:          tc.Provider,
			Model:             tc.Model,
			Temperature:       tc.Temperature,
			MaxTokens:         tc.MaxTokens,
			FallbackProviders: append([]models.LLMProvider(nil), tc.FallbackProviders...),
			Priority:          0,
			Enabled:           true,
		})
	}
	return Config{
		Scope:     ScopeGlobal,
		Rules:     rules,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// NewWorkspaceDefault builds an empty workspace snapshot, meaning "inherit
// global". The store never merges workspace and global rules itself.
func NewWorkspaceDefault(workspaceID string) Config {
	now := time.Now().UTC()
	return Config{
		WorkspaceID: workspaceID,
		Scope:       ScopeWorkspace,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// CreateUpdated returns a structural copy with modify applied, version
// incremented, updated-at refreshed, and the creation timestamp preserved.
// The receiver is never mutated.
func (c Config) CreateUpdated(modify func(*Config)) Config {
	next := c.clone()
	if modify != nil {
		modify(&next)
	}
	next.WorkspaceID = c.WorkspaceID
	next.Scope = c.Scope
	next.CreatedAt = c.CreatedAt
	next.Version = c.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return next
}

// GetRuleForTask returns the highest-priority enabled rule for the task
// type; ok is false when no enabled rule matches. Merging across scopes is
// the caller's responsibility.
func (c Config) GetRuleForTask(taskType models.TaskType) (TaskRoutingRule, bool) {
	var best TaskRoutingRule
	found := false
	for _, r := range c.Rules {
		if r.TaskType != taskType || !r.Enabled {
			continue
		}
		if !found || r.Priority > best.Priority {
			best = r
			found = true
		}
	}
	return best, found
}

// clone performs the structural copy backing CreateUpdated.
func (c Config) clone() Config {
	next := c

	next.Rules = make([]TaskRoutingRule, len(c.Rules))
	for i, r := range c.Rules {
		r.FallbackProviders = append([]models.LLMProvider(nil), r.FallbackProviders...)
		next.Rules[i] = r
	}

	if c.Constraints != nil {
		cc := *c.Constraints
		cc.PreferredProviders = append([]models.LLMProvider(nil), c.Constraints.PreferredProviders...)
		cc.BlockedProviders = append([]models.LLMProvider(nil), c.Constraints.BlockedProviders...)
		next.Constraints = &cc
	}

	next.BreakerRules = append([]CircuitBreakerRule(nil), c.BreakerRules...)

	if c.FeatureFlags != nil {
		next.FeatureFlags = make(map[string]bool, len(c.FeatureFlags))
		for k, v := range c.FeatureFlags {
			next.FeatureFlags[k] = v
		}
	}
	return next
}
