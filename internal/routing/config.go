package routing

import (
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// Config is the per-call routing configuration. The engine is
// workspace-agnostic: callers fold any workspace overrides into this value
// before each routing call.
type Config struct {
	// MaxCostPer1M caps the output cost per 1M tokens of candidates.
	// Zero means no cap.
	MaxCostPer1M decimal.Decimal `json:"max_cost_per_1m"`

	// MaxLatencyMs drops candidates whose typical latency exceeds the cap.
	// Zero means no cap.
	MaxLatencyMs int64 `json:"max_latency_ms"`

	// PreferredProviders, when non-empty, restricts selection to these
	// providers unless doing so would leave no candidate at all.
	PreferredProviders []models.LLMProvider `json:"preferred_providers,omitempty"`

	// BlockedProviders are removed from the candidate list outright.
	BlockedProviders []models.LLMProvider `json:"blocked_providers,omitempty"`

	// RequireFunctions and RequireVision drop candidates missing the
	// capability.
	RequireFunctions bool `json:"require_functions"`
	RequireVision    bool `json:"require_vision"`

	// CircuitBreaker toggles breaker admission checks.
	CircuitBreaker bool `json:"circuit_breaker"`

	// Fallback toggles the fallback-provider candidates; the terminal
	// degrade target remains either way.
	Fallback bool `json:"fallback"`
}

// DefaultConfig returns the per-call defaults: breaker and fallback enabled,
// no constraints.
func DefaultConfig() Config {
	return Config{
		CircuitBreaker: true,
		Fallback:       true,
	}
}

func (c Config) blocked(p models.LLMProvider) bool {
	for _, b := range c.BlockedProviders {
		if b == p {
			return true
		}
	}
	return false
}

func (c Config) preferred(p models.LLMProvider) bool {
	if len(c.PreferredProviders) == 0 {
		return true
	}
	for _, pp := range c.PreferredProviders {
		if pp == p {
			return true
		}
	}
	return false
}
