package routing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/catalog"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

func newTestEngine() *Engine {
	return NewEngine(catalog.New(), breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	})
}

func openBreaker(e *Engine, provider models.LLMProvider, model string) {
	e.RecordFailure(provider, model)
	e.RecordFailure(provider, model)
}

func TestRouteTask_TaskDefault(t *testing.T) {
	e := newTestEngine()

	d, err := e.RouteTask(models.TaskChat, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, models.ProviderAnthropic, d.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", d.Model)
	assert.Equal(t, models.ReasonTaskDefault, d.Reason)
	assert.False(t, d.FallbackUsed)
	assert.False(t, d.CircuitBypassed)
	assert.Equal(t, models.TaskChat, d.TaskType)
}

func TestRouteTask_UnconfiguredTask(t *testing.T) {
	e := newTestEngine()

	_, err := e.RouteTask(models.TaskType("translation"), nil, 0)
	assert.True(t, errs.IsNoTaskConfig(err), "got %v", err)
}

func TestRouteTask_BlockedProviderFallsBack(t *testing.T) {
	e := newTestEngine()

	cfg := DefaultConfig()
	cfg.BlockedProviders = []models.LLMProvider{models.ProviderAnthropic}

	d, err := e.RouteTask(models.TaskChat, &cfg, 0)
	require.NoError(t, err)

	// Chat falls back to OpenAI first; its cheapest model wins.
	assert.Equal(t, models.ProviderOpenAI, d.Provider)
	assert.Equal(t, "gpt-4o-mini", d.Model)
	assert.Equal(t, models.ReasonFallback, d.Reason)
	assert.True(t, d.FallbackUsed)
}

func TestRouteTask_BreakerOpenFallsBack(t *testing.T) {
	e := newTestEngine()
	openBreaker(e, models.ProviderAnthropic, "claude-sonnet-4-20250514")

	d, err := e.RouteTask(models.TaskChat, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, models.ProviderOpenAI, d.Provider)
	assert.Equal(t, "gpt-4o-mini", d.Model)
	assert.Equal(t, models.ReasonFallback, d.Reason)
	assert.True(t, d.FallbackUsed)
}

func TestRouteTask_BreakerDisabledSetsBypassFlag(t *testing.T) {
	e := newTestEngine()
	openBreaker(e, models.ProviderAnthropic, "claude-sonnet-4-20250514")

	cfg := DefaultConfig()
	cfg.CircuitBreaker = false

	d, err := e.RouteTask(models.TaskChat, &cfg, 0)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-20250514", d.Model)
	assert.Equal(t, models.ReasonTaskDefault, d.Reason)
	assert.True(t, d.CircuitBypassed)
}

func TestRouteTask_CostCapDegradesToTerminal(t *testing.T) {
	e := newTestEngine()

	cfg := DefaultConfig()
	cfg.MaxCostPer1M = decimal.RequireFromString("0.05")

	d, err := e.RouteTask(models.TaskChat, &cfg, 0)
	require.NoError(t, err)

	assert.Equal(t, models.ProviderNone, d.Provider)
	assert.Equal(t, catalog.FallbackModelName, d.Model)
	assert.True(t, d.FallbackUsed)
}

func TestRouteTask_PreferredProviderWins(t *testing.T) {
	e := newTestEngine()

	cfg := DefaultConfig()
	cfg.PreferredProviders = []models.LLMProvider{models.ProviderGemini}

	d, err := e.RouteTask(models.TaskChat, &cfg, 0)
	require.NoError(t, err)

	assert.Equal(t, models.ProviderGemini, d.Provider)
	assert.Equal(t, "gemini-2.0-flash", d.Model)
	assert.True(t, d.FallbackUsed)
}

func TestRouteTask_RecordsComplexity(t *testing.T) {
	e := newTestEngine()

	d, err := e.RouteTask(models.TaskChat, nil, 0.85)
	require.NoError(t, err)

	// Complexity is analytics-only metadata; it never changes the choice.
	assert.Equal(t, "claude-sonnet-4-20250514", d.Model)
	assert.Equal(t, "0.85", d.Metadata["complexity"])
}

func TestRouteModel_ManualOverride(t *testing.T) {
	e := newTestEngine()

	d, err := e.RouteModel("4o", models.TaskChat, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, models.ProviderOpenAI, d.Provider)
	assert.Equal(t, "gpt-4o", d.Model)
	assert.Equal(t, models.ReasonManualOverride, d.Reason)
	assert.False(t, d.FallbackUsed)
}

func TestRouteModel_UnresolvableRecursesIntoTask(t *testing.T) {
	e := newTestEngine()

	d, err := e.RouteModel("no-such-model:at-all:extra", models.TaskChat, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-20250514", d.Model)
	assert.Equal(t, models.ReasonTaskDefault, d.Reason)
}

func TestRouteModel_UnresolvableWithoutTaskFails(t *testing.T) {
	e := newTestEngine()

	_, err := e.RouteModel("mystery:model", "", nil, 0)
	assert.True(t, errs.IsInvalidReference(err), "got %v", err)
}

func TestRouteModel_OpenBreakerWithoutTaskDegrades(t *testing.T) {
	e := newTestEngine()
	openBreaker(e, models.ProviderOpenAI, "gpt-4o")

	d, err := e.RouteModel("openai:gpt-4o", "", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, models.ProviderNone, d.Provider)
	assert.Equal(t, catalog.FallbackModelName, d.Model)
	assert.Equal(t, models.ReasonUnavailable, d.Reason)
	assert.True(t, d.FallbackUsed)
}

func TestRouteModel_DeprecatedRecursesIntoTask(t *testing.T) {
	e := newTestEngine()

	d, err := e.RouteModel("gemini:gemini-1.5-flash", models.TaskSummarization, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-flash", d.Model)
	assert.Equal(t, models.ReasonTaskDefault, d.Reason)
}

func TestHistory_NewestFirst(t *testing.T) {
	e := newTestEngine()

	_, err := e.RouteTask(models.TaskChat, nil, 0)
	require.NoError(t, err)
	_, err = e.RouteTask(models.TaskSummarization, nil, 0)
	require.NoError(t, err)
	_, err = e.RouteTask(models.TaskClassification, nil, 0)
	require.NoError(t, err)

	recent := e.History(2)
	require.Len(t, recent, 2)
	assert.Equal(t, models.TaskClassification, recent[0].TaskType)
	assert.Equal(t, models.TaskSummarization, recent[1].TaskType)

	assert.Len(t, e.History(0), 3)
}

func TestHistory_Trimmed(t *testing.T) {
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		h.append(models.RoutingDecision{Model: string(rune('a' + i))})
	}

	assert.Equal(t, 3, h.size())
	recent := h.recent(0)
	assert.Equal(t, "e", recent[0].Model)
	assert.Equal(t, "c", recent[2].Model)
}

func TestConfigureBreaker_AppliesThresholds(t *testing.T) {
	e := newTestEngine()
	e.ConfigureBreaker(models.ProviderOpenAI, "gpt-4o", breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		HalfOpenMaxCalls: 1,
	})

	e.RecordFailure(models.ProviderOpenAI, "gpt-4o")
	assert.True(t, e.Breaker(models.ProviderOpenAI, "gpt-4o").IsOpen())
}
