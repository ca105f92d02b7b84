package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

func TestResolve_Alias(t *testing.T) {
	c := New()

	provider, model, err := c.Resolve("sonnet", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAnthropic, provider)
	assert.Equal(t, "claude-sonnet-4-20250514", model)
}

func TestResolve_QualifiedName(t *testing.T) {
	c := New()

	provider, model, err := c.Resolve("openai:gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, provider)
	assert.Equal(t, "gpt-4o", model)
}

func TestResolve_BareNameUsesDefaultProvider(t *testing.T) {
	c := New()

	provider, model, err := c.Resolve("gpt-4o-mini", models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, provider)
	assert.Equal(t, "gpt-4o-mini", model)

	_, _, err = c.Resolve("gpt-4o-mini", "")
	assert.True(t, errs.IsInvalidReference(err))
}

func TestResolve_UnknownProvider(t *testing.T) {
	c := New()

	_, _, err := c.Resolve("mistral:mistral-large", "")
	assert.True(t, errs.IsInvalidReference(err))

	_, _, err = c.Resolve("", "")
	assert.True(t, errs.IsInvalidReference(err))
}

func TestDeprecate(t *testing.T) {
	c := New()

	require.True(t, c.IsAvailable(models.ProviderOpenAI, "gpt-4o"))
	require.True(t, c.Deprecate(models.ProviderOpenAI, "gpt-4o"))
	assert.False(t, c.IsAvailable(models.ProviderOpenAI, "gpt-4o"))

	// Still resolvable, only unavailable for routing.
	provider, model, err := c.Resolve("openai:gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, provider)
	assert.Equal(t, "gpt-4o", model)

	assert.False(t, c.Deprecate(models.ProviderOpenAI, "no-such-model"))
}

func TestDefaultForTask(t *testing.T) {
	c := New()

	tc, err := c.DefaultForTask(models.TaskChat)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAnthropic, tc.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", tc.Model)

	_, err = c.DefaultForTask("translation")
	assert.True(t, errs.IsNoTaskConfig(err))
}

func TestNewEmpty_HasTerminalFallback(t *testing.T) {
	c := NewEmpty()

	def := c.FallbackModel()
	assert.Equal(t, models.ProviderNone, def.Provider)
	assert.Equal(t, FallbackModelName, def.Name)
	assert.True(t, def.CostFactor().IsZero())
	assert.True(t, c.IsAvailable(models.ProviderNone, FallbackModelName))
}

func TestRecommend_CheapestForTask(t *testing.T) {
	c := New()

	// Summarization seeds gemini plus anthropic/openai fallbacks; the
	// cheapest non-deprecated candidate across them is gemini-2.0-flash.
	def, ok := c.Recommend(RecommendRequest{TaskType: models.TaskSummarization})
	require.True(t, ok)
	assert.Equal(t, "gemini-2.0-flash", def.Name)
}

func TestRecommend_SkipsDeprecated(t *testing.T) {
	c := New()

	// gemini-1.5-flash is cheaper than gemini-2.0-flash but deprecated.
	def, ok := c.Recommend(RecommendRequest{
		AllowedProviders: []models.LLMProvider{models.ProviderGemini},
	})
	require.True(t, ok)
	assert.Equal(t, "gemini-2.0-flash", def.Name)
}

func TestRecommend_CostCap(t *testing.T) {
	c := New()

	def, ok := c.Recommend(RecommendRequest{
		TaskType:     models.TaskChat,
		MaxCostPer1M: decimal.RequireFromString("1.00"),
	})
	require.True(t, ok)
	assert.Equal(t, "gemini-2.0-flash", def.Name)

	_, ok = c.Recommend(RecommendRequest{
		TaskType:     models.TaskChat,
		MaxCostPer1M: decimal.RequireFromString("0.01"),
	})
	assert.False(t, ok, "no real model is that cheap")
}

func TestRecommend_CapabilityFilters(t *testing.T) {
	c := NewEmpty()
	c.Register(models.ModelDefinition{
		Provider: models.ProviderOpenAI, Name: "text-only",
		InputPerMToken: usd("0.10"), OutputPerMToken: usd("0.10"),
	})
	c.Register(models.ModelDefinition{
		Provider: models.ProviderOpenAI, Name: "vision",
		SupportsVision: true,
		InputPerMToken: usd("5.00"), OutputPerMToken: usd("5.00"),
	})

	def, ok := c.Recommend(RecommendRequest{RequiresVision: true})
	require.True(t, ok)
	assert.Equal(t, "vision", def.Name)

	_, ok = c.Recommend(RecommendRequest{RequiresFunctions: true})
	assert.False(t, ok)
}

func TestCheapestFor(t *testing.T) {
	c := New()

	def, ok := c.CheapestFor(models.ProviderAnthropic, decimal.Zero)
	require.True(t, ok)
	assert.Equal(t, "claude-haiku-3-20240307", def.Name)

	// Cap below every anthropic model.
	_, ok = c.CheapestFor(models.ProviderAnthropic, decimal.RequireFromString("1.00"))
	assert.False(t, ok)

	_, ok = c.CheapestFor("mistral", decimal.Zero)
	assert.False(t, ok)
}

func TestRegister_Upsert(t *testing.T) {
	c := NewEmpty()

	c.Register(models.ModelDefinition{
		Provider: models.ProviderOpenAI, Name: "gpt-4o",
		InputPerMToken: usd("2.50"), OutputPerMToken: usd("10.00"),
	})
	c.Register(models.ModelDefinition{
		Provider: models.ProviderOpenAI, Name: "gpt-4o",
		InputPerMToken: usd("2.00"), OutputPerMToken: usd("8.00"),
	})

	def, ok := c.Get(models.ProviderOpenAI, "gpt-4o")
	require.True(t, ok)
	assert.True(t, def.InputPerMToken.Equal(usd("2.00")))
	// One fallback entry plus the upserted model.
	assert.Len(t, c.List(), 2)
}

func TestProviders_ExcludesTerminalFallback(t *testing.T) {
	c := New()

	providers := c.Providers()
	assert.Contains(t, providers, models.ProviderOpenAI)
	assert.Contains(t, providers, models.ProviderAnthropic)
	assert.Contains(t, providers, models.ProviderGemini)
	assert.NotContains(t, providers, models.ProviderNone)
}

func TestParseAliasOverrides(t *testing.T) {
	aliases, err := ParseAliasOverrides("fast=gemini:gemini-2.0-flash;smart=anthropic:claude-opus-4-20250514")
	require.NoError(t, err)
	require.Len(t, aliases, 2)

	c := New()
	c.ApplyAliases(aliases)

	provider, model, err := c.Resolve("fast", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGemini, provider)
	assert.Equal(t, "gemini-2.0-flash", model)
}

func TestParseAliasOverrides_Malformed(t *testing.T) {
	_, err := ParseAliasOverrides("fast=gemini")
	assert.Error(t, err)

	_, err = ParseAliasOverrides("=gemini:gemini-2.0-flash")
	assert.Error(t, err)
}
