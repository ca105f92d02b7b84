package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
)

func TestCostFor(t *testing.T) {
	// 2M input tokens at $2.50/1M plus 1M output tokens at $10.00/1M.
	input := CostFor(2_000_000, decimal.RequireFromString("2.50"))
	output := CostFor(1_000_000, decimal.RequireFromString("10.00"))

	assert.True(t, input.Equal(decimal.RequireFromString("5")), "input cost = %s", input)
	assert.True(t, output.Equal(decimal.RequireFromString("10")), "output cost = %s", output)
	assert.True(t, input.Add(output).Equal(decimal.RequireFromString("15")))
}

func TestCostFor_RoundsHalfUpAtSixDigits(t *testing.T) {
	// 1 token at $0.75/1M is 0.00000075, which rounds up to 0.000001.
	got := CostFor(1, decimal.RequireFromString("0.75"))
	assert.True(t, got.Equal(decimal.RequireFromString("0.000001")), "got %s", got)

	// 1 token at $0.40/1M is 0.0000004, which rounds down to 0.
	got = CostFor(1, decimal.RequireFromString("0.40"))
	assert.True(t, got.IsZero(), "got %s", got)
}

func TestNewTokenUsage_ComputesTotals(t *testing.T) {
	u, err := NewTokenUsage(TokenUsageParams{
		Provider:        ProviderOpenAI,
		Model:           "gpt-4o",
		InputTokens:     1200,
		OutputTokens:    300,
		InputPerMToken:  decimal.RequireFromString("2.50"),
		OutputPerMToken: decimal.RequireFromString("10.00"),
		LatencyMs:       840,
		Success:         true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.False(t, u.Timestamp.IsZero())
	assert.Equal(t, int64(1500), u.TotalTokens)
	assert.True(t, u.InputCost.Equal(decimal.RequireFromString("0.003")), "input cost = %s", u.InputCost)
	assert.True(t, u.OutputCost.Equal(decimal.RequireFromString("0.003")), "output cost = %s", u.OutputCost)
	assert.True(t, u.TotalCost.Equal(u.InputCost.Add(u.OutputCost)))
	require.NoError(t, u.Validate())
}

func TestNewTokenUsage_PreservesExplicitIDAndTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	u, err := NewTokenUsage(TokenUsageParams{
		ID:        "usage-1",
		Timestamp: ts,
		Provider:  ProviderAnthropic,
		Model:     "claude-sonnet-4-20250514",
	})
	require.NoError(t, err)

	assert.Equal(t, "usage-1", u.ID)
	assert.Equal(t, ts.UTC(), u.Timestamp)
	assert.Equal(t, time.UTC, u.Timestamp.Location())
}

func TestNewTokenUsage_Rejects(t *testing.T) {
	base := TokenUsageParams{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o",
	}

	tests := []struct {
		name   string
		mutate func(*TokenUsageParams)
	}{
		{"negative input tokens", func(p *TokenUsageParams) { p.InputTokens = -1 }},
		{"negative output tokens", func(p *TokenUsageParams) { p.OutputTokens = -1 }},
		{"negative input price", func(p *TokenUsageParams) { p.InputPerMToken = decimal.RequireFromString("-0.01") }},
		{"negative output price", func(p *TokenUsageParams) { p.OutputPerMToken = decimal.RequireFromString("-0.01") }},
		{"negative latency", func(p *TokenUsageParams) { p.LatencyMs = -1 }},
		{"missing provider", func(p *TokenUsageParams) { p.Provider = "" }},
		{"missing model", func(p *TokenUsageParams) { p.Model = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := NewTokenUsage(p)
			assert.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestTokenUsage_ValidateDetectsTampering(t *testing.T) {
	u, err := NewTokenUsage(TokenUsageParams{
		Provider:     ProviderOpenAI,
		Model:        "gpt-4o",
		InputTokens:  100,
		OutputTokens: 50,
	})
	require.NoError(t, err)

	u.TotalTokens = 9999
	assert.True(t, errs.IsValidation(u.Validate()))

	u.TotalTokens = 150
	u.TotalCost = decimal.RequireFromString("42")
	assert.True(t, errs.IsValidation(u.Validate()))
}

func TestStatsFrom(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mk := func(ts time.Time, in, out, latency int64, success bool) TokenUsage {
		u, err := NewTokenUsage(TokenUsageParams{
			Timestamp:       ts,
			Provider:        ProviderGemini,
			Model:           "gemini-2.0-flash",
			InputTokens:     in,
			OutputTokens:    out,
			InputPerMToken:  decimal.RequireFromString("0.10"),
			OutputPerMToken: decimal.RequireFromString("0.40"),
			LatencyMs:       latency,
			Success:         success,
		})
		require.NoError(t, err)
		return u
	}

	s := StatsFrom([]TokenUsage{
		mk(t0.Add(2*time.Hour), 1000, 500, 300, true),
		mk(t0, 2000, 1000, 500, true),
		mk(t0.Add(time.Hour), 500, 0, 100, false),
	})

	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(2), s.Successful)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(3500), s.InputTokens)
	assert.Equal(t, int64(1500), s.OutputTokens)
	assert.Equal(t, int64(5000), s.TotalTokens)
	assert.True(t, s.TotalCost.Equal(s.InputCost.Add(s.OutputCost)))
	assert.Equal(t, t0, s.From)
	assert.Equal(t, t0.Add(2*time.Hour), s.To)
	assert.InDelta(t, 300.0, s.AvgLatencyMs(), 0.001)
}

func TestStatsFrom_Empty(t *testing.T) {
	s := StatsFrom(nil)
	assert.Equal(t, int64(0), s.TotalRequests)
	assert.True(t, s.TotalCost.IsZero())
	assert.True(t, s.From.IsZero())
	assert.Zero(t, s.AvgLatencyMs())
}
