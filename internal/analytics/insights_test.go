package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/catalog"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

type fakeUsage struct {
	records []models.TokenUsage
}

func (s *fakeUsage) Query(_ context.Context, f ledger.Filter) ([]models.TokenUsage, error) {
	var out []models.TokenUsage
	for _, u := range s.records {
		if !f.From.IsZero() && u.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && u.Timestamp.After(f.To) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeUsage) Stats(ctx context.Context, f ledger.Filter) (models.TokenUsageStats, error) {
	records, err := s.Query(ctx, f)
	if err != nil {
		return models.TokenUsageStats{}, err
	}
	return models.StatsFrom(records), nil
}

var analyticsNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestAnalytics(records []models.TokenUsage) *Engine {
	e := NewEngine(&fakeUsage{records: records}, catalog.New())
	e.now = func() time.Time { return analyticsNow }
	return e
}

// spendRecord builds a usage record whose total cost in dollars equals cost
// (priced at $1.00 per 1M input tokens).
func spendRecord(t *testing.T, workspaceID string, ts time.Time, cost int64) models.TokenUsage {
	t.Helper()
	u, err := models.NewTokenUsage(models.TokenUsageParams{
		Timestamp:      ts,
		Provider:       models.ProviderOpenAI,
		Model:          "gpt-4o",
		InputTokens:    cost * 1_000_000,
		InputPerMToken: decimal.RequireFromString("1.00"),
		WorkspaceID:    workspaceID,
		Success:        true,
	})
	require.NoError(t, err)
	return u
}

func TestDetectSpikes(t *testing.T) {
	var records []models.TokenUsage
	// Seven quiet days at $1/day, then a $5 day.
	for i := 8; i >= 2; i-- {
		records = append(records, spendRecord(t, "ws-1", analyticsNow.AddDate(0, 0, -i), 1))
	}
	records = append(records, spendRecord(t, "ws-1", analyticsNow.AddDate(0, 0, -1), 5))

	insights, err := newTestAnalytics(records).DetectSpikes(context.Background())
	require.NoError(t, err)
	require.Len(t, insights, 1)

	in := insights[0]
	assert.Equal(t, InsightCostSpike, in.Type)
	assert.Equal(t, models.SeverityWarning, in.Severity)
	assert.Equal(t, "ws-1", in.AffectedEntity)
	assert.True(t, in.EstimatedSaving.Equal(decimal.NewFromInt(4)), "saving %s", in.EstimatedSaving)
}

func TestDetectSpikes_CriticalAboveFiveTimes(t *testing.T) {
	var records []models.TokenUsage
	for i := 8; i >= 2; i-- {
		records = append(records, spendRecord(t, "ws-1", analyticsNow.AddDate(0, 0, -i), 1))
	}
	records = append(records, spendRecord(t, "ws-1", analyticsNow.AddDate(0, 0, -1), 6))

	insights, err := newTestAnalytics(records).DetectSpikes(context.Background())
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, models.SeverityCritical, insights[0].Severity)
}

func TestDetectSpikes_SteadySpendIsQuiet(t *testing.T) {
	var records []models.TokenUsage
	for i := 8; i >= 1; i-- {
		records = append(records, spendRecord(t, "ws-1", analyticsNow.AddDate(0, 0, -i), 2))
	}

	insights, err := newTestAnalytics(records).DetectSpikes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestRecommendModelSwitches(t *testing.T) {
	// $2 on gpt-4o this week; gpt-4o-mini is the cheaper in-provider option.
	mk := func(model string, priceIn string, tokens int64) models.TokenUsage {
		u, err := models.NewTokenUsage(models.TokenUsageParams{
			Timestamp:      analyticsNow.AddDate(0, 0, -1),
			Provider:       models.ProviderOpenAI,
			Model:          model,
			InputTokens:    tokens,
			InputPerMToken: decimal.RequireFromString(priceIn),
			Success:        true,
		})
		require.NoError(t, err)
		return u
	}

	insights, err := newTestAnalytics([]models.TokenUsage{
		mk("gpt-4o", "2.50", 800_000),     // $2.00: above the floor
		mk("gpt-4o-mini", "0.15", 10_000), // already the cheapest
	}).RecommendModelSwitches(context.Background())
	require.NoError(t, err)
	require.Len(t, insights, 1)

	in := insights[0]
	assert.Equal(t, InsightModelSwitch, in.Type)
	assert.Equal(t, "openai:gpt-4o", in.AffectedEntity)
	assert.Contains(t, in.Title, "gpt-4o-mini")
	// Factor ratio: 1 - 0.75/12.50 = 0.94 of $2.00.
	assert.True(t, in.EstimatedSaving.Equal(decimal.RequireFromString("1.88")), "saving %s", in.EstimatedSaving)
}

func TestRecommendModelSwitches_BelowSpendFloor(t *testing.T) {
	u, err := models.NewTokenUsage(models.TokenUsageParams{
		Timestamp:      analyticsNow.AddDate(0, 0, -1),
		Provider:       models.ProviderOpenAI,
		Model:          "gpt-4o",
		InputTokens:    100_000,
		InputPerMToken: decimal.RequireFromString("2.50"), // $0.25
		Success:        true,
	})
	require.NoError(t, err)

	insights, err := newTestAnalytics([]models.TokenUsage{u}).RecommendModelSwitches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestGenerateReport(t *testing.T) {
	records := []models.TokenUsage{
		spendRecord(t, "ws-1", analyticsNow.Add(-2*time.Hour), 1),
		spendRecord(t, "ws-1", analyticsNow.Add(-time.Hour), 2),
	}

	report, err := newTestAnalytics(records).GenerateReport(
		context.Background(), analyticsNow.Add(-24*time.Hour), analyticsNow)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.TotalRequests)
	assert.Equal(t, int64(3_000_000), report.TotalTokens)
	assert.True(t, report.TotalCost.Equal(decimal.NewFromInt(3)), "cost %s", report.TotalCost)
	assert.InDelta(t, 1.0, report.SuccessRate, 0.0001)
}
