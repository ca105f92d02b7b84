package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/alerts"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/workspace"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

var usageBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func record(t *testing.T, id string, provider models.LLMProvider, workspaceID string, age time.Duration, tokens int64, success bool) models.TokenUsage {
	t.Helper()
	u, err := models.NewTokenUsage(models.TokenUsageParams{
		ID:             id,
		Timestamp:      usageBase.Add(-age),
		Provider:       provider,
		Model:          "m",
		InputTokens:    tokens,
		InputPerMToken: decimal.RequireFromString("1.00"),
		WorkspaceID:    workspaceID,
		Success:        success,
	})
	require.NoError(t, err)
	return u
}

func seededUsageRepo(t *testing.T) *MemoryUsageRepository {
	t.Helper()
	repo := NewMemoryUsageRepository()
	ctx := context.Background()
	require.NoError(t, repo.SaveBatch(ctx, []models.TokenUsage{
		record(t, "u1", models.ProviderOpenAI, "ws-1", 3*time.Hour, 100, true),
		record(t, "u2", models.ProviderAnthropic, "ws-1", 2*time.Hour, 2000, true),
		record(t, "u3", models.ProviderOpenAI, "ws-2", time.Hour, 500, false),
		record(t, "u4", models.ProviderGemini, "ws-2", 30*time.Minute, 50, true),
	}))
	return repo
}

func ids(us []models.TokenUsage) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.ID
	}
	return out
}

func TestMemoryUsage_QueryNewestFirst(t *testing.T) {
	repo := seededUsageRepo(t)

	got, err := repo.Query(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u4", "u3", "u2", "u1"}, ids(got))
}

func TestMemoryUsage_QueryFilters(t *testing.T) {
	repo := seededUsageRepo(t)
	ctx := context.Background()

	got, err := repo.Query(ctx, ledger.Filter{Provider: models.ProviderOpenAI})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u1"}, ids(got))

	got, err = repo.Query(ctx, ledger.Filter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1"}, ids(got))

	got, err = repo.Query(ctx, ledger.Filter{SuccessOnly: true, MinTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1"}, ids(got))

	got, err = repo.Query(ctx, ledger.Filter{
		From: usageBase.Add(-2 * time.Hour),
		To:   usageBase.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u2"}, ids(got))
}

func TestMemoryUsage_QueryOffsetAndLimit(t *testing.T) {
	repo := seededUsageRepo(t)
	ctx := context.Background()

	got, err := repo.Query(ctx, ledger.Filter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u2"}, ids(got))

	got, err = repo.Query(ctx, ledger.Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryUsage_SaveDedupsById(t *testing.T) {
	repo := seededUsageRepo(t)
	ctx := context.Background()

	updated := record(t, "u1", models.ProviderOpenAI, "ws-1", 3*time.Hour, 999, true)
	require.NoError(t, repo.Save(ctx, updated))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(999), got.TotalTokens)
}

func TestMemoryUsage_GetNotFound(t *testing.T) {
	repo := NewMemoryUsageRepository()
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestMemoryUsage_Stats(t *testing.T) {
	repo := seededUsageRepo(t)

	stats, err := repo.Stats(context.Background(), ledger.Filter{WorkspaceID: "ws-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(550), stats.TotalTokens)
}

func TestMemoryUsage_DeleteOlderThan(t *testing.T) {
	repo := seededUsageRepo(t)
	ctx := context.Background()

	removed, err := repo.DeleteOlderThan(ctx, usageBase.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := repo.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u4", "u3"}, ids(got))

	_, err = repo.Get(ctx, "u1")
	assert.True(t, errs.IsNotFound(err))
}

func TestMemoryConfig_RoundTrip(t *testing.T) {
	repo := NewMemoryConfigRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "ws-1")
	assert.True(t, errs.IsNotFound(err))

	require.NoError(t, repo.Save(ctx, workspace.NewWorkspaceDefault("ws-1")))
	require.NoError(t, repo.Save(ctx, workspace.NewGlobalDefault(nil)))

	got, err := repo.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, workspace.ScopeWorkspace, got.Scope)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered by workspace id, global ("") first.
	assert.Equal(t, workspace.ScopeGlobal, all[0].Scope)

	require.NoError(t, repo.Delete(ctx, "ws-1"))
	assert.True(t, errs.IsNotFound(repo.Delete(ctx, "ws-1")))
}

func alertConfig(t *testing.T, id, workspaceID, userID string, enabled bool) models.BudgetAlertConfig {
	t.Helper()
	cfg, err := models.NewBudgetAlertConfig(models.BudgetAlertParams{
		ID:            id,
		Name:          id,
		ThresholdType: models.ThresholdCost,
		Threshold:     decimal.NewFromInt(10),
		WorkspaceID:   workspaceID,
		UserID:        userID,
		Enabled:       enabled,
	})
	require.NoError(t, err)
	return cfg
}

func TestMemoryAlert_ListConfigsScopeMatching(t *testing.T) {
	repo := NewMemoryAlertRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveConfig(ctx, alertConfig(t, "global", "", "", true)))
	require.NoError(t, repo.SaveConfig(ctx, alertConfig(t, "ws1", "ws-1", "", true)))
	require.NoError(t, repo.SaveConfig(ctx, alertConfig(t, "ws2-user", "ws-2", "user-9", true)))
	require.NoError(t, repo.SaveConfig(ctx, alertConfig(t, "disabled", "", "", false)))

	got, err := repo.ListConfigs(ctx, alerts.ConfigFilter{WorkspaceID: "ws-1", EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "global", got[0].ID)
	assert.Equal(t, "ws1", got[1].ID)

	got, err = repo.ListConfigs(ctx, alerts.ConfigFilter{WorkspaceID: "ws-2", UserID: "user-9", EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ws2-user", got[1].ID)

	// Without EnabledOnly the disabled alert shows up too.
	got, err = repo.ListConfigs(ctx, alerts.ConfigFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2) // global + disabled: scoped alerts need a matching filter

	// ListAll ignores scope matching and returns scoped alerts as well.
	got, err = repo.ListConfigs(ctx, alerts.ConfigFilter{EnabledOnly: true, ListAll: true})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "global", got[0].ID)
	assert.Equal(t, "ws1", got[1].ID)
	assert.Equal(t, "ws2-user", got[2].ID)
}

func TestMemoryAlert_DeleteConfigRemovesState(t *testing.T) {
	repo := NewMemoryAlertRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveConfig(ctx, alertConfig(t, "a1", "", "", true)))
	state := models.NewBudgetAlertState("a1")
	state.MarkTriggered(time.Now(), true)
	require.NoError(t, repo.SaveState(ctx, state))

	require.NoError(t, repo.DeleteConfig(ctx, "a1"))
	_, err := repo.GetConfig(ctx, "a1")
	assert.True(t, errs.IsNotFound(err))
	_, err = repo.GetState(ctx, "a1")
	assert.True(t, errs.IsNotFound(err))
}

func TestMemoryAlert_ListEvents(t *testing.T) {
	repo := NewMemoryAlertRepository()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, alertID := range []string{"a1", "a2", "a1"} {
		require.NoError(t, repo.LogEvent(ctx, models.AlertTriggeredEvent{
			ID:        string(rune('e' + i)),
			AlertID:   alertID,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := repo.ListEvents(ctx, alerts.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(2*time.Hour), got[0].Timestamp)

	got, err = repo.ListEvents(ctx, alerts.EventFilter{AlertID: "a1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(2*time.Hour), got[0].Timestamp)
}
