package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

type fakeUsageRepo struct {
	mu       sync.Mutex
	saved    []models.TokenUsage
	failNext bool
}

func (r *fakeUsageRepo) Save(_ context.Context, u models.TokenUsage) error {
	return r.SaveBatch(nil, []models.TokenUsage{u})
}

func (r *fakeUsageRepo) SaveBatch(_ context.Context, us []models.TokenUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return errors.New("store unavailable")
	}
	r.saved = append(r.saved, us...)
	return nil
}

func (r *fakeUsageRepo) Get(_ context.Context, id string) (models.TokenUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.saved {
		if u.ID == id {
			return u, nil
		}
	}
	return models.TokenUsage{}, errs.NotFound("usage record", id)
}

func (r *fakeUsageRepo) Query(_ context.Context, _ Filter) ([]models.TokenUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TokenUsage(nil), r.saved...), nil
}

func (r *fakeUsageRepo) Stats(_ context.Context, _ Filter) (models.TokenUsageStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.StatsFrom(r.saved), nil
}

func (r *fakeUsageRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []models.TokenUsage
	var removed int64
	for _, u := range r.saved {
		if u.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	r.saved = kept
	return removed, nil
}

func (r *fakeUsageRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.saved)), nil
}

func (r *fakeUsageRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func usageRecord(t *testing.T, id string) models.TokenUsage {
	t.Helper()
	u, err := models.NewTokenUsage(models.TokenUsageParams{
		ID:              id,
		Provider:        models.ProviderOpenAI,
		Model:           "gpt-4o-mini",
		InputTokens:     100,
		OutputTokens:    20,
		InputPerMToken:  decimal.RequireFromString("0.15"),
		OutputPerMToken: decimal.RequireFromString("0.60"),
		Success:         true,
	})
	require.NoError(t, err)
	return u
}

func TestRecord_ImmediateMode(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{Buffered: false}, nil)
	defer l.Close()

	require.NoError(t, l.Record(context.Background(), usageRecord(t, "u1")))
	assert.Equal(t, 1, repo.savedCount())
	assert.Zero(t, l.Pending())
}

func TestRecord_RejectsInvalidRecord(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{}, nil)
	defer l.Close()

	u := usageRecord(t, "u1")
	u.TotalTokens = 1 // break the sum invariant
	err := l.Record(context.Background(), u)
	assert.True(t, errs.IsValidation(err), "got %v", err)
	assert.Zero(t, repo.savedCount())
}

func TestRecord_BufferedFlushesAtBatchSize(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{Buffered: true, BatchSize: 3, FlushInterval: time.Hour}, nil)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, usageRecord(t, "u1")))
	require.NoError(t, l.Record(ctx, usageRecord(t, "u2")))
	assert.Zero(t, repo.savedCount())
	assert.Equal(t, 2, l.Pending())

	require.NoError(t, l.Record(ctx, usageRecord(t, "u3")))
	assert.Equal(t, 3, repo.savedCount())
	assert.Zero(t, l.Pending())
}

func TestFlush_FailureRebuffers(t *testing.T) {
	repo := &fakeUsageRepo{failNext: true}
	l := New(repo, Options{Buffered: true, BatchSize: 100, FlushInterval: time.Hour}, nil)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, usageRecord(t, "u1")))
	require.NoError(t, l.Record(ctx, usageRecord(t, "u2")))

	l.Flush(ctx)
	assert.Zero(t, repo.savedCount())
	assert.Equal(t, 2, l.Pending())

	// The next flush retries the same records.
	l.Flush(ctx)
	assert.Equal(t, 2, repo.savedCount())
	assert.Zero(t, l.Pending())
}

func TestClose_DrainsBuffer(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{Buffered: true, BatchSize: 100, FlushInterval: time.Hour}, nil)

	require.NoError(t, l.Record(context.Background(), usageRecord(t, "u1")))
	assert.Zero(t, repo.savedCount())

	l.Close()
	assert.Equal(t, 1, repo.savedCount())

	// Close is idempotent.
	l.Close()
}

func TestHooksFireOnAcceptedRecords(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{Buffered: true, BatchSize: 100, FlushInterval: time.Hour}, nil)
	defer l.Close()

	var seen []string
	l.AddHook(func(_ context.Context, u models.TokenUsage) {
		seen = append(seen, u.ID)
	})

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, usageRecord(t, "u1")))

	bad := usageRecord(t, "u2")
	bad.TotalCost = decimal.RequireFromString("999")
	require.Error(t, l.Record(ctx, bad))

	assert.Equal(t, []string{"u1"}, seen)
}

func TestPeriodicFlush(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{Buffered: true, BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)
	defer l.Close()

	require.NoError(t, l.Record(context.Background(), usageRecord(t, "u1")))

	assert.Eventually(t, func() bool {
		return repo.savedCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueryAndStatsDelegate(t *testing.T) {
	repo := &fakeUsageRepo{}
	l := New(repo, Options{}, nil)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, usageRecord(t, "u1")))
	require.NoError(t, l.Record(ctx, usageRecord(t, "u2")))

	got, err := l.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)

	records, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	stats, err := l.Stats(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
