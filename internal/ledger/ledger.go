// Package ledger implements the append-only token usage log: per-call
// records with two write modes (immediate or buffered batch persistence),
// a filtered query surface, windowed aggregation, and retention trimming.
package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// Filter narrows queries and aggregations over usage records.
// Zero values leave the corresponding predicate unapplied.
type Filter struct {
	Provider    models.LLMProvider
	Model       string
	WorkspaceID string
	UserID      string
	From        time.Time
	To          time.Time
	SuccessOnly bool
	MinTokens   int64
	Offset      int
	Limit       int
}

// Repository is the persistence contract for usage records. Query results
// are newest-first.
type Repository interface {
	Save(ctx context.Context, u models.TokenUsage) error
	SaveBatch(ctx context.Context, us []models.TokenUsage) error
	Get(ctx context.Context, id string) (models.TokenUsage, error)
	Query(ctx context.Context, f Filter) ([]models.TokenUsage, error)
	Stats(ctx context.Context, f Filter) (models.TokenUsageStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Hook observes each accepted usage record; the alert engine registers one
// for per-event threshold evaluation.
type Hook func(ctx context.Context, u models.TokenUsage)

// Options configures the ledger's write path.
type Options struct {
	// Buffered enables batch persistence; records accumulate until
	// BatchSize is reached or FlushInterval elapses. When false every
	// record is persisted immediately.
	Buffered      bool
	BatchSize     int           // default 50
	FlushInterval time.Duration // default 5s
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	return o
}

// Ledger is the append-only usage log. Writes are at-least-once in buffered
// mode: a failed batch flush returns its records to the pending buffer, so
// non-idempotent stores should treat record ids as a dedup key.
type Ledger struct {
	repo   Repository
	opts   Options
	logger *zap.Logger

	hooksMu sync.RWMutex
	hooks   []Hook

	mu      sync.Mutex
	pending []models.TokenUsage

	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// New creates a ledger over repo. A nil logger is replaced with a no-op one.
// In buffered mode a background flusher runs until Close.
func New(repo Repository, opts Options, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		repo:   repo,
		opts:   opts.withDefaults(),
		logger: logger,
		done:   make(chan struct{}),
	}
	if l.opts.Buffered {
		l.wg.Add(1)
		go l.flushLoop()
	}
	return l
}

// AddHook registers a per-record observer invoked synchronously on Record.
func (l *Ledger) AddHook(h Hook) {
	l.hooksMu.Lock()
	l.hooks = append(l.hooks, h)
	l.hooksMu.Unlock()
}

// Record appends a usage record. In immediate mode it persists before
// returning; in buffered mode it enqueues and flushes once the batch size
// is reached. Hooks run after the record is accepted.
func (l *Ledger) Record(ctx context.Context, u models.TokenUsage) error {
	if err := u.Validate(); err != nil {
		return err
	}

	if !l.opts.Buffered {
		if err := l.repo.Save(ctx, u); err != nil {
			return err
		}
		l.runHooks(ctx, u)
		return nil
	}

	l.mu.Lock()
	l.pending = append(l.pending, u)
	full := len(l.pending) >= l.opts.BatchSize
	l.mu.Unlock()

	if full {
		l.Flush(ctx)
	}
	l.runHooks(ctx, u)
	return nil
}

// Flush persists any pending buffered records. On failure the records are
// returned to the front of the buffer for the next attempt.
func (l *Ledger) Flush(ctx context.Context) {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := l.repo.SaveBatch(ctx, batch); err != nil {
		l.logger.Warn("usage batch flush failed, re-buffering",
			zap.Int("records", len(batch)), zap.Error(err))
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return
	}
	l.logger.Debug("usage batch flushed", zap.Int("records", len(batch)))
}

// Pending returns the number of buffered records awaiting flush.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Close stops the background flusher and synchronously flushes any
// remaining buffered records.
func (l *Ledger) Close() {
	l.closed.Do(func() {
		close(l.done)
	})
	l.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l.Flush(ctx)
}

// Get returns the usage record with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (models.TokenUsage, error) {
	return l.repo.Get(ctx, id)
}

// Query returns filtered records, newest first, honoring offset and limit.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]models.TokenUsage, error) {
	return l.repo.Query(ctx, f)
}

// Stats aggregates the filtered window into TokenUsageStats.
func (l *Ledger) Stats(ctx context.Context, f Filter) (models.TokenUsageStats, error) {
	return l.repo.Stats(ctx, f)
}

// DeleteOlderThan trims records older than cutoff, returning the count
// removed.
func (l *Ledger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return l.repo.DeleteOlderThan(ctx, cutoff)
}

// Count returns the total number of persisted records.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	return l.repo.Count(ctx)
}

func (l *Ledger) runHooks(ctx context.Context, u models.TokenUsage) {
	l.hooksMu.RLock()
	hooks := l.hooks
	l.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, u)
	}
}

// flushLoop is the best-effort periodic flusher, cancelled cleanly on Close.
func (l *Ledger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			l.Flush(ctx)
			cancel()
		}
	}
}
