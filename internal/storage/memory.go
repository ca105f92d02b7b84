// Package storage provides the persistence adapters behind the engine's
// repository contracts: reference in-memory implementations for testing and
// PostgreSQL implementations for deployment.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/alerts"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/workspace"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// MemoryUsageRepository is the in-memory reference implementation of
// ledger.Repository.
type MemoryUsageRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.TokenUsage
	ordered []models.TokenUsage // append order
}

// NewMemoryUsageRepository creates an empty usage repository.
func NewMemoryUsageRepository() *MemoryUsageRepository {
	return &MemoryUsageRepository{byID: make(map[string]models.TokenUsage)}
}

// Save stores one usage record, overwriting by id.
func (r *MemoryUsageRepository) Save(_ context.Context, u models.TokenUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[u.ID]; !exists {
		r.ordered = append(r.ordered, u)
	}
	r.byID[u.ID] = u
	return nil
}

// SaveBatch stores every record in the batch.
func (r *MemoryUsageRepository) SaveBatch(ctx context.Context, us []models.TokenUsage) error {
	for _, u := range us {
		if err := r.Save(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record with the given id.
func (r *MemoryUsageRepository) Get(_ context.Context, id string) (models.TokenUsage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return models.TokenUsage{}, errs.NotFound("usage record", id)
	}
	return u, nil
}

// Query returns filtered records, newest first, honoring offset and limit.
func (r *MemoryUsageRepository) Query(_ context.Context, f ledger.Filter) ([]models.TokenUsage, error) {
	r.mu.RLock()
	matched := r.filtered(f)
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Stats aggregates the filtered window; offset/limit are ignored.
func (r *MemoryUsageRepository) Stats(_ context.Context, f ledger.Filter) (models.TokenUsageStats, error) {
	r.mu.RLock()
	matched := r.filtered(f)
	r.mu.RUnlock()
	return models.StatsFrom(matched), nil
}

// DeleteOlderThan removes records with timestamps before cutoff.
func (r *MemoryUsageRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []models.TokenUsage
	var removed int64
	for _, u := range r.ordered {
		if u.Timestamp.Before(cutoff) {
			delete(r.byID, u.ID)
			removed++
			continue
		}
		kept = append(kept, u)
	}
	r.ordered = kept
	return removed, nil
}

// Count returns the number of stored records.
func (r *MemoryUsageRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.ordered)), nil
}

// filtered applies every set predicate. Caller holds at least a read lock.
func (r *MemoryUsageRepository) filtered(f ledger.Filter) []models.TokenUsage {
	var out []models.TokenUsage
	for _, u := range r.ordered {
		if f.Provider != "" && u.Provider != f.Provider {
			continue
		}
		if f.Model != "" && u.Model != f.Model {
			continue
		}
		if f.WorkspaceID != "" && u.WorkspaceID != f.WorkspaceID {
			continue
		}
		if f.UserID != "" && u.UserID != f.UserID {
			continue
		}
		if !f.From.IsZero() && u.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && u.Timestamp.After(f.To) {
			continue
		}
		if f.SuccessOnly && !u.Success {
			continue
		}
		if f.MinTokens > 0 && u.TotalTokens < f.MinTokens {
			continue
		}
		out = append(out, u)
	}
	return out
}

// MemoryConfigRepository is the in-memory reference implementation of
// workspace.Repository.
type MemoryConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]workspace.Config // keyed by workspace id, "" = global
}

// NewMemoryConfigRepository creates an empty config repository.
func NewMemoryConfigRepository() *MemoryConfigRepository {
	return &MemoryConfigRepository{configs: make(map[string]workspace.Config)}
}

// Get returns the snapshot for workspaceID.
func (r *MemoryConfigRepository) Get(_ context.Context, workspaceID string) (workspace.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[workspaceID]
	if !ok {
		return workspace.Config{}, errs.NotFound("workspace config", workspaceID)
	}
	return cfg, nil
}

// Save stores the snapshot under its workspace id.
func (r *MemoryConfigRepository) Save(_ context.Context, cfg workspace.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.WorkspaceID] = cfg
	return nil
}

// Delete removes the snapshot for workspaceID.
func (r *MemoryConfigRepository) Delete(_ context.Context, workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[workspaceID]; !ok {
		return errs.NotFound("workspace config", workspaceID)
	}
	delete(r.configs, workspaceID)
	return nil
}

// List returns every stored snapshot ordered by workspace id.
func (r *MemoryConfigRepository) List(_ context.Context) ([]workspace.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]workspace.Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out, nil
}

// MemoryAlertRepository is the in-memory reference implementation of
// alerts.Repository.
type MemoryAlertRepository struct {
	mu      sync.RWMutex
	configs map[string]models.BudgetAlertConfig
	states  map[string]models.BudgetAlertState // keyed by alert id
	events  []models.AlertTriggeredEvent
}

// NewMemoryAlertRepository creates an empty alert repository.
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{
		configs: make(map[string]models.BudgetAlertConfig),
		states:  make(map[string]models.BudgetAlertState),
	}
}

// SaveConfig upserts an alert definition.
func (r *MemoryAlertRepository) SaveConfig(_ context.Context, cfg models.BudgetAlertConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ID] = cfg
	return nil
}

// GetConfig returns the alert definition with the given id.
func (r *MemoryAlertRepository) GetConfig(_ context.Context, id string) (models.BudgetAlertConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return models.BudgetAlertConfig{}, errs.NotFound("alert", id)
	}
	return cfg, nil
}

// ListConfigs returns alerts matching the filter. An alert scoped to a
// workspace or user only matches that exact value; an unscoped alert
// matches everything. ListAll bypasses scope matching altogether.
func (r *MemoryAlertRepository) ListConfigs(_ context.Context, f alerts.ConfigFilter) ([]models.BudgetAlertConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.BudgetAlertConfig
	for _, cfg := range r.configs {
		if f.EnabledOnly && !cfg.Enabled {
			continue
		}
		if !f.ListAll {
			if cfg.WorkspaceID != "" && cfg.WorkspaceID != f.WorkspaceID {
				continue
			}
			if cfg.UserID != "" && cfg.UserID != f.UserID {
				continue
			}
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteConfig removes an alert definition and its state.
func (r *MemoryAlertRepository) DeleteConfig(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[id]; !ok {
		return errs.NotFound("alert", id)
	}
	delete(r.configs, id)
	delete(r.states, id)
	return nil
}

// GetState returns the trigger state for an alert.
func (r *MemoryAlertRepository) GetState(_ context.Context, alertID string) (models.BudgetAlertState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[alertID]
	if !ok {
		return models.BudgetAlertState{}, errs.NotFound("alert state", alertID)
	}
	return state, nil
}

// SaveState upserts the trigger state for an alert.
func (r *MemoryAlertRepository) SaveState(_ context.Context, state models.BudgetAlertState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.AlertID] = state
	return nil
}

// LogEvent appends a triggered event.
func (r *MemoryAlertRepository) LogEvent(_ context.Context, ev models.AlertTriggeredEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// ListEvents returns triggered events matching the filter, newest first.
func (r *MemoryAlertRepository) ListEvents(_ context.Context, f alerts.EventFilter) ([]models.AlertTriggeredEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AlertTriggeredEvent
	for _, ev := range r.events {
		if f.AlertID != "" && ev.AlertID != f.AlertID {
			continue
		}
		if f.WorkspaceID != "" && ev.WorkspaceID != f.WorkspaceID {
			continue
		}
		if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && ev.Timestamp.After(f.To) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
