package workspace

import (
	"context"
	"sync"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// Repository is the persistence contract for routing configurations, keyed
// by workspace id with "" holding the global default.
type Repository interface {
	Get(ctx context.Context, workspaceID string) (Config, error)
	Save(ctx context.Context, cfg Config) error
	Delete(ctx context.Context, workspaceID string) error
	List(ctx context.Context) ([]Config, error)
}

// Store is the versioned configuration store. Saves are serialized so that
// version assignment (previous+1) and creation-time preservation are atomic
// with respect to concurrent writers.
type Store struct {
	repo         Repository
	defaultTasks []models.TaskModelConfig

	mu sync.Mutex // serializes Save/Reset version assignment
}

// NewStore creates a store over repo. defaultTasks seeds the global default
// snapshot produced by Reset and by Get fallback when no global exists.
func NewStore(repo Repository, defaultTasks []models.TaskModelConfig) *Store {
	return &Store{repo: repo, defaultTasks: defaultTasks}
}

// Get returns the workspace snapshot; when absent and fallbackToGlobal is
// set it returns the global snapshot instead, else a NotFoundError. An empty
// workspace id always resolves to the global snapshot, seeding it on first
// access.
func (s *Store) Get(ctx context.Context, workspaceID string, fallbackToGlobal bool) (Config, error) {
	if workspaceID == "" {
		return s.GetGlobal(ctx)
	}
	cfg, err := s.repo.Get(ctx, workspaceID)
	if err == nil {
		return cfg, nil
	}
	if !errs.IsNotFound(err) {
		return Config{}, err
	}
	if fallbackToGlobal {
		return s.GetGlobal(ctx)
	}
	return Config{}, err
}

// GetGlobal returns the global snapshot, creating the default one on first
// access.
func (s *Store) GetGlobal(ctx context.Context) (Config, error) {
	cfg, err := s.repo.Get(ctx, "")
	if err == nil {
		return cfg, nil
	}
	if !errs.IsNotFound(err) {
		return Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock: another caller may have seeded it.
	if cfg, err := s.repo.Get(ctx, ""); err == nil {
		return cfg, nil
	}
	def := NewGlobalDefault(s.defaultTasks)
	if err := s.repo.Save(ctx, def); err != nil {
		return Config{}, err
	}
	return def, nil
}

// Save persists cfg as the next version for its workspace: version becomes
// previous+1 and the original creation timestamp is preserved on overwrite.
func (s *Store) Save(ctx context.Context, cfg Config) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.repo.Get(ctx, cfg.WorkspaceID)
	switch {
	case err == nil:
		cfg.Version = prev.Version + 1
		cfg.CreatedAt = prev.CreatedAt
	case errs.IsNotFound(err):
		if cfg.Version == 0 {
			cfg.Version = 1
		}
	default:
		return Config{}, err
	}

	if cfg.WorkspaceID == "" {
		cfg.Scope = ScopeGlobal
	} else {
		cfg.Scope = ScopeWorkspace
	}

	if err := s.repo.Save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Reset replaces the workspace's configuration with a fresh default: the
// global default carries one rule per task type, a workspace default is
// empty (inherit global).
func (s *Store) Reset(ctx context.Context, workspaceID string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var def Config
	if workspaceID == "" {
		def = NewGlobalDefault(s.defaultTasks)
	} else {
		def = NewWorkspaceDefault(workspaceID)
	}

	if err := s.repo.Save(ctx, def); err != nil {
		return Config{}, err
	}
	return def, nil
}

// Delete removes a workspace's configuration.
func (s *Store) Delete(ctx context.Context, workspaceID string) error {
	return s.repo.Delete(ctx, workspaceID)
}

// List returns every stored snapshot, global included.
func (s *Store) List(ctx context.Context) ([]Config, error) {
	return s.repo.List(ctx)
}
