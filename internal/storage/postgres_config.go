package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/workspace"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
)

// PostgresConfigRepository implements workspace.Repository on PostgreSQL.
// The full snapshot is stored as JSONB; workspace id, scope, and version are
// lifted into columns for querying.
type PostgresConfigRepository struct {
	db *DB
}

// NewPostgresConfigRepository wraps a database handle.
func NewPostgresConfigRepository(db *DB) *PostgresConfigRepository {
	return &PostgresConfigRepository{db: db}
}

// Get returns the snapshot for workspaceID.
func (r *PostgresConfigRepository) Get(ctx context.Context, workspaceID string) (workspace.Config, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT config FROM routing_configs WHERE workspace_id = $1
	`, workspaceID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return workspace.Config{}, errs.NotFound("workspace config", workspaceID)
	}
	if err != nil {
		return workspace.Config{}, errs.Repository("get routing config", err)
	}
	return decodeConfig(raw)
}

// Save upserts the snapshot under its workspace id.
func (r *PostgresConfigRepository) Save(ctx context.Context, cfg workspace.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding routing config: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO routing_configs (workspace_id, scope, version, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id) DO UPDATE
		SET scope = EXCLUDED.scope,
		    version = EXCLUDED.version,
		    config = EXCLUDED.config,
		    updated_at = EXCLUDED.updated_at
	`, cfg.WorkspaceID, cfg.Scope, cfg.Version, raw, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return errs.Repository("save routing config", err)
	}
	return nil
}

// Delete removes the snapshot for workspaceID.
func (r *PostgresConfigRepository) Delete(ctx context.Context, workspaceID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM routing_configs WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return errs.Repository("delete routing config", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("workspace config", workspaceID)
	}
	return nil
}

// List returns every stored snapshot ordered by workspace id.
func (r *PostgresConfigRepository) List(ctx context.Context) ([]workspace.Config, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT config FROM routing_configs ORDER BY workspace_id`)
	if err != nil {
		return nil, errs.Repository("list routing configs", err)
	}
	defer rows.Close()

	var results []workspace.Config
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Repository("scan routing config", err)
		}
		cfg, err := decodeConfig(raw)
		if err != nil {
			return nil, err
		}
		results = append(results, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Repository("list routing configs", err)
	}
	return results, nil
}

func decodeConfig(raw []byte) (workspace.Config, error) {
	var cfg workspace.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return workspace.Config{}, fmt.Errorf("decoding routing config: %w", err)
	}
	return cfg, nil
}
