package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// PostgresUsageRepository implements ledger.Repository on PostgreSQL.
type PostgresUsageRepository struct {
	db *DB
}

// NewPostgresUsageRepository wraps a database handle.
func NewPostgresUsageRepository(db *DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

const usageColumns = `id, timestamp, provider, model, input_tokens, output_tokens,
	total_tokens, input_cost, output_cost, total_cost, latency_ms, success,
	error_message, workspace_id, user_id, request_id, metadata`

// Save stores one usage record.
func (r *PostgresUsageRepository) Save(ctx context.Context, u models.TokenUsage) error {
	meta, err := marshalMetadata(u.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Timestamp, u.Provider, u.Model, u.InputTokens, u.OutputTokens,
		u.TotalTokens, u.InputCost, u.OutputCost, u.TotalCost, u.LatencyMs,
		u.Success, u.ErrorMessage, u.WorkspaceID, u.UserID, u.RequestID, meta)
	if err != nil {
		return errs.Repository("save usage", err)
	}
	return nil
}

// SaveBatch stores a batch of records in one round trip.
func (r *PostgresUsageRepository) SaveBatch(ctx context.Context, us []models.TokenUsage) error {
	if len(us) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range us {
		meta, err := marshalMetadata(u.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO usage_records (`+usageColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (id) DO NOTHING
		`, u.ID, u.Timestamp, u.Provider, u.Model, u.InputTokens, u.OutputTokens,
			u.TotalTokens, u.InputCost, u.OutputCost, u.TotalCost, u.LatencyMs,
			u.Success, u.ErrorMessage, u.WorkspaceID, u.UserID, u.RequestID, meta)
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return errs.Repository("save usage batch", err)
	}
	return nil
}

// Get returns the record with the given id.
func (r *PostgresUsageRepository) Get(ctx context.Context, id string) (models.TokenUsage, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+usageColumns+` FROM usage_records WHERE id = $1
	`, id)
	u, err := scanUsage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TokenUsage{}, errs.NotFound("usage record", id)
	}
	if err != nil {
		return models.TokenUsage{}, errs.Repository("get usage", err)
	}
	return u, nil
}

// Query returns filtered records, newest first.
func (r *PostgresUsageRepository) Query(ctx context.Context, f ledger.Filter) ([]models.TokenUsage, error) {
	where, args := usageWhere(f)
	query := `SELECT ` + usageColumns + ` FROM usage_records` + where + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Repository("query usage", err)
	}
	defer rows.Close()

	var results []models.TokenUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, errs.Repository("scan usage", err)
		}
		results = append(results, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Repository("query usage", err)
	}
	return results, nil
}

// Stats aggregates the filtered window in the database.
func (r *PostgresUsageRepository) Stats(ctx context.Context, f ledger.Filter) (models.TokenUsageStats, error) {
	where, args := usageWhere(f)
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(input_cost), 0),
			COALESCE(SUM(output_cost), 0),
			COALESCE(SUM(total_cost), 0),
			COALESCE(SUM(latency_ms), 0),
			MIN(timestamp),
			MAX(timestamp)
		FROM usage_records` + where

	var stats models.TokenUsageStats
	var from, to sql.NullTime
	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalRequests, &stats.Successful, &stats.Failed,
		&stats.InputTokens, &stats.OutputTokens, &stats.TotalTokens,
		&stats.InputCost, &stats.OutputCost, &stats.TotalCost,
		&stats.TotalLatencyMs, &from, &to,
	)
	if err != nil {
		return models.TokenUsageStats{}, errs.Repository("usage stats", err)
	}
	if from.Valid {
		stats.From = from.Time
	}
	if to.Valid {
		stats.To = to.Time
	}
	return stats, nil
}

// DeleteOlderThan removes records with timestamps before cutoff.
func (r *PostgresUsageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM usage_records WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, errs.Repository("delete usage", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of stored records.
func (r *PostgresUsageRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM usage_records`).Scan(&n); err != nil {
		return 0, errs.Repository("count usage", err)
	}
	return n, nil
}

// usageWhere builds the WHERE clause for a filter. Offset and Limit are the
// caller's concern.
func usageWhere(f ledger.Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Provider != "" {
		add("provider = $%d", f.Provider)
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.WorkspaceID != "" {
		add("workspace_id = $%d", f.WorkspaceID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}
	if f.SuccessOnly {
		clauses = append(clauses, "success")
	}
	if f.MinTokens > 0 {
		add("total_tokens >= $%d", f.MinTokens)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanUsage(row pgx.Row) (models.TokenUsage, error) {
	var u models.TokenUsage
	var meta []byte
	err := row.Scan(
		&u.ID, &u.Timestamp, &u.Provider, &u.Model, &u.InputTokens, &u.OutputTokens,
		&u.TotalTokens, &u.InputCost, &u.OutputCost, &u.TotalCost, &u.LatencyMs,
		&u.Success, &u.ErrorMessage, &u.WorkspaceID, &u.UserID, &u.RequestID, &meta,
	)
	if err != nil {
		return models.TokenUsage{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return models.TokenUsage{}, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return u, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}
