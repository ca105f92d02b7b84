package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/alerts"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// PostgresAlertRepository implements alerts.Repository on PostgreSQL.
type PostgresAlertRepository struct {
	db *DB
}

// NewPostgresAlertRepository wraps a database handle.
func NewPostgresAlertRepository(db *DB) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db}
}

const alertColumns = `id, name, threshold_type, threshold, operator, severity,
	frequency, window_ns, workspace_id, user_id, provider, model, enabled,
	cooldown_ns, created_at`

// SaveConfig upserts an alert definition.
func (r *PostgresAlertRepository) SaveConfig(ctx context.Context, cfg models.BudgetAlertConfig) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO budget_alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    threshold_type = EXCLUDED.threshold_type,
		    threshold = EXCLUDED.threshold,
		    operator = EXCLUDED.operator,
		    severity = EXCLUDED.severity,
		    frequency = EXCLUDED.frequency,
		    window_ns = EXCLUDED.window_ns,
		    workspace_id = EXCLUDED.workspace_id,
		    user_id = EXCLUDED.user_id,
		    provider = EXCLUDED.provider,
		    model = EXCLUDED.model,
		    enabled = EXCLUDED.enabled,
		    cooldown_ns = EXCLUDED.cooldown_ns
	`, cfg.ID, cfg.Name, cfg.ThresholdType, cfg.Threshold, cfg.Operator,
		cfg.Severity, cfg.Frequency, int64(cfg.Window), cfg.WorkspaceID,
		cfg.UserID, cfg.Provider, cfg.Model, cfg.Enabled, int64(cfg.Cooldown),
		cfg.CreatedAt)
	if err != nil {
		return errs.Repository("save alert", err)
	}
	return nil
}

// GetConfig returns the alert definition with the given id.
func (r *PostgresAlertRepository) GetConfig(ctx context.Context, id string) (models.BudgetAlertConfig, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM budget_alerts WHERE id = $1
	`, id)
	cfg, err := scanAlertConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BudgetAlertConfig{}, errs.NotFound("alert", id)
	}
	if err != nil {
		return models.BudgetAlertConfig{}, errs.Repository("get alert", err)
	}
	return cfg, nil
}

// ListConfigs returns alerts matching the filter. An alert scoped to a
// workspace or user only matches that exact value; an unscoped alert matches
// everything. ListAll bypasses scope matching altogether.
func (r *PostgresAlertRepository) ListConfigs(ctx context.Context, f alerts.ConfigFilter) ([]models.BudgetAlertConfig, error) {
	query := `SELECT ` + alertColumns + ` FROM budget_alerts WHERE true`
	var args []interface{}
	if !f.ListAll {
		query += `
		  AND (workspace_id = '' OR workspace_id = $1)
		  AND (user_id = '' OR user_id = $2)`
		args = append(args, f.WorkspaceID, f.UserID)
	}
	if f.EnabledOnly {
		query += ` AND enabled`
	}
	query += ` ORDER BY id`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Repository("list alerts", err)
	}
	defer rows.Close()

	var results []models.BudgetAlertConfig
	for rows.Next() {
		cfg, err := scanAlertConfig(rows)
		if err != nil {
			return nil, errs.Repository("scan alert", err)
		}
		results = append(results, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Repository("list alerts", err)
	}
	return results, nil
}

// DeleteConfig removes an alert definition; its state row cascades.
func (r *PostgresAlertRepository) DeleteConfig(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM budget_alerts WHERE id = $1`, id)
	if err != nil {
		return errs.Repository("delete alert", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("alert", id)
	}
	return nil
}

// GetState returns the trigger state for an alert.
func (r *PostgresAlertRepository) GetState(ctx context.Context, alertID string) (models.BudgetAlertState, error) {
	var state models.BudgetAlertState
	var triggered, notified sql.NullTime
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, alert_id, last_triggered, last_notified, trigger_count, notify_count
		FROM alert_states WHERE alert_id = $1
	`, alertID).Scan(&state.ID, &state.AlertID, &triggered, &notified,
		&state.TriggerCount, &state.NotifyCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BudgetAlertState{}, errs.NotFound("alert state", alertID)
	}
	if err != nil {
		return models.BudgetAlertState{}, errs.Repository("get alert state", err)
	}
	if triggered.Valid {
		state.LastTriggered = triggered.Time
	}
	if notified.Valid {
		state.LastNotified = notified.Time
	}
	return state, nil
}

// SaveState upserts the trigger state for an alert.
func (r *PostgresAlertRepository) SaveState(ctx context.Context, state models.BudgetAlertState) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO alert_states (alert_id, id, last_triggered, last_notified, trigger_count, notify_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id) DO UPDATE
		SET last_triggered = EXCLUDED.last_triggered,
		    last_notified = EXCLUDED.last_notified,
		    trigger_count = EXCLUDED.trigger_count,
		    notify_count = EXCLUDED.notify_count
	`, state.AlertID, state.ID, nullTime(state.LastTriggered), nullTime(state.LastNotified),
		state.TriggerCount, state.NotifyCount)
	if err != nil {
		return errs.Repository("save alert state", err)
	}
	return nil
}

// LogEvent appends a triggered event.
func (r *PostgresAlertRepository) LogEvent(ctx context.Context, ev models.AlertTriggeredEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO alert_events (
			id, alert_id, threshold_type, observed, threshold, severity,
			message, workspace_id, user_id, timestamp, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, ev.ID, ev.AlertID, ev.ThresholdType, ev.Observed, ev.Threshold,
		ev.Severity, ev.Message, ev.WorkspaceID, ev.UserID, ev.Timestamp, meta)
	if err != nil {
		return errs.Repository("log alert event", err)
	}
	return nil
}

// ListEvents returns triggered events matching the filter, newest first.
func (r *PostgresAlertRepository) ListEvents(ctx context.Context, f alerts.EventFilter) ([]models.AlertTriggeredEvent, error) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.AlertID != "" {
		add("alert_id = $%d", f.AlertID)
	}
	if f.WorkspaceID != "" {
		add("workspace_id = $%d", f.WorkspaceID)
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}

	query := `SELECT id, alert_id, threshold_type, observed, threshold, severity,
		message, workspace_id, user_id, timestamp, metadata FROM alert_events`
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Repository("list alert events", err)
	}
	defer rows.Close()

	var results []models.AlertTriggeredEvent
	for rows.Next() {
		var ev models.AlertTriggeredEvent
		var meta []byte
		if err := rows.Scan(
			&ev.ID, &ev.AlertID, &ev.ThresholdType, &ev.Observed, &ev.Threshold,
			&ev.Severity, &ev.Message, &ev.WorkspaceID, &ev.UserID, &ev.Timestamp, &meta,
		); err != nil {
			return nil, errs.Repository("scan alert event", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decoding event metadata: %w", err)
			}
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Repository("list alert events", err)
	}
	return results, nil
}

func scanAlertConfig(row pgx.Row) (models.BudgetAlertConfig, error) {
	var cfg models.BudgetAlertConfig
	var window, cooldown int64
	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.ThresholdType, &cfg.Threshold, &cfg.Operator,
		&cfg.Severity, &cfg.Frequency, &window, &cfg.WorkspaceID, &cfg.UserID,
		&cfg.Provider, &cfg.Model, &cfg.Enabled, &cooldown, &cfg.CreatedAt,
	)
	if err != nil {
		return models.BudgetAlertConfig{}, err
	}
	cfg.Window = time.Duration(window)
	cfg.Cooldown = time.Duration(cooldown)
	return cfg, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
