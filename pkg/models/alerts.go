package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
)

// ThresholdType selects which usage metric a budget alert watches.
type ThresholdType string

const (
	ThresholdCost     ThresholdType = "cost"
	ThresholdTokens   ThresholdType = "tokens"
	ThresholdRequests ThresholdType = "requests"
	ThresholdAPICalls ThresholdType = "api_calls"
)

// ThresholdOperator compares an observed metric against the threshold value.
type ThresholdOperator string

const (
	OpGreaterOrEqual ThresholdOperator = "gte"
	OpGreaterThan    ThresholdOperator = "gt"
	OpLessOrEqual    ThresholdOperator = "lte"
	OpLessThan       ThresholdOperator = "lt"
)

// AlertSeverity ranks the urgency of a triggered alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertFrequency governs how often a breached alert may notify.
type AlertFrequency string

const (
	FrequencyOnce   AlertFrequency = "once"
	FrequencyDaily  AlertFrequency = "daily"
	FrequencyWeekly AlertFrequency = "weekly"
	FrequencyAlways AlertFrequency = "always"
)

// BudgetAlertConfig is the immutable definition of a spend/usage threshold.
// Construct via NewBudgetAlertConfig; values are validated there.
type BudgetAlertConfig struct {
	ID            string            `json:"id" db:"id"`
	Name          string            `json:"name" db:"name"`
	ThresholdType ThresholdType     `json:"threshold_type" db:"threshold_type"`
	Threshold     decimal.Decimal   `json:"threshold" db:"threshold"`
	Operator      ThresholdOperator `json:"operator" db:"operator"`
	Severity      AlertSeverity     `json:"severity" db:"severity"`
	Frequency     AlertFrequency    `json:"frequency" db:"frequency"`
	Window        time.Duration     `json:"window" db:"window"` // aggregation window for periodic checks
	WorkspaceID   string            `json:"workspace_id,omitempty" db:"workspace_id"`
	UserID        string            `json:"user_id,omitempty" db:"user_id"`
	Provider      LLMProvider       `json:"provider,omitempty" db:"provider"`
	Model         string            `json:"model,omitempty" db:"model"`
	Enabled       bool              `json:"enabled" db:"enabled"`
	Cooldown      time.Duration     `json:"cooldown" db:"cooldown"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// BudgetAlertParams carries the inputs for NewBudgetAlertConfig.
type BudgetAlertParams struct {
	ID            string
	Name          string
	ThresholdType ThresholdType
	Threshold     decimal.Decimal
	Operator      ThresholdOperator
	Severity      AlertSeverity
	Frequency     AlertFrequency
	Window        time.Duration
	WorkspaceID   string
	UserID        string
	Provider      LLMProvider
	Model         string
	Enabled       bool
	Cooldown      time.Duration
}

// NewBudgetAlertConfig validates and builds an alert definition. Defaults:
// operator gte, severity warning, frequency always, window 24h.
func NewBudgetAlertConfig(p BudgetAlertParams) (BudgetAlertConfig, error) {
	switch p.ThresholdType {
	case ThresholdCost, ThresholdTokens, ThresholdRequests, ThresholdAPICalls:
	default:
		return BudgetAlertConfig{}, errs.Validation("threshold_type", "unknown threshold type")
	}
	if p.Threshold.IsNegative() {
		return BudgetAlertConfig{}, errs.Validation("threshold", "must be non-negative")
	}
	if p.Window < 0 {
		return BudgetAlertConfig{}, errs.Validation("window", "must be non-negative")
	}
	if p.Cooldown < 0 {
		return BudgetAlertConfig{}, errs.Validation("cooldown", "must be non-negative")
	}

	op := p.Operator
	if op == "" {
		op = OpGreaterOrEqual
	}
	switch op {
	case OpGreaterOrEqual, OpGreaterThan, OpLessOrEqual, OpLessThan:
	default:
		return BudgetAlertConfig{}, errs.Validation("operator", "unknown operator")
	}

	sev := p.Severity
	if sev == "" {
		sev = SeverityWarning
	}
	freq := p.Frequency
	if freq == "" {
		freq = FrequencyAlways
	}
	switch freq {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyAlways:
	default:
		return BudgetAlertConfig{}, errs.Validation("frequency", "unknown frequency")
	}

	window := p.Window
	if window == 0 {
		window = 24 * time.Hour
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	return BudgetAlertConfig{
		ID:            id,
		Name:          p.Name,
		ThresholdType: p.ThresholdType,
		Threshold:     p.Threshold,
		Operator:      op,
		Severity:      sev,
		Frequency:     freq,
		Window:        window,
		WorkspaceID:   p.WorkspaceID,
		UserID:        p.UserID,
		Provider:      p.Provider,
		Model:         p.Model,
		Enabled:       p.Enabled,
		Cooldown:      p.Cooldown,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// BudgetAlertState tracks trigger history for one alert. Mutated only via
// MarkTriggered and Reset; the notification count never exceeds the trigger
// count.
type BudgetAlertState struct {
	ID            string    `json:"id" db:"id"`
	AlertID       string    `json:"alert_id" db:"alert_id"`
	LastTriggered time.Time `json:"last_triggered" db:"last_triggered"`
	LastNotified  time.Time `json:"last_notified" db:"last_notified"`
	TriggerCount  int64     `json:"trigger_count" db:"trigger_count"`
	NotifyCount   int64     `json:"notify_count" db:"notify_count"`
}

// NewBudgetAlertState returns the zero state for an alert.
func NewBudgetAlertState(alertID string) BudgetAlertState {
	return BudgetAlertState{ID: uuid.New().String(), AlertID: alertID}
}

// MarkTriggered records a breach at now, optionally also counting a
// delivered notification.
func (s *BudgetAlertState) MarkTriggered(now time.Time, notified bool) {
	s.LastTriggered = now.UTC()
	s.TriggerCount++
	if notified {
		s.LastNotified = now.UTC()
		s.NotifyCount++
	}
}

// Reset clears all trigger history.
func (s *BudgetAlertState) Reset() {
	s.LastTriggered = time.Time{}
	s.LastNotified = time.Time{}
	s.TriggerCount = 0
	s.NotifyCount = 0
}

// AlertTriggeredEvent is the immutable log record of one alert breach.
type AlertTriggeredEvent struct {
	ID            string            `json:"id" db:"id"`
	AlertID       string            `json:"alert_id" db:"alert_id"`
	ThresholdType ThresholdType     `json:"threshold_type" db:"threshold_type"`
	Observed      decimal.Decimal   `json:"observed" db:"observed"`
	Threshold     decimal.Decimal   `json:"threshold" db:"threshold"`
	Severity      AlertSeverity     `json:"severity" db:"severity"`
	Message       string            `json:"message" db:"message"`
	WorkspaceID   string            `json:"workspace_id,omitempty" db:"workspace_id"`
	UserID        string            `json:"user_id,omitempty" db:"user_id"`
	Timestamp     time.Time         `json:"timestamp" db:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"metadata"`
}
