package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
)

// CostScale is the number of fractional digits costs are rounded to.
const CostScale = 6

var million = decimal.NewFromInt(1_000_000)

// CostFor computes tokens * costPerMillion / 1_000_000, rounded half-up to
// six fractional digits.
func CostFor(tokens int64, costPerMillion decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(costPerMillion).Div(million).Round(CostScale)
}

// TokenUsage is the append-only record of one completed provider call.
// Construct via NewTokenUsage; the sum invariants are enforced there.
type TokenUsage struct {
	ID           string            `json:"id" db:"id"`
	Timestamp    time.Time         `json:"timestamp" db:"timestamp"`
	Provider     LLMProvider       `json:"provider" db:"provider"`
	Model        string            `json:"model" db:"model"`
	InputTokens  int64             `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64             `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int64             `json:"total_tokens" db:"total_tokens"`
	InputCost    decimal.Decimal   `json:"input_cost" db:"input_cost"`
	OutputCost   decimal.Decimal   `json:"output_cost" db:"output_cost"`
	TotalCost    decimal.Decimal   `json:"total_cost" db:"total_cost"`
	LatencyMs    int64             `json:"latency_ms" db:"latency_ms"`
	Success      bool              `json:"success" db:"success"`
	ErrorMessage string            `json:"error_message,omitempty" db:"error_message"`
	WorkspaceID  string            `json:"workspace_id,omitempty" db:"workspace_id"`
	UserID       string            `json:"user_id,omitempty" db:"user_id"`
	RequestID    string            `json:"request_id,omitempty" db:"request_id"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// TokenUsageParams carries the inputs for NewTokenUsage. Costs are derived
// from the per-1M-token prices; ID and Timestamp are filled in when empty.
type TokenUsageParams struct {
	ID              string
	Timestamp       time.Time
	Provider        LLMProvider
	Model           string
	InputTokens     int64
	OutputTokens    int64
	InputPerMToken  decimal.Decimal
	OutputPerMToken decimal.Decimal
	LatencyMs       int64
	Success         bool
	ErrorMessage    string
	WorkspaceID     string
	UserID          string
	RequestID       string
	Metadata        map[string]string
}

// NewTokenUsage validates and builds a TokenUsage record. Token counts,
// prices, and latency must be non-negative; totals are computed, never
// accepted, so the sum invariants hold by construction.
func NewTokenUsage(p TokenUsageParams) (TokenUsage, error) {
	if p.InputTokens < 0 {
		return TokenUsage{}, errs.Validation("input_tokens", "must be non-negative")
	}
	if p.OutputTokens < 0 {
		return TokenUsage{}, errs.Validation("output_tokens", "must be non-negative")
	}
	if p.InputPerMToken.IsNegative() {
		return TokenUsage{}, errs.Validation("input_per_m_token", "must be non-negative")
	}
	if p.OutputPerMToken.IsNegative() {
		return TokenUsage{}, errs.Validation("output_per_m_token", "must be non-negative")
	}
	if p.LatencyMs < 0 {
		return TokenUsage{}, errs.Validation("latency_ms", "must be non-negative")
	}
	if p.Provider == "" {
		return TokenUsage{}, errs.Validation("provider", "is required")
	}
	if p.Model == "" {
		return TokenUsage{}, errs.Validation("model", "is required")
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}

	inputCost := CostFor(p.InputTokens, p.InputPerMToken)
	outputCost := CostFor(p.OutputTokens, p.OutputPerMToken)

	return TokenUsage{
		ID:           id,
		Timestamp:    ts,
		Provider:     p.Provider,
		Model:        p.Model,
		InputTokens:  p.InputTokens,
		OutputTokens: p.OutputTokens,
		TotalTokens:  p.InputTokens + p.OutputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost.Add(outputCost),
		LatencyMs:    p.LatencyMs,
		Success:      p.Success,
		ErrorMessage: p.ErrorMessage,
		WorkspaceID:  p.WorkspaceID,
		UserID:       p.UserID,
		RequestID:    p.RequestID,
		Metadata:     p.Metadata,
	}, nil
}

// Validate re-checks the sum invariants on a record loaded from storage.
func (u TokenUsage) Validate() error {
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return errs.Validation("tokens", "must be non-negative")
	}
	if u.TotalTokens != u.InputTokens+u.OutputTokens {
		return errs.Validation("total_tokens", "must equal input_tokens + output_tokens")
	}
	if !u.TotalCost.Equal(u.InputCost.Add(u.OutputCost)) {
		return errs.Validation("total_cost", "must equal input_cost + output_cost")
	}
	return nil
}

// TokenUsageStats aggregates usage records over a filtered window.
type TokenUsageStats struct {
	TotalRequests  int64           `json:"total_requests"`
	Successful     int64           `json:"successful"`
	Failed         int64           `json:"failed"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	TotalTokens    int64           `json:"total_tokens"`
	InputCost      decimal.Decimal `json:"input_cost"`
	OutputCost     decimal.Decimal `json:"output_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	TotalLatencyMs int64           `json:"total_latency_ms"`
	From           time.Time       `json:"from,omitempty"`
	To             time.Time       `json:"to,omitempty"`
}

// StatsFrom folds usage records into aggregate stats. From/To are the
// minimum and maximum record timestamps observed.
func StatsFrom(usages []TokenUsage) TokenUsageStats {
	var s TokenUsageStats
	s.InputCost = decimal.Zero
	s.OutputCost = decimal.Zero
	s.TotalCost = decimal.Zero

	for _, u := range usages {
		s.TotalRequests++
		if u.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		s.InputTokens += u.InputTokens
		s.OutputTokens += u.OutputTokens
		s.TotalTokens += u.TotalTokens
		s.InputCost = s.InputCost.Add(u.InputCost)
		s.OutputCost = s.OutputCost.Add(u.OutputCost)
		s.TotalCost = s.TotalCost.Add(u.TotalCost)
		s.TotalLatencyMs += u.LatencyMs

		if s.From.IsZero() || u.Timestamp.Before(s.From) {
			s.From = u.Timestamp
		}
		if s.To.IsZero() || u.Timestamp.After(s.To) {
			s.To = u.Timestamp
		}
	}
	return s
}

// AvgLatencyMs returns the mean latency across aggregated records,
// or 0 when empty.
func (s TokenUsageStats) AvgLatencyMs() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalLatencyMs) / float64(s.TotalRequests)
}
