// Package analytics derives cost insights from the usage ledger: daily
// spend spike detection, cheaper-model switch recommendations backed by the
// catalog's pricing data, and period summary reports.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/catalog"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// InsightType categorizes the kind of insight generated.
type InsightType string

const (
	InsightCostSpike   InsightType = "cost_spike"
	InsightModelSwitch InsightType = "model_switch"
)

// Insight is an actionable observation over recent usage.
type Insight struct {
	ID              string               `json:"id"`
	Type            InsightType          `json:"type"`
	Severity        models.AlertSeverity `json:"severity"`
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	EstimatedSaving decimal.Decimal      `json:"estimated_saving"`
	AffectedEntity  string               `json:"affected_entity"`
	CreatedAt       time.Time            `json:"created_at"`
}

// UsageSource supplies the records and aggregates insights are computed
// from; the usage ledger satisfies it.
type UsageSource interface {
	Query(ctx context.Context, f ledger.Filter) ([]models.TokenUsage, error)
	Stats(ctx context.Context, f ledger.Filter) (models.TokenUsageStats, error)
}

// Engine computes insights over the usage ledger and the model catalog.
type Engine struct {
	usage UsageSource
	cat   *catalog.Catalog
	now   func() time.Time
}

// NewEngine creates an insights engine.
func NewEngine(usage UsageSource, cat *catalog.Catalog) *Engine {
	return &Engine{usage: usage, cat: cat, now: time.Now}
}

// spikeLookbackDays bounds the history examined by DetectSpikes; the first
// day of the window has no rolling average and is never flagged.
const spikeLookbackDays = 14

var (
	spikeMultiplier    = decimal.NewFromInt(2)
	criticalMultiplier = decimal.NewFromInt(5)
	switchSpendFloor   = decimal.NewFromInt(1)
)

type dailySpend struct {
	day  time.Time
	cost decimal.Decimal
}

// DetectSpikes flags workspace-days whose spend exceeds twice the rolling
// average of the preceding seven days. Results are newest first.
func (e *Engine) DetectSpikes(ctx context.Context) ([]Insight, error) {
	now := e.now().UTC()
	records, err := e.usage.Query(ctx, ledger.Filter{
		From: now.AddDate(0, 0, -spikeLookbackDays),
		To:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("querying usage for spike detection: %w", err)
	}

	// Per-workspace daily totals, day truncated to UTC midnight.
	byWorkspace := map[string]map[time.Time]decimal.Decimal{}
	for _, u := range records {
		days, ok := byWorkspace[u.WorkspaceID]
		if !ok {
			days = map[time.Time]decimal.Decimal{}
			byWorkspace[u.WorkspaceID] = days
		}
		day := u.Timestamp.UTC().Truncate(24 * time.Hour)
		days[day] = days[day].Add(u.TotalCost)
	}

	var insights []Insight
	for workspaceID, days := range byWorkspace {
		series := make([]dailySpend, 0, len(days))
		for day, cost := range days {
			series = append(series, dailySpend{day: day, cost: cost})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].day.Before(series[j].day) })

		for i := 1; i < len(series); i++ {
			lo := i - 7
			if lo < 0 {
				lo = 0
			}
			sum := decimal.Zero
			for _, prev := range series[lo:i] {
				sum = sum.Add(prev.cost)
			}
			avg := sum.Div(decimal.NewFromInt(int64(i - lo)))
			if !avg.IsPositive() || series[i].cost.LessThanOrEqual(avg.Mul(spikeMultiplier)) {
				continue
			}

			multiple := series[i].cost.Div(avg)
			severity := models.SeverityWarning
			if multiple.GreaterThan(criticalMultiplier) {
				severity = models.SeverityCritical
			}

			entity := workspaceID
			if entity == "" {
				entity = "unscoped"
			}
			insights = append(insights, Insight{
				ID:       fmt.Sprintf("spike-%s-%s", entity, series[i].day.Format("2006-01-02")),
				Type:     InsightCostSpike,
				Severity: severity,
				Title:    fmt.Sprintf("Cost spike for workspace %s", entity),
				Description: fmt.Sprintf(
					"On %s, workspace %s spent $%s, %sx the rolling average of $%s.",
					series[i].day.Format("Jan 2"), entity,
					series[i].cost.StringFixed(4),
					multiple.StringFixed(1),
					avg.StringFixed(4),
				),
				EstimatedSaving: series[i].cost.Sub(avg),
				AffectedEntity:  entity,
				CreatedAt:       now,
			})
		}
	}

	sort.Slice(insights, func(i, j int) bool { return insights[i].ID > insights[j].ID })
	return insights, nil
}

// RecommendModelSwitches finds models with meaningful recent spend where the
// same provider offers a cheaper, non-deprecated alternative.
func (e *Engine) RecommendModelSwitches(ctx context.Context) ([]Insight, error) {
	now := e.now().UTC()
	records, err := e.usage.Query(ctx, ledger.Filter{
		From: now.AddDate(0, 0, -7),
		To:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("querying usage for switch recommendations: %w", err)
	}

	type modelSpend struct {
		provider models.LLMProvider
		model    string
		cost     decimal.Decimal
		requests int64
	}
	byModel := map[string]*modelSpend{}
	for _, u := range records {
		key := models.QualifiedName(u.Provider, u.Model)
		ms, ok := byModel[key]
		if !ok {
			ms = &modelSpend{provider: u.Provider, model: u.Model}
			byModel[key] = ms
		}
		ms.cost = ms.cost.Add(u.TotalCost)
		ms.requests++
	}

	var insights []Insight
	for _, ms := range byModel {
		if ms.cost.LessThan(switchSpendFloor) {
			continue
		}
		current, ok := e.cat.Get(ms.provider, ms.model)
		if !ok {
			continue
		}
		cheaper, ok := e.cat.CheapestFor(ms.provider, decimal.Zero)
		if !ok || cheaper.Name == current.Name {
			continue
		}
		if cheaper.CostFactor().GreaterThanOrEqual(current.CostFactor()) {
			continue
		}

		// Savings assume the cheaper model's price ratio on the same traffic.
		ratio := decimal.NewFromInt(1).Sub(cheaper.CostFactor().Div(current.CostFactor()))
		saving := ms.cost.Mul(ratio).Round(2)

		insights = append(insights, Insight{
			ID:       fmt.Sprintf("switch-%s", current.QualifiedName()),
			Type:     InsightModelSwitch,
			Severity: models.SeverityInfo,
			Title:    fmt.Sprintf("Consider switching %s to %s", current.Name, cheaper.Name),
			Description: fmt.Sprintf(
				"You spent $%s on %s across %d requests this week. "+
					"Routing simpler calls to %s could save ~$%s/week.",
				ms.cost.StringFixed(2), current.Name, ms.requests,
				cheaper.Name, saving.StringFixed(2),
			),
			EstimatedSaving: saving,
			AffectedEntity:  current.QualifiedName(),
			CreatedAt:       now,
		})
	}

	sort.Slice(insights, func(i, j int) bool {
		return insights[i].EstimatedSaving.GreaterThan(insights[j].EstimatedSaving)
	})
	return insights, nil
}

// Insights runs every detector and concatenates the results.
func (e *Engine) Insights(ctx context.Context) ([]Insight, error) {
	spikes, err := e.DetectSpikes(ctx)
	if err != nil {
		return nil, err
	}
	switches, err := e.RecommendModelSwitches(ctx)
	if err != nil {
		return nil, err
	}
	return append(spikes, switches...), nil
}

// Report summarizes usage over a period.
type Report struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	TotalRequests int64           `json:"total_requests"`
	TotalTokens   int64           `json:"total_tokens"`
	AvgLatencyMs  float64         `json:"avg_latency_ms"`
	SuccessRate   float64         `json:"success_rate"`
}

// GenerateReport aggregates the period into a Report.
func (e *Engine) GenerateReport(ctx context.Context, from, to time.Time) (Report, error) {
	stats, err := e.usage.Stats(ctx, ledger.Filter{From: from, To: to})
	if err != nil {
		return Report{}, fmt.Errorf("generating report: %w", err)
	}

	successRate := 0.0
	if stats.TotalRequests > 0 {
		successRate = float64(stats.Successful) / float64(stats.TotalRequests)
	}
	return Report{
		From:          from,
		To:            to,
		TotalCost:     stats.TotalCost,
		TotalRequests: stats.TotalRequests,
		TotalTokens:   stats.TotalTokens,
		AvgLatencyMs:  stats.AvgLatencyMs(),
		SuccessRate:   successRate,
	}, nil
}
