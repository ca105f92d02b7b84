package alerts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// breached is the single threshold comparator shared by the per-event and
// periodic evaluation paths.
func breached(observed, threshold decimal.Decimal, op models.ThresholdOperator) bool {
	switch op {
	case models.OpGreaterOrEqual:
		return observed.GreaterThanOrEqual(threshold)
	case models.OpGreaterThan:
		return observed.GreaterThan(threshold)
	case models.OpLessOrEqual:
		return observed.LessThanOrEqual(threshold)
	case models.OpLessThan:
		return observed.LessThan(threshold)
	default:
		return false
	}
}

// shouldNotify is the pure frequency/cooldown decision shared by both
// evaluation paths:
//
//	ONCE    fires only while never yet triggered
//	DAILY   requires the last notification to fall on a strictly earlier
//	        UTC day
//	WEEKLY  requires the last notification to be at least seven days old
//	ALWAYS  fires whenever the cooldown floor has elapsed
//
// The cooldown floor applies to every frequency.
func shouldNotify(cfg models.BudgetAlertConfig, state models.BudgetAlertState, now time.Time) bool {
	now = now.UTC()

	if cfg.Cooldown > 0 && !state.LastNotified.IsZero() {
		if now.Sub(state.LastNotified) < cfg.Cooldown {
			return false
		}
	}

	switch cfg.Frequency {
	case models.FrequencyOnce:
		return state.LastTriggered.IsZero()

	case models.FrequencyDaily:
		if state.LastNotified.IsZero() {
			return true
		}
		ly, lm, ld := state.LastNotified.UTC().Date()
		ny, nm, nd := now.Date()
		lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
		today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
		return lastDay.Before(today)

	case models.FrequencyWeekly:
		if state.LastNotified.IsZero() {
			return true
		}
		return now.Sub(state.LastNotified) >= 7*24*time.Hour

	case models.FrequencyAlways:
		return true

	default:
		return false
	}
}
