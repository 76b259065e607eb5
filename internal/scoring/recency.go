// Package scoring holds the pure priority functions used by matching.
package scoring

import (
	"math"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

const (
	// NeverContactedDays stands in for a missing last-contact date.
	NeverContactedDays = 3650

	// RecentlyMetMultiplier damps a contact the user just saw.
	RecentlyMetMultiplier = 0.5

	// steepness of the logistic curve around the target interval.
	steepness = 4.0

	maxScore = 100.0
)

// TargetDays is the desired gap between contacts for a frequency.
func TargetDays(f model.Frequency) float64 {
	switch f {
	case model.FrequencyDaily:
		return 1
	case model.FrequencyWeekly:
		return 7
	case model.FrequencyMonthly:
		return 30
	case model.FrequencyYearly:
		return 365
	case model.FrequencyFlexible:
		return 90
	default:
		return 30
	}
}

// DaysSince is the elapsed time in fractional days. Future dates clamp to zero.
func DaysSince(last *time.Time, now time.Time) float64 {
	if last == nil {
		return NeverContactedDays
	}
	d := now.Sub(*last).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Recency scores how overdue a contact is, in (0, 100). It depends only on
// its arguments and rises strictly with the ratio of elapsed to target days,
// crossing 50 at the target.
func Recency(f model.Frequency, last *time.Time, recentlyMet bool, now time.Time) float64 {
	ratio := DaysSince(last, now) / TargetDays(f)
	score := maxScore / (1 + math.Exp(-steepness*(ratio-1)))
	if recentlyMet {
		score *= RecentlyMetMultiplier
	}
	return score
}

// ContactRecency scores c, treating the recently-met flag as lapsed after window.
func ContactRecency(c model.Contact, now time.Time, window time.Duration) float64 {
	return Recency(c.Frequency, c.LastContactAt, c.IsRecentlyMet(now, window), now)
}
