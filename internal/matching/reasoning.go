package matching

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/scoring"
)

func names(c candidate) []string {
	out := make([]string, len(c.members))
	for i, m := range c.members {
		out[i] = m.DisplayName
		if out[i] == "" {
			out[i] = fmt.Sprintf("contact %d", m.ID)
		}
	}
	return out
}

// joinList renders "a", "a and b", or "a, b and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func timeBoundReason(c candidate, now time.Time) string {
	if len(c.members) == 1 {
		return individualReason(c.members[0], now)
	}

	var common []string
	common = append(common, c.breakdown.Groups...)
	common = append(common, c.breakdown.Tags...)
	common = append(common, c.breakdown.Interests...)
	if len(common) > 3 {
		common = common[:3]
	}

	who := joinList(names(c))
	switch {
	case len(common) > 0:
		return fmt.Sprintf("%s share %s. A good excuse to get everyone together.", who, joinList(common))
	case c.breakdown.CoMentions > 0:
		return fmt.Sprintf("%s often come up together.", who)
	default:
		return fmt.Sprintf("%s are due for a catch-up.", who)
	}
}

func individualReason(ct model.Contact, now time.Time) string {
	name := ct.DisplayName
	if name == "" {
		name = fmt.Sprintf("contact %d", ct.ID)
	}
	if ct.LastContactAt == nil {
		return fmt.Sprintf("You haven't caught up with %s yet.", name)
	}

	days := int(math.Floor(scoring.DaysSince(ct.LastContactAt, now)))
	var since string
	switch days {
	case 0:
		since = fmt.Sprintf("You saw %s today", name)
	case 1:
		since = fmt.Sprintf("It's been a day since you talked to %s", name)
	default:
		since = fmt.Sprintf("It's been %d days since you talked to %s", days, name)
	}

	switch ct.Frequency {
	case model.FrequencyUnset, model.FrequencyFlexible, "":
		return since + "."
	default:
		return fmt.Sprintf("%s, and you aim for %s.", since, ct.Frequency)
	}
}

func activityReason(c candidate, ev model.AnchorEvent, shared []string, nearby bool) string {
	title := ev.Title
	if title == "" {
		title = "An upcoming event"
	}
	when := ev.Start.Format("Mon Jan 2")

	var b strings.Builder
	if len(c.members) == 1 {
		fmt.Fprintf(&b, "%s (%s) lines up with %s's interest in %s.", title, when, names(c)[0], joinList(shared))
	} else {
		fmt.Fprintf(&b, "%s (%s) lines up with %s, which %s all enjoy.", title, when, joinList(shared), joinList(names(c)))
	}
	if nearby {
		fmt.Fprintf(&b, " It's in %s, close to home.", ev.City)
	}
	return b.String()
}
