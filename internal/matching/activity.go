package matching

import (
	"sort"
	"strings"

	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/scoring"
)

const (
	interestBoost  = 10.0
	proximityBoost = 15.0
)

// sharedActivity pairs anchor events with unclaimed candidates. Events are
// visited in start order; each takes the best-scoring candidate that shares
// an interest with it and fits its mode, size, and length.
func (m *Matcher) sharedActivity(in Input, cands []candidate, claimed map[int64]bool, room int, sc *scoring.Context) []model.Suggestion {
	if room <= 0 || len(in.Anchors) == 0 {
		return nil
	}

	events := make([]model.AnchorEvent, 0, len(in.Anchors))
	for _, ev := range in.Anchors {
		if ev.Start.Before(in.Now) || !ev.End.After(ev.Start) {
			continue
		}
		if booked(ev, in.Outstanding) {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})

	var out []model.Suggestion
	for _, ev := range events {
		if len(out) >= room {
			break
		}

		best := -1
		var bestScore float64
		var bestShared []string
		var bestNearby bool
		for i, c := range cands {
			if anyClaimed(claimed, c.ids) {
				continue
			}
			if ev.MaxGuests > 0 && len(c.ids) > ev.MaxGuests {
				continue
			}
			if ev.End.Sub(ev.Start) < c.minDuration {
				continue
			}
			if c.needsInPerson() && !ev.InPerson {
				continue
			}
			shared := sc.SharedInterests(c.ids, ev.Interests)
			if len(shared) == 0 {
				continue
			}
			nearby := near(c, ev)
			score := c.priority + interestBoost*float64(len(shared))
			if nearby {
				score += proximityBoost
			}
			// Strictly greater keeps the earlier candidate in rank order on ties.
			if best < 0 || score > bestScore {
				best, bestScore, bestShared, bestNearby = i, score, shared, nearby
			}
		}
		if best < 0 {
			continue
		}

		c := cands[best]
		medium := model.MediumCall
		if ev.InPerson {
			medium = model.MediumInPerson
		}
		slot := model.TimeSlot{Start: ev.Start, End: ev.End, Timezone: in.Timezone, InPerson: ev.InPerson}
		s := m.suggestion(in, c, slot, model.TriggerSharedActivity, medium, ev.ID)
		s.Reasoning = activityReason(c, ev, bestShared, bestNearby)
		out = append(out, s)
		claim(claimed, c.ids)
	}
	return out
}

// near reports whether any member lives in the event's city.
func near(c candidate, ev model.AnchorEvent) bool {
	if ev.City == "" {
		return false
	}
	for _, m := range c.members {
		if m.City != "" && strings.EqualFold(strings.TrimSpace(m.City), strings.TrimSpace(ev.City)) {
			return true
		}
	}
	return false
}

// booked reports whether ev overlaps time an outstanding suggestion holds.
func booked(ev model.AnchorEvent, outstanding []model.Suggestion) bool {
	for _, s := range outstanding {
		if s.Slot.Start.Before(ev.End) && ev.Start.Before(s.Slot.End) {
			return true
		}
	}
	return false
}
