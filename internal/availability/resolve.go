// Package availability turns calendar busy time and user constraints into free slots.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

// minSlot is the shortest free interval worth reporting.
const minSlot = 60 // seconds

// ErrUnavailable wraps a calendar source failure that should not stop generation.
var ErrUnavailable = errors.New("availability source unavailable")

// Window is the planning horizon [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Source provides a user's busy intervals.
type Source interface {
	BusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]model.BusyInterval, error)
}

// FetchBusy asks src for busy time across w. Unknown busy time is never read
// as free: a nil src (no calendar connected) and source failures both come
// back wrapping ErrUnavailable. The context ending comes back as the
// context's own error.
func FetchBusy(ctx context.Context, src Source, userID string, w Window) ([]model.BusyInterval, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no calendar connected", ErrUnavailable)
	}
	busy, err := src.BusyIntervals(ctx, userID, w.From, w.To)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return busy, nil
}

// Resolve computes free slots for w in the user's location. Free time before
// now is dropped. Each local day is resolved on its own, so a slot never spans
// midnight, and days are bounded with time.Date so DST days come out at 23 or
// 25 hours. When manual blocks exist they are the only time considered free.
func Resolve(busy []model.BusyInterval, params model.AvailabilityParams, loc *time.Location, w Window, now time.Time) []model.TimeSlot {
	if loc == nil {
		loc = time.UTC
	}
	from := w.From
	if now.After(from) {
		from = now
	}
	if !w.To.After(from) {
		return nil
	}
	lo, hi := from.Unix(), w.To.Unix()

	calendar := make([]span, 0, len(busy))
	for _, b := range busy {
		calendar = append(calendar, span{start: b.Start.Unix(), end: b.End.Unix()})
	}
	calendar = merge(calendar)

	threshold := int64(params.InPersonThreshold()) * 60
	tz := loc.String()

	var slots []model.TimeSlot
	local := from.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for day.Unix() < hi {
		next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
		dayLo, dayHi := max(day.Unix(), lo), min(next.Unix(), hi)
		if dayLo < dayHi {
			blocked := overlapping(calendar, dayLo, dayHi)
			blocked = append(blocked, weekly(day, params.CommuteWindows)...)
			blocked = append(blocked, night(day, params.Night)...)
			free := complement(merge(blocked), dayLo, dayHi)

			if len(params.ManualBlocks) > 0 {
				free = intersect(free, merge(weekly(day, params.ManualBlocks)))
			}

			for _, f := range free {
				if f.length() < minSlot {
					continue
				}
				slots = append(slots, model.TimeSlot{
					Start:    time.Unix(f.start, 0).In(loc),
					End:      time.Unix(f.end, 0).In(loc),
					Timezone: tz,
					InPerson: !f.remote && f.length() >= threshold,
				})
			}
		}
		day = next
	}
	return slots
}

// overlapping returns the merged spans that touch [lo, hi).
func overlapping(merged []span, lo, hi int64) []span {
	var out []span
	for _, s := range merged {
		if s.end <= lo {
			continue
		}
		if s.start >= hi {
			break
		}
		out = append(out, s)
	}
	return out
}

// weekly expands the blocks that fall on day's weekday.
func weekly(day time.Time, blocks []model.WeeklyBlock) []span {
	var out []span
	for _, b := range blocks {
		if b.Weekday != day.Weekday() {
			continue
		}
		out = append(out, span{
			start:  clock(day, b.StartMinute).Unix(),
			end:    clock(day, b.EndMinute).Unix(),
			remote: b.Remote,
		})
	}
	return out
}

// night expands the quiet period for day, splitting it when it wraps midnight.
func night(day time.Time, n *model.NightRange) []span {
	if n == nil || n.StartMinute == n.EndMinute {
		return nil
	}
	if n.StartMinute < n.EndMinute {
		return []span{{start: clock(day, n.StartMinute).Unix(), end: clock(day, n.EndMinute).Unix()}}
	}
	return []span{
		{start: clock(day, 0).Unix(), end: clock(day, n.EndMinute).Unix()},
		{start: clock(day, n.StartMinute).Unix(), end: clock(day, model.MinutesPerDay).Unix()},
	}
}

// clock is the instant minute minutes after local midnight of day's date.
func clock(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, day.Location())
}
