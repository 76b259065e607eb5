package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/rekindle/internal/availability"
	"github.com/lazypower/rekindle/internal/matching"
	"github.com/lazypower/rekindle/internal/model"
)

// Snapshot is everything one generation run reads, taken once at batch start.
type Snapshot struct {
	User        model.User
	Contacts    []model.Contact
	CoMentions  []model.CoMention
	Outstanding []model.Suggestion
	Busy        []model.BusyInterval
	Anchors     []model.AnchorEvent
	Window      availability.Window
	Unavailable bool // calendar failed; no slots this run
}

// Snapshot reads the user's state from the store and the collaborators.
// A calendar failure is recorded on the snapshot; an event feed failure
// leaves it without anchors. The context ending abandons the run.
func (e *Engine) Snapshot(ctx context.Context, userID string, now time.Time) (*Snapshot, error) {
	user, err := e.DB.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", userID)
	}

	snap := &Snapshot{
		User:   *user,
		Window: availability.Window{From: now, To: now.AddDate(0, 0, e.cfg.LookaheadDays)},
	}
	if snap.Contacts, err = e.DB.ListContacts(ctx, userID); err != nil {
		return nil, err
	}
	if snap.CoMentions, err = e.DB.ListCoMentions(ctx, userID); err != nil {
		return nil, err
	}
	if snap.Outstanding, err = e.DB.ListOutstanding(ctx, userID); err != nil {
		return nil, err
	}

	busy, err := availability.FetchBusy(ctx, e.Availability, userID, snap.Window)
	switch {
	case errors.Is(err, availability.ErrUnavailable):
		e.log.Warn().Err(err).Str("user_id", userID).Msg("calendar unavailable")
		snap.Unavailable = true
	case err != nil:
		return nil, fmt.Errorf("busy intervals: %w", err)
	default:
		snap.Busy = busy
	}

	anchors, err := e.Anchors.AnchorEvents(ctx, userID, snap.Window.From, snap.Window.To)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn().Err(err).Str("user_id", userID).Msg("anchor events unavailable")
	} else {
		snap.Anchors = anchors
	}
	return snap, nil
}

// Plan turns a snapshot into the batch's suggestions. It performs no I/O and
// returns the same suggestions for the same snapshot, batch id and now.
func (e *Engine) Plan(snap *Snapshot, batchID string, now time.Time) []model.Suggestion {
	loc, err := snap.User.Location()
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", snap.User.ID).Str("timezone", snap.User.Timezone).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}

	var slots []model.TimeSlot
	if !snap.Unavailable {
		slots = availability.Resolve(snap.Busy, snap.User.Availability, loc, snap.Window, now)
	}

	return e.matcher.Match(matching.Input{
		UserID:      snap.User.ID,
		BatchID:     batchID,
		Timezone:    loc.String(),
		Now:         now,
		Contacts:    snap.Contacts,
		CoMentions:  snap.CoMentions,
		Slots:       slots,
		Anchors:     snap.Anchors,
		Outstanding: snap.Outstanding,
		InPersonMin: time.Duration(snap.User.Availability.InPersonThreshold()) * time.Minute,
	})
}
