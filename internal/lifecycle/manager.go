// Package lifecycle moves suggestions through accept, dismiss and snooze and
// records the side effects of each transition.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/metrics"
	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/store"
)

// MaxSnooze bounds how far out a suggestion can be pushed.
const MaxSnooze = 365 * 24 * time.Hour

// CalendarPayload is the body of a calendar_publish outbox entry.
type CalendarPayload struct {
	SuggestionID string         `json:"suggestion_id"`
	UserID       string         `json:"user_id"`
	ContactIDs   []int64        `json:"contact_ids"`
	Slot         model.TimeSlot `json:"slot"`
	Medium       model.Medium   `json:"medium"`
	Title        string         `json:"title"`
	AnchorEvent  string         `json:"anchor_event_id,omitempty"`
}

// PromptPayload asks the user to set a frequency for a contact they just met.
type PromptPayload struct {
	UserID       string `json:"user_id"`
	ContactID    int64  `json:"contact_id"`
	SuggestionID string `json:"suggestion_id"`
}

// Manager applies user decisions to stored suggestions.
type Manager struct {
	db  *store.DB
	log zerolog.Logger
	now func() time.Time
}

func New(db *store.DB, log zerolog.Logger) *Manager {
	return &Manager{db: db, log: log.With().Str("component", "lifecycle").Logger(), now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Accept marks the suggestion accepted, logs the interaction, marks every
// member met and queues the calendar publish.
func (m *Manager) Accept(ctx context.Context, id string) (*model.Suggestion, error) {
	return m.transition(ctx, id, model.StatusAccepted, func(tx *store.Tx, s *model.Suggestion, at time.Time) (store.Transition, error) {
		if err := tx.RecordInteraction(ctx, *s, at); err != nil {
			return store.Transition{}, err
		}
		if err := m.markMet(ctx, tx, s, at); err != nil {
			return store.Transition{}, err
		}
		err := tx.Enqueue(ctx, store.OpCalendarPublish, s.UserID, CalendarPayload{
			SuggestionID: s.ID,
			UserID:       s.UserID,
			ContactIDs:   s.ContactIDs,
			Slot:         s.Slot,
			Medium:       s.Medium,
			Title:        calendarTitle(s),
			AnchorEvent:  s.AnchorEventID,
		}, at)
		if err != nil {
			return store.Transition{}, err
		}
		return store.Transition{To: model.StatusAccepted}, nil
	})
}

// Dismiss closes the suggestion. A met_too_recently reason also marks the
// members met, without logging an interaction.
func (m *Manager) Dismiss(ctx context.Context, id, reason string) (*model.Suggestion, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, model.NewValidationError("reason", "is required")
	}
	return m.transition(ctx, id, model.StatusDismissed, func(tx *store.Tx, s *model.Suggestion, at time.Time) (store.Transition, error) {
		if reason == model.ReasonMetTooRecently {
			if err := m.markMet(ctx, tx, s, at); err != nil {
				return store.Transition{}, err
			}
		}
		return store.Transition{To: model.StatusDismissed, DismissalReason: &reason}, nil
	})
}

// Snooze hides the suggestion for d. Once that passes it is actionable again.
func (m *Manager) Snooze(ctx context.Context, id string, d time.Duration) (*model.Suggestion, error) {
	if d <= 0 {
		return nil, model.NewValidationError("duration", "must be positive")
	}
	if d > MaxSnooze {
		return nil, model.NewValidationError("duration", "must be at most 365 days")
	}
	return m.transition(ctx, id, model.StatusSnoozed, func(tx *store.Tx, s *model.Suggestion, at time.Time) (store.Transition, error) {
		until := at.Add(d)
		return store.Transition{To: model.StatusSnoozed, SnoozedUntil: &until}, nil
	})
}

// List returns the user's actionable suggestions: pending ones and snoozed
// ones whose snooze has run out.
func (m *Manager) List(ctx context.Context, userID string) ([]model.Suggestion, error) {
	outstanding, err := m.db.ListOutstanding(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]model.Suggestion, 0, len(outstanding))
	for _, s := range outstanding {
		if s.EffectiveStatus(now) == model.StatusPending {
			out = append(out, s)
		}
	}
	return out, nil
}

type effectFunc func(tx *store.Tx, s *model.Suggestion, at time.Time) (store.Transition, error)

// transition runs the read, guard, side effects and guarded update in one
// transaction. A lost race surfaces as a ConflictError and rolls back the
// side effects with it.
func (m *Manager) transition(ctx context.Context, id string, to model.Status, effects effectFunc) (*model.Suggestion, error) {
	at := m.now()
	err := m.db.InTx(ctx, func(tx *store.Tx) error {
		s, err := tx.GetSuggestion(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return model.NewNotFoundError("suggestion", id)
		}
		if st := s.EffectiveStatus(at); st != model.StatusPending {
			return model.NewConflictError("status", fmt.Sprintf("suggestion %s is %s", id, st))
		}

		tr, err := effects(tx, s, at)
		if err != nil {
			return err
		}
		tr.ID = s.ID
		tr.FromStatus = s.Status
		tr.FromVersion = s.Version
		tr.At = at

		ok, err := tx.ApplyTransition(ctx, tr)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewConflictError("version", fmt.Sprintf("suggestion %s changed concurrently", id))
		}
		return nil
	})
	if err != nil {
		result := "error"
		switch {
		case model.IsConflictError(err):
			result = "conflict"
		case model.IsNotFoundError(err):
			result = "not_found"
		}
		metrics.Transitions.WithLabelValues(string(to), result).Inc()
		if result == "error" {
			m.log.Error().Err(err).Str("suggestion", id).Str("to", string(to)).Msg("transition failed")
		}
		return nil, err
	}

	metrics.Transitions.WithLabelValues(string(to), "ok").Inc()
	m.log.Info().Str("suggestion", id).Str("to", string(to)).Msg("suggestion transitioned")
	return m.db.GetSuggestion(ctx, id)
}

func (m *Manager) markMet(ctx context.Context, tx *store.Tx, s *model.Suggestion, at time.Time) error {
	unset, err := tx.MarkContactsMet(ctx, s.UserID, s.ContactIDs, at)
	if err != nil {
		return err
	}
	for _, cid := range unset {
		err := tx.Enqueue(ctx, store.OpPreferencePrompt, s.UserID, PromptPayload{
			UserID:       s.UserID,
			ContactID:    cid,
			SuggestionID: s.ID,
		}, at)
		if err != nil {
			return err
		}
	}
	return nil
}

func calendarTitle(s *model.Suggestion) string {
	verb := "Call"
	if s.Medium == model.MediumInPerson {
		verb = "Meet up"
	}
	if s.Type == model.TypeGroup {
		return fmt.Sprintf("%s with %d friends", verb, len(s.ContactIDs))
	}
	return verb + " with a friend"
}
