package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

// SaveBatch stores a batch row and its suggestions in one transaction.
// A batch row that already exists means another run got there first; nothing
// is written and model.ErrBatchExists is returned.
func (db *DB) SaveBatch(ctx context.Context, b model.Batch, suggestions []model.Suggestion) error {
	return db.InTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx, `
			INSERT INTO generation_batches (id, user_id, window_start, window_end, suggestion_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, b.ID, b.UserID, b.WindowStart.UnixMilli(), b.WindowEnd.UnixMilli(), len(suggestions), b.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrBatchExists
		}

		for _, s := range suggestions {
			if err := tx.insertSuggestion(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Tx) insertSuggestion(ctx context.Context, s model.Suggestion) error {
	ids, err := encodeList(s.ContactIDs)
	if err != nil {
		return fmt.Errorf("encode contact ids: %w", err)
	}
	var anchor *string
	if s.AnchorEventID != "" {
		anchor = &s.AnchorEventID
	}
	_, err = t.exec(ctx, `
		INSERT INTO suggestions (id, user_id, batch_id, kind, trigger_kind, medium, contact_ids,
			slot_start, slot_end, slot_timezone, slot_in_person, anchor_event_id, reasoning,
			priority, shared_context_score, status, dismissal_reason, snoozed_until, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.BatchID, string(s.Type), string(s.Trigger), string(s.Medium), ids,
		s.Slot.Start.UnixMilli(), s.Slot.End.UnixMilli(), s.Slot.Timezone, boolInt(s.Slot.InPerson), anchor, s.Reasoning,
		s.Priority, s.SharedContextScore, string(s.Status), s.DismissalReason, millisPtr(s.SnoozedUntil),
		s.Version, s.CreatedAt.UnixMilli(), s.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert suggestion %s: %w", s.ID, err)
	}

	for _, id := range s.ContactIDs {
		if _, err := t.exec(ctx, `
			INSERT INTO suggestion_contacts (batch_id, contact_id, suggestion_id) VALUES (?, ?, ?)
		`, s.BatchID, id, s.ID); err != nil {
			return fmt.Errorf("claim contact %d in batch %s: %w", id, s.BatchID, err)
		}
	}
	return nil
}

// GetBatch returns a batch by id, or nil if it does not exist.
func (db *DB) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	var b model.Batch
	var start, end, created int64
	err := db.queryRow(ctx, `
		SELECT id, user_id, window_start, window_end, suggestion_count, created_at
		FROM generation_batches WHERE id = ?
	`, id).Scan(&b.ID, &b.UserID, &start, &end, &b.SuggestionCount, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.WindowStart = fromMillis(start)
	b.WindowEnd = fromMillis(end)
	b.CreatedAt = fromMillis(created)
	return &b, nil
}

const suggestionColumns = `id, user_id, batch_id, kind, trigger_kind, medium, contact_ids,
	slot_start, slot_end, slot_timezone, slot_in_person, anchor_event_id, reasoning,
	priority, shared_context_score, status, dismissal_reason, snoozed_until, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(r rowScanner) (model.Suggestion, error) {
	var s model.Suggestion
	var kind, trigger, medium, ids, tz, status string
	var slotStart, slotEnd, created, updated int64
	var inPerson int
	var anchor *string
	var snoozed *int64
	if err := r.Scan(&s.ID, &s.UserID, &s.BatchID, &kind, &trigger, &medium, &ids,
		&slotStart, &slotEnd, &tz, &inPerson, &anchor, &s.Reasoning,
		&s.Priority, &s.SharedContextScore, &status, &s.DismissalReason, &snoozed, &s.Version, &created, &updated); err != nil {
		return s, err
	}

	contactIDs, err := decodeList[int64](ids)
	if err != nil {
		return s, fmt.Errorf("decode contact ids for %s: %w", s.ID, err)
	}
	s.ContactIDs = contactIDs
	s.Type = model.SuggestionType(kind)
	s.Trigger = model.Trigger(trigger)
	s.Medium = model.Medium(medium)
	s.Status = model.Status(status)
	if anchor != nil {
		s.AnchorEventID = *anchor
	}
	s.SnoozedUntil = fromMillisPtr(snoozed)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	s.Slot = model.TimeSlot{
		Start:    time.UnixMilli(slotStart).In(loc),
		End:      time.UnixMilli(slotEnd).In(loc),
		Timezone: tz,
		InPerson: inPerson != 0,
	}
	return s, nil
}

// GetSuggestion returns a suggestion by id, or nil if it does not exist.
func (db *DB) GetSuggestion(ctx context.Context, id string) (*model.Suggestion, error) {
	s, err := scanSuggestion(db.queryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return &s, nil
}

// GetSuggestion reads a suggestion inside the transaction.
func (t *Tx) GetSuggestion(ctx context.Context, id string) (*model.Suggestion, error) {
	s, err := scanSuggestion(t.queryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return &s, nil
}

// ListSuggestions returns a user's suggestions with any of the given statuses
// (all statuses when none are given), in slot order.
func (db *DB) ListSuggestions(ctx context.Context, userID string, statuses ...model.Status) ([]model.Suggestion, error) {
	q := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		q += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	q += ` ORDER BY slot_start, id`

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []model.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListOutstanding returns pending and snoozed suggestions. These count toward
// the pending cap and keep their contacts out of new batches.
func (db *DB) ListOutstanding(ctx context.Context, userID string) ([]model.Suggestion, error) {
	return db.ListSuggestions(ctx, userID, model.StatusPending, model.StatusSnoozed)
}

// Transition describes a status change guarded by the expected current state.
type Transition struct {
	ID              string
	FromStatus      model.Status
	FromVersion     int
	To              model.Status
	DismissalReason *string
	SnoozedUntil    *time.Time
	At              time.Time
}

// ApplyTransition updates the suggestion only if its status and version still
// match. It reports whether the row was updated.
func (t *Tx) ApplyTransition(ctx context.Context, tr Transition) (bool, error) {
	res, err := t.exec(ctx, `
		UPDATE suggestions
		SET status = ?, dismissal_reason = ?, snoozed_until = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`, string(tr.To), tr.DismissalReason, millisPtr(tr.SnoozedUntil), tr.At.UnixMilli(),
		tr.ID, string(tr.FromStatus), tr.FromVersion)
	if err != nil {
		return false, fmt.Errorf("update suggestion %s: %w", tr.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
