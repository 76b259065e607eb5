package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/rekindle/internal/model"
)

// Outbox operations written by the lifecycle.
const (
	OpCalendarPublish  = "calendar_publish"
	OpPreferencePrompt = "preference_prompt"
)

// OutboxEntry is a side effect waiting for delivery.
type OutboxEntry struct {
	ID            string
	Op            string
	AggregateID   string
	Payload       json.RawMessage
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
}

// RecordInteraction logs that the user met the suggestion's contacts.
func (t *Tx) RecordInteraction(ctx context.Context, s model.Suggestion, at time.Time) error {
	ids, err := encodeList(s.ContactIDs)
	if err != nil {
		return fmt.Errorf("encode contact ids: %w", err)
	}
	_, err = t.exec(ctx, `
		INSERT INTO interactions (id, user_id, suggestion_id, contact_ids, medium, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), s.UserID, s.ID, ids, string(s.Medium), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// CountInteractions returns how many interactions were logged for a suggestion.
func (db *DB) CountInteractions(ctx context.Context, suggestionID string) (int, error) {
	var n int
	err := db.queryRow(ctx, `SELECT COUNT(*) FROM interactions WHERE suggestion_id = ?`, suggestionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// Enqueue adds an outbox entry inside the caller's transaction.
func (t *Tx) Enqueue(ctx context.Context, op, aggregateID string, payload any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", op, err)
	}
	ms := at.UnixMilli()
	_, err = t.exec(ctx, `
		INSERT INTO outbox (id, op, aggregate_id, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?)
	`, uuid.NewString(), op, aggregateID, string(data), ms, ms, ms)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", op, err)
	}
	return nil
}

// ReadyOutbox returns up to limit pending entries due at or before now, oldest first.
func (db *DB) ReadyOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	rows, err := db.query(ctx, `
		SELECT id, op, aggregate_id, payload, status, attempt_count, next_attempt_at, last_error, created_at
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("ready outbox: %w", err)
	}
	defer rows.Close()

	return scanOutbox(rows)
}

// ListOutbox returns every entry for an op, oldest first. Empty op lists all.
func (db *DB) ListOutbox(ctx context.Context, op string) ([]OutboxEntry, error) {
	q := `SELECT id, op, aggregate_id, payload, status, attempt_count, next_attempt_at, last_error, created_at FROM outbox`
	var args []any
	if op != "" {
		q += ` WHERE op = ?`
		args = append(args, op)
	}
	q += ` ORDER BY created_at, id`

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	return scanOutbox(rows)
}

func scanOutbox(rows *sql.Rows) ([]OutboxEntry, error) {
	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var payload string
		var next, created int64
		if err := rows.Scan(&e.ID, &e.Op, &e.AggregateID, &payload, &e.Status, &e.AttemptCount, &next, &e.LastError, &created); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.NextAttemptAt = fromMillis(next)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOutboxDone records a successful delivery.
func (db *DB) MarkOutboxDone(ctx context.Context, id string, at time.Time) error {
	_, err := db.exec(ctx, `UPDATE outbox SET status = 'done', updated_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark outbox %s done: %w", id, err)
	}
	return nil
}

// MarkOutboxRetry bumps the attempt count and schedules the next try. When
// giveUp is set the entry is parked as failed instead.
func (db *DB) MarkOutboxRetry(ctx context.Context, id string, cause error, next time.Time, giveUp bool, at time.Time) error {
	status := "pending"
	if giveUp {
		status = "failed"
	}
	msg := strings.TrimSpace(cause.Error())
	_, err := db.exec(ctx, `
		UPDATE outbox
		SET attempt_count = attempt_count + 1, next_attempt_at = ?, last_error = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, next.UnixMilli(), msg, status, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark outbox %s retry: %w", id, err)
	}
	return nil
}
