package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

// UpsertUser creates the user or replaces its timezone and availability.
func (db *DB) UpsertUser(ctx context.Context, u model.User) error {
	params, err := json.Marshal(u.Availability)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.exec(ctx, `
		INSERT INTO users (id, timezone, availability, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			timezone = excluded.timezone,
			availability = excluded.availability,
			updated_at = excluded.updated_at
	`, u.ID, u.Timezone, string(params), now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser returns a user by id, or nil if it does not exist.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var params string
	var created, updated int64
	err := db.queryRow(ctx, `
		SELECT id, timezone, availability, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Timezone, &params, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &u.Availability); err != nil {
		return nil, fmt.Errorf("decode availability for %s: %w", id, err)
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

// ListUsersWithoutBatch returns ids of users with no batch starting at windowStart.
func (db *DB) ListUsersWithoutBatch(ctx context.Context, windowStart time.Time) ([]string, error) {
	rows, err := db.query(ctx, `
		SELECT u.id FROM users u
		WHERE NOT EXISTS (
			SELECT 1 FROM generation_batches b
			WHERE b.user_id = u.id AND b.window_start = ?
		)
		ORDER BY u.id
	`, windowStart.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list users without batch: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeList[T any](items []T) (string, error) {
	if items == nil {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList[T any](raw string) ([]T, error) {
	var out []T
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
