package store

import (
	"fmt"
	"strings"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Schema is kept to types both SQLite and Postgres accept. Timestamps are
// unix milliseconds; booleans are 0/1 integers; string sets are JSON text.
var migrations = []migration{
	{
		Version:     1,
		Description: "users and contacts: enrichment snapshot",
		SQL: `
CREATE TABLE users (
    id             TEXT PRIMARY KEY,
    timezone       TEXT NOT NULL,
    availability   TEXT NOT NULL DEFAULT '{}',
    created_at     BIGINT NOT NULL,
    updated_at     BIGINT NOT NULL
);

CREATE TABLE contacts (
    user_id                TEXT NOT NULL,
    id                     BIGINT NOT NULL,
    display_name           TEXT NOT NULL DEFAULT '',
    frequency              TEXT NOT NULL DEFAULT 'unset' CHECK (frequency IN ('daily', 'weekly', 'monthly', 'yearly', 'flexible', 'unset')),

    -- Recency, written by the lifecycle
    last_contact_at        BIGINT,
    recently_met           INTEGER NOT NULL DEFAULT 0,
    recently_met_at        BIGINT,

    -- Shared context
    tags                   TEXT NOT NULL DEFAULT '[]',
    rel_groups             TEXT NOT NULL DEFAULT '[]',
    interests              TEXT NOT NULL DEFAULT '[]',
    city                   TEXT NOT NULL DEFAULT '',
    comm_style             TEXT NOT NULL DEFAULT 'none' CHECK (comm_style IN ('irl', 'url', 'none')),

    needs_frequency_prompt INTEGER NOT NULL DEFAULT 0,
    updated_at             BIGINT NOT NULL,

    PRIMARY KEY (user_id, id),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE comentions (
    user_id        TEXT NOT NULL,
    contact_a      BIGINT NOT NULL,
    contact_b      BIGINT NOT NULL,
    mention_count  INTEGER NOT NULL,
    PRIMARY KEY (user_id, contact_a, contact_b),
    CHECK (contact_a < contact_b)
);
`,
	},
	{
		Version:     2,
		Description: "generation_batches and suggestions",
		SQL: `
CREATE TABLE generation_batches (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    window_start     BIGINT NOT NULL,
    window_end       BIGINT NOT NULL,
    suggestion_count INTEGER NOT NULL DEFAULT 0,
    created_at       BIGINT NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX idx_batches_user_window ON generation_batches(user_id, window_start);

CREATE TABLE suggestions (
    id                   TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL,
    batch_id             TEXT NOT NULL,
    kind                 TEXT NOT NULL CHECK (kind IN ('individual', 'group')),
    trigger_kind         TEXT NOT NULL CHECK (trigger_kind IN ('time_bound', 'shared_activity')),
    medium               TEXT NOT NULL CHECK (medium IN ('in_person', 'call')),
    contact_ids          TEXT NOT NULL,
    slot_start           BIGINT NOT NULL,
    slot_end             BIGINT NOT NULL,
    slot_timezone        TEXT NOT NULL,
    slot_in_person       INTEGER NOT NULL DEFAULT 0,
    anchor_event_id      TEXT,
    reasoning            TEXT NOT NULL DEFAULT '',
    priority             DOUBLE PRECISION NOT NULL,
    shared_context_score DOUBLE PRECISION,

    -- Lifecycle
    status               TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'dismissed', 'snoozed')),
    dismissal_reason     TEXT,
    snoozed_until        BIGINT,
    version              INTEGER NOT NULL DEFAULT 1,

    created_at           BIGINT NOT NULL,
    updated_at           BIGINT NOT NULL,

    FOREIGN KEY (batch_id) REFERENCES generation_batches(id)
);

CREATE INDEX idx_suggestions_user_status ON suggestions(user_id, status);
CREATE INDEX idx_suggestions_batch       ON suggestions(batch_id);

CREATE TABLE suggestion_contacts (
    batch_id       TEXT NOT NULL,
    contact_id     BIGINT NOT NULL,
    suggestion_id  TEXT NOT NULL,
    UNIQUE (batch_id, contact_id),
    FOREIGN KEY (suggestion_id) REFERENCES suggestions(id)
);
`,
	},
	{
		Version:     3,
		Description: "interactions and outbox: lifecycle side effects",
		SQL: `
CREATE TABLE interactions (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    suggestion_id  TEXT NOT NULL,
    contact_ids    TEXT NOT NULL,
    medium         TEXT NOT NULL,
    occurred_at    BIGINT NOT NULL
);

CREATE INDEX idx_interactions_user ON interactions(user_id, occurred_at DESC);

CREATE TABLE outbox (
    id              TEXT PRIMARY KEY,
    op              TEXT NOT NULL,
    aggregate_id    TEXT NOT NULL,
    payload         TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'done', 'failed')),
    attempt_count   INTEGER NOT NULL DEFAULT 0,
    next_attempt_at BIGINT NOT NULL,
    last_error      TEXT,
    created_at      BIGINT NOT NULL,
    updated_at      BIGINT NOT NULL
);

CREATE INDEX idx_outbox_ready ON outbox(status, next_attempt_at);
`,
	},
}

// statements splits a migration into single statements; the pgx driver
// does not accept several in one prepared Exec.
func statements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		lines := strings.Split(stmt, "\n")
		kept := lines[:0]
		for _, l := range lines {
			if strings.HasPrefix(strings.TrimSpace(l), "--") {
				continue
			}
			kept = append(kept, l)
		}
		if s := strings.TrimSpace(strings.Join(kept, "\n")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow(rebind(db.Driver, "SELECT COUNT(*) FROM schema_versions WHERE version = ?"), m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		for _, stmt := range statements(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}

		if _, err := tx.Exec(
			rebind(db.Driver, "INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
