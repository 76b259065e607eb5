package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

const contactColumns = `id, user_id, display_name, frequency, last_contact_at, recently_met, recently_met_at,
	tags, rel_groups, interests, city, comm_style, needs_frequency_prompt, updated_at`

// UpsertContacts writes an enrichment snapshot. Contacts not in the list are
// left alone. The recently-met flag is never touched here, a supplied
// last-contact date only moves forward, and setting a frequency clears any
// pending frequency prompt.
func (db *DB) UpsertContacts(ctx context.Context, userID string, contacts []model.Contact) error {
	return db.InTx(ctx, func(tx *Tx) error {
		now := time.Now().UnixMilli()
		for _, c := range contacts {
			freq := c.Frequency
			if freq == "" {
				freq = model.FrequencyUnset
			}
			style := c.Style
			if style == "" {
				style = model.StyleNone
			}
			tags, err := encodeList(c.Tags)
			if err != nil {
				return fmt.Errorf("encode tags: %w", err)
			}
			groups, err := encodeList(c.Groups)
			if err != nil {
				return fmt.Errorf("encode groups: %w", err)
			}
			interests, err := encodeList(c.Interests)
			if err != nil {
				return fmt.Errorf("encode interests: %w", err)
			}

			_, err = tx.exec(ctx, `
				INSERT INTO contacts (user_id, id, display_name, frequency, last_contact_at,
					tags, rel_groups, interests, city, comm_style, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (user_id, id) DO UPDATE SET
					display_name = excluded.display_name,
					frequency = excluded.frequency,
					last_contact_at = CASE
						WHEN excluded.last_contact_at IS NULL THEN contacts.last_contact_at
						WHEN contacts.last_contact_at IS NULL OR excluded.last_contact_at > contacts.last_contact_at THEN excluded.last_contact_at
						ELSE contacts.last_contact_at
					END,
					tags = excluded.tags,
					rel_groups = excluded.rel_groups,
					interests = excluded.interests,
					city = excluded.city,
					comm_style = excluded.comm_style,
					needs_frequency_prompt = CASE WHEN excluded.frequency <> 'unset' THEN 0 ELSE contacts.needs_frequency_prompt END,
					updated_at = excluded.updated_at
			`, userID, c.ID, c.DisplayName, string(freq), millisPtr(c.LastContactAt),
				tags, groups, interests, c.City, string(style), now)
			if err != nil {
				return fmt.Errorf("upsert contact %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ListContacts returns all of a user's contacts ordered by id.
func (db *DB) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	rows, err := db.query(ctx, `SELECT `+contactColumns+` FROM contacts WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// GetContact returns one contact, or nil if it does not exist.
func (db *DB) GetContact(ctx context.Context, userID string, id int64) (*model.Contact, error) {
	rows, err := db.query(ctx, `SELECT `+contactColumns+` FROM contacts WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	defer rows.Close()
	contacts, err := scanContacts(rows)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

func scanContacts(rows *sql.Rows) ([]model.Contact, error) {
	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var freq, style, tags, groups, interests string
		var last, metAt *int64
		var met, prompt int
		var updated int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.DisplayName, &freq, &last, &met, &metAt,
			&tags, &groups, &interests, &c.City, &style, &prompt, &updated); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Frequency = model.Frequency(freq)
		c.Style = model.CommStyle(style)
		c.LastContactAt = fromMillisPtr(last)
		c.RecentlyMet = met != 0
		c.RecentlyMetAt = fromMillisPtr(metAt)
		c.NeedsFrequencyPrompt = prompt != 0
		c.UpdatedAt = fromMillis(updated)

		var err error
		if c.Tags, err = decodeList[string](tags); err != nil {
			return nil, fmt.Errorf("decode tags for contact %d: %w", c.ID, err)
		}
		if c.Groups, err = decodeList[string](groups); err != nil {
			return nil, fmt.Errorf("decode groups for contact %d: %w", c.ID, err)
		}
		if c.Interests, err = decodeList[string](interests); err != nil {
			return nil, fmt.Errorf("decode interests for contact %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkContactsMet records a meeting: recently_met set, last contact moved to
// at. Contacts with no frequency get the prompt flag; their ids are returned.
func (t *Tx) MarkContactsMet(ctx context.Context, userID string, ids []int64, at time.Time) ([]int64, error) {
	ms := at.UnixMilli()
	var unset []int64
	for _, id := range ids {
		var freq string
		err := t.queryRow(ctx, `SELECT frequency FROM contacts WHERE user_id = ? AND id = ?`, userID, id).Scan(&freq)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read contact %d: %w", id, err)
		}
		prompt := freq == string(model.FrequencyUnset)

		if _, err := t.exec(ctx, `
			UPDATE contacts
			SET recently_met = 1, recently_met_at = ?, last_contact_at = ?,
				needs_frequency_prompt = CASE WHEN ? = 1 THEN 1 ELSE needs_frequency_prompt END,
				updated_at = ?
			WHERE user_id = ? AND id = ?
		`, ms, ms, boolInt(prompt), ms, userID, id); err != nil {
			return nil, fmt.Errorf("mark contact %d met: %w", id, err)
		}
		if prompt {
			unset = append(unset, id)
		}
	}
	return unset, nil
}

// ReplaceCoMentions swaps in a fresh set of co-mention counts for the user.
func (db *DB) ReplaceCoMentions(ctx context.Context, userID string, comentions []model.CoMention) error {
	return db.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.exec(ctx, `DELETE FROM comentions WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear comentions: %w", err)
		}
		merged := make(map[[2]int64]int)
		for _, m := range comentions {
			m = m.Normalized()
			if m.A == m.B || m.Count <= 0 {
				continue
			}
			merged[[2]int64{m.A, m.B}] += m.Count
		}
		for pair, count := range merged {
			if _, err := tx.exec(ctx, `
				INSERT INTO comentions (user_id, contact_a, contact_b, mention_count) VALUES (?, ?, ?, ?)
			`, userID, pair[0], pair[1], count); err != nil {
				return fmt.Errorf("insert comention: %w", err)
			}
		}
		return nil
	})
}

// ListCoMentions returns the user's co-mention counts.
func (db *DB) ListCoMentions(ctx context.Context, userID string) ([]model.CoMention, error) {
	rows, err := db.query(ctx, `
		SELECT contact_a, contact_b, mention_count FROM comentions
		WHERE user_id = ? ORDER BY contact_a, contact_b
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list comentions: %w", err)
	}
	defer rows.Close()

	var out []model.CoMention
	for rows.Next() {
		var m model.CoMention
		if err := rows.Scan(&m.A, &m.B, &m.Count); err != nil {
			return nil, fmt.Errorf("scan comention: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
