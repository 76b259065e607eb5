// Package model holds the domain types shared by every rekindle component.
package model

import "time"

// Frequency is how often the user wants to be in touch with a contact.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyYearly   Frequency = "yearly"
	FrequencyFlexible Frequency = "flexible"
	FrequencyUnset    Frequency = "unset"
)

// Valid reports whether f is a known frequency. The empty string is not valid;
// callers normalize it to FrequencyUnset first.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly, FrequencyFlexible, FrequencyUnset:
		return true
	}
	return false
}

// CommStyle is the contact's preferred way of meeting.
type CommStyle string

const (
	StyleIRL  CommStyle = "irl"
	StyleURL  CommStyle = "url"
	StyleNone CommStyle = "none"
)

// Contact is a person in the user's network, as supplied by enrichment.
// Recency fields (LastContactAt, RecentlyMet) are only written by the lifecycle.
type Contact struct {
	ID                   int64      `json:"id"`
	UserID               string     `json:"user_id"`
	DisplayName          string     `json:"display_name"`
	Frequency            Frequency  `json:"frequency"`
	LastContactAt        *time.Time `json:"last_contact_at,omitempty"`
	RecentlyMet          bool       `json:"recently_met"`
	RecentlyMetAt        *time.Time `json:"recently_met_at,omitempty"`
	Tags                 []string   `json:"tags"`
	Groups               []string   `json:"groups"`
	Interests            []string   `json:"interests"`
	City                 string     `json:"city,omitempty"`
	Style                CommStyle  `json:"style"`
	NeedsFrequencyPrompt bool       `json:"needs_frequency_prompt"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsRecentlyMet reports whether the recently-met flag is still in effect at now.
// A flag without a timestamp stays in effect; otherwise it lapses after window.
func (c Contact) IsRecentlyMet(now time.Time, window time.Duration) bool {
	if !c.RecentlyMet {
		return false
	}
	if c.RecentlyMetAt == nil || window <= 0 {
		return true
	}
	return now.Sub(*c.RecentlyMetAt) < window
}

// CoMention counts how often two contacts came up together in the user's notes.
// A is always the lower id.
type CoMention struct {
	A     int64 `json:"a"`
	B     int64 `json:"b"`
	Count int   `json:"count"`
}

// Normalized returns the pair with A < B.
func (c CoMention) Normalized() CoMention {
	if c.A > c.B {
		c.A, c.B = c.B, c.A
	}
	return c
}
