package model

import (
	"slices"
	"time"
)

type SuggestionType string

const (
	TypeIndividual SuggestionType = "individual"
	TypeGroup      SuggestionType = "group"
)

type Trigger string

const (
	TriggerTimeBound      Trigger = "time_bound"
	TriggerSharedActivity Trigger = "shared_activity"
)

type Medium string

const (
	MediumInPerson Medium = "in_person"
	MediumCall     Medium = "call"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDismissed Status = "dismissed"
	StatusSnoozed   Status = "snoozed"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDismissed
}

// ReasonMetTooRecently is the dismissal reason that also counts as a recent meeting.
const ReasonMetTooRecently = "met_too_recently"

// ScoreBreakdown lists what the members of a group have in common.
type ScoreBreakdown struct {
	Groups     []string `json:"groups,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	CoMentions int      `json:"co_mentions,omitempty"`
}

// GroupCandidate is a set of 2 or 3 contacts that clear the shared-context threshold.
type GroupCandidate struct {
	ContactIDs  []int64        `json:"contact_ids"`
	Score       float64        `json:"score"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
	MinDuration time.Duration  `json:"min_duration"`
}

// Suggestion is a persisted proposal to meet one contact or a small group.
type Suggestion struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	BatchID            string         `json:"batch_id"`
	Type               SuggestionType `json:"type"`
	ContactIDs         []int64        `json:"contact_ids"`
	Slot               TimeSlot       `json:"slot"`
	Trigger            Trigger        `json:"trigger"`
	Medium             Medium         `json:"medium"`
	AnchorEventID      string         `json:"anchor_event_id,omitempty"`
	Reasoning          string         `json:"reasoning"`
	Priority           float64        `json:"priority"`
	SharedContextScore *float64       `json:"shared_context_score,omitempty"`
	Status             Status         `json:"status"`
	DismissalReason    *string        `json:"dismissal_reason,omitempty"`
	SnoozedUntil       *time.Time     `json:"snoozed_until,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Version            int            `json:"version"`
}

// EffectiveStatus is the status callers act on: a snooze that has run out reads as pending.
func (s Suggestion) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusSnoozed && s.SnoozedUntil != nil && !s.SnoozedUntil.After(now) {
		return StatusPending
	}
	return s.Status
}

// Involves reports whether id is one of the suggestion's contacts.
func (s Suggestion) Involves(id int64) bool {
	return slices.Contains(s.ContactIDs, id)
}

// Batch records one generation run for a user and window bucket.
type Batch struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	SuggestionCount int       `json:"suggestion_count"`
	CreatedAt       time.Time `json:"created_at"`
}
