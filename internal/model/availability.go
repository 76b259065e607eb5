package model

import "time"

// MinutesPerDay bounds every clock-minute field.
const MinutesPerDay = 24 * 60

// DefaultInPersonMinMinutes is used when a user has not set a threshold.
const DefaultInPersonMinMinutes = 60

// BusyInterval is a span the calendar reports as taken.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WeeklyBlock is a recurring window on a weekday, in minutes after local midnight.
// Remote marks manual availability that is only good for calls.
type WeeklyBlock struct {
	Weekday     time.Weekday `json:"weekday" validate:"gte=0,lte=6"`
	StartMinute int          `json:"start_minute" validate:"gte=0,lte=1440"`
	EndMinute   int          `json:"end_minute" validate:"gtfield=StartMinute,lte=1440"`
	Remote      bool         `json:"remote,omitempty"`
}

// NightRange is the daily quiet period. It wraps midnight when StartMinute > EndMinute.
type NightRange struct {
	StartMinute int `json:"start_minute" validate:"gte=0,lte=1440"`
	EndMinute   int `json:"end_minute" validate:"gte=0,lte=1440"`
}

// AvailabilityParams are the user's own constraints layered over the calendar.
type AvailabilityParams struct {
	ManualBlocks       []WeeklyBlock `json:"manual_blocks,omitempty" validate:"dive"`
	CommuteWindows     []WeeklyBlock `json:"commute_windows,omitempty" validate:"dive"`
	Night              *NightRange   `json:"night,omitempty"`
	InPersonMinMinutes int           `json:"in_person_min_minutes,omitempty" validate:"gte=0,lte=1440"`
}

// InPersonThreshold returns the minimum slot length for an in-person meeting.
func (p AvailabilityParams) InPersonThreshold() int {
	if p.InPersonMinMinutes <= 0 {
		return DefaultInPersonMinMinutes
	}
	return p.InPersonMinMinutes
}

// TimeSlot is a free interval in a user's schedule. Slots are computed per run
// and never stored on their own.
type TimeSlot struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
	InPerson bool      `json:"in_person"`
}

// CapacityMinutes is the whole number of minutes in the slot.
func (s TimeSlot) CapacityMinutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// Duration is the slot length.
func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// AnchorEvent is an external event that a shared-activity suggestion can hang off.
// MaxGuests of zero means no limit.
type AnchorEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	City      string    `json:"city,omitempty"`
	Interests []string  `json:"interests"`
	InPerson  bool      `json:"in_person"`
	MaxGuests int       `json:"max_guests,omitempty"`
}

// User carries what generation needs to know about the account.
type User struct {
	ID           string             `json:"id"`
	Timezone     string             `json:"timezone"`
	Availability AvailabilityParams `json:"availability"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Location resolves the user's timezone, falling back to UTC for an empty name.
func (u User) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(u.Timezone)
}
