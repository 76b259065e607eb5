package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/store"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Manager, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.UpsertUser(ctx, model.User{ID: "u1", Timezone: "UTC"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	last := now.AddDate(0, -2, 0)
	err = db.UpsertContacts(ctx, "u1", []model.Contact{
		{ID: 1, DisplayName: "Ana", Frequency: model.FrequencyMonthly, LastContactAt: &last},
		{ID: 2, DisplayName: "Ben"},
		{ID: 3, DisplayName: "Cy", Frequency: model.FrequencyWeekly},
	})
	if err != nil {
		t.Fatalf("UpsertContacts: %v", err)
	}

	start := now.Add(24 * time.Hour)
	suggestion := func(id string, ids ...int64) model.Suggestion {
		typ := model.TypeIndividual
		if len(ids) > 1 {
			typ = model.TypeGroup
		}
		return model.Suggestion{
			ID: id, UserID: "u1", BatchID: "b1", Type: typ, ContactIDs: ids,
			Slot:    model.TimeSlot{Start: start, End: start.Add(time.Hour), Timezone: "UTC", InPerson: true},
			Trigger: model.TriggerTimeBound, Medium: model.MediumInPerson,
			Priority: 50, Status: model.StatusPending, Version: 1, CreatedAt: now, UpdatedAt: now,
		}
	}
	err = db.SaveBatch(ctx, model.Batch{
		ID: "b1", UserID: "u1", WindowStart: now, WindowEnd: now.Add(168 * time.Hour), CreatedAt: now,
	}, []model.Suggestion{suggestion("group", 1, 2), suggestion("solo", 3)})
	if err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	m := New(db, zerolog.Nop())
	m.SetClock(func() time.Time { return now })
	return m, db
}

func TestAccept(t *testing.T) {
	m, db := setup(t)
	ctx := context.Background()

	s, err := m.Accept(ctx, "group")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if s.Status != model.StatusAccepted || s.Version != 2 {
		t.Errorf("status/version = %s/%d, want accepted/2", s.Status, s.Version)
	}

	n, err := db.CountInteractions(ctx, "group")
	if err != nil {
		t.Fatalf("CountInteractions: %v", err)
	}
	if n != 1 {
		t.Errorf("interactions = %d, want 1", n)
	}

	for _, id := range []int64{1, 2} {
		c, _ := db.GetContact(ctx, "u1", id)
		if !c.RecentlyMet {
			t.Errorf("contact %d should be recently met", id)
		}
		if c.LastContactAt == nil || !c.LastContactAt.Equal(now) {
			t.Errorf("contact %d LastContactAt = %v, want %v", id, c.LastContactAt, now)
		}
	}
	ben, _ := db.GetContact(ctx, "u1", 2)
	if !ben.NeedsFrequencyPrompt {
		t.Error("contact with unset frequency should be flagged for a prompt")
	}

	cal, _ := db.ListOutbox(ctx, store.OpCalendarPublish)
	if len(cal) != 1 {
		t.Fatalf("calendar entries = %d, want 1", len(cal))
	}
	var payload CalendarPayload
	if err := json.Unmarshal(cal[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SuggestionID != "group" || len(payload.ContactIDs) != 2 || payload.Title != "Meet up with 2 friends" {
		t.Errorf("payload = %+v", payload)
	}

	prompts, _ := db.ListOutbox(ctx, store.OpPreferencePrompt)
	if len(prompts) != 1 {
		t.Fatalf("prompt entries = %d, want 1", len(prompts))
	}
	var prompt PromptPayload
	json.Unmarshal(prompts[0].Payload, &prompt)
	if prompt.ContactID != 2 {
		t.Errorf("prompt contact = %d, want 2", prompt.ContactID)
	}
}

func TestTerminalStatesReject(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	if _, err := m.Accept(ctx, "solo"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := m.Dismiss(ctx, "solo", "busy"); !model.IsConflictError(err) {
		t.Errorf("dismiss after accept err = %v, want ConflictError", err)
	}
	if _, err := m.Snooze(ctx, "solo", time.Hour); !model.IsConflictError(err) {
		t.Errorf("snooze after accept err = %v, want ConflictError", err)
	}
	if _, err := m.Accept(ctx, "solo"); !model.IsConflictError(err) {
		t.Errorf("accept twice err = %v, want ConflictError", err)
	}

	if _, err := m.Dismiss(ctx, "group", "not now"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if _, err := m.Accept(ctx, "group"); !model.IsConflictError(err) {
		t.Errorf("accept after dismiss err = %v, want ConflictError", err)
	}
}

func TestNotFound(t *testing.T) {
	m, _ := setup(t)
	if _, err := m.Accept(context.Background(), "missing"); !model.IsNotFoundError(err) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestDismissRequiresReason(t *testing.T) {
	m, _ := setup(t)
	if _, err := m.Dismiss(context.Background(), "solo", "  "); !model.IsValidationError(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestDismissMetTooRecently(t *testing.T) {
	m, db := setup(t)
	ctx := context.Background()

	s, err := m.Dismiss(ctx, "group", model.ReasonMetTooRecently)
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if s.DismissalReason == nil || *s.DismissalReason != model.ReasonMetTooRecently {
		t.Errorf("DismissalReason = %v", s.DismissalReason)
	}

	for _, id := range []int64{1, 2} {
		c, _ := db.GetContact(ctx, "u1", id)
		if !c.RecentlyMet || c.LastContactAt == nil || !c.LastContactAt.Equal(now) {
			t.Errorf("contact %d not marked met: %+v", id, c)
		}
	}
	n, _ := db.CountInteractions(ctx, "group")
	if n != 0 {
		t.Errorf("interactions = %d, want 0", n)
	}
	prompts, _ := db.ListOutbox(ctx, store.OpPreferencePrompt)
	if len(prompts) != 1 {
		t.Errorf("prompt entries = %d, want 1", len(prompts))
	}
	cal, _ := db.ListOutbox(ctx, store.OpCalendarPublish)
	if len(cal) != 0 {
		t.Errorf("calendar entries = %d, want 0", len(cal))
	}
}

func TestDismissOtherReasonLeavesContacts(t *testing.T) {
	m, db := setup(t)
	ctx := context.Background()

	if _, err := m.Dismiss(ctx, "solo", "too busy"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	c, _ := db.GetContact(ctx, "u1", 3)
	if c.RecentlyMet {
		t.Error("plain dismissal must not mark the contact met")
	}
}

func TestSnooze(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	if _, err := m.Snooze(ctx, "solo", 0); !model.IsValidationError(err) {
		t.Errorf("zero duration err = %v, want ValidationError", err)
	}
	if _, err := m.Snooze(ctx, "solo", MaxSnooze+time.Hour); !model.IsValidationError(err) {
		t.Errorf("long duration err = %v, want ValidationError", err)
	}

	s, err := m.Snooze(ctx, "solo", 48*time.Hour)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if s.Status != model.StatusSnoozed || s.SnoozedUntil == nil || !s.SnoozedUntil.Equal(now.Add(48*time.Hour)) {
		t.Errorf("snoozed = %s until %v", s.Status, s.SnoozedUntil)
	}

	// Still snoozed: hidden, and acting on it conflicts.
	list, _ := m.List(ctx, "u1")
	if len(list) != 1 || list[0].ID != "group" {
		t.Errorf("actionable = %v, want [group]", list)
	}
	if _, err := m.Accept(ctx, "solo"); !model.IsConflictError(err) {
		t.Errorf("accept while snoozed err = %v, want ConflictError", err)
	}

	// Window elapsed: actionable again.
	m.SetClock(func() time.Time { return now.Add(49 * time.Hour) })
	list, _ = m.List(ctx, "u1")
	if len(list) != 2 {
		t.Errorf("actionable after snooze = %d, want 2", len(list))
	}
	s, err = m.Accept(ctx, "solo")
	if err != nil {
		t.Fatalf("Accept after snooze: %v", err)
	}
	if s.Status != model.StatusAccepted || s.Version != 3 {
		t.Errorf("status/version = %s/%d, want accepted/3", s.Status, s.Version)
	}
}

func TestConcurrentDoubleDismissal(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Dismiss(ctx, "solo", "nope")
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case model.IsConflictError(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Errorf("ok = %d, conflicts = %d, want 1 and 1", ok, conflicts)
	}
}
