package engine

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/availability"
	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/store"
)

// Wednesday morning; the bucket runs Monday to Monday.
var now = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

type busyFunc func(ctx context.Context, userID string, from, to time.Time) ([]model.BusyInterval, error)

func (f busyFunc) BusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]model.BusyInterval, error) {
	return f(ctx, userID, from, to)
}

type anchorFunc func(ctx context.Context, userID string, from, to time.Time) ([]model.AnchorEvent, error)

func (f anchorFunc) AnchorEvents(ctx context.Context, userID string, from, to time.Time) ([]model.AnchorEvent, error) {
	return f(ctx, userID, from, to)
}

func freeCalendar() busyFunc {
	return func(context.Context, string, time.Time, time.Time) ([]model.BusyInterval, error) {
		return nil, nil
	}
}

func blockingCalendar() busyFunc {
	return func(ctx context.Context, _ string, _, _ time.Time) ([]model.BusyInterval, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *store.DB, id string) {
	t.Helper()
	ctx := context.Background()
	err := db.UpsertUser(ctx, model.User{
		ID:       id,
		Timezone: "UTC",
		Availability: model.AvailabilityParams{
			Night: &model.NightRange{StartMinute: 22 * 60, EndMinute: 7 * 60},
		},
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	last := now.AddDate(0, -2, 0)
	err = db.UpsertContacts(ctx, id, []model.Contact{
		{ID: 1, DisplayName: "Ana", Frequency: model.FrequencyMonthly, LastContactAt: &last, Groups: []string{"Climbing"}, Interests: []string{"jazz"}},
		{ID: 2, DisplayName: "Ben", Frequency: model.FrequencyMonthly, LastContactAt: &last, Groups: []string{"Climbing"}},
		{ID: 3, DisplayName: "Cy", Frequency: model.FrequencyWeekly, LastContactAt: &last},
	})
	if err != nil {
		t.Fatalf("UpsertContacts: %v", err)
	}
}

func testEngine(t *testing.T, db *store.DB, avail busyFunc, cfg Config) *Engine {
	t.Helper()
	var src availability.Source
	if avail != nil {
		src = avail
	}
	e := New(db, src, nil, cfg, zerolog.Nop())
	e.now = func() time.Time { return now }
	return e
}

func TestBatchID(t *testing.T) {
	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	if BatchID("u1", monday) != BatchID("u1", monday) {
		t.Error("BatchID should be stable")
	}
	if BatchID("u1", monday) == BatchID("u2", monday) {
		t.Error("BatchID should differ by user")
	}
	if BatchID("u1", monday) == BatchID("u1", monday.AddDate(0, 0, 7)) {
		t.Error("BatchID should differ by bucket")
	}
}

func TestBucketStart(t *testing.T) {
	e := New(nil, nil, nil, DefaultConfig(), zerolog.Nop())
	got := e.BucketStart(now)
	want := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BucketStart = %v, want %v (Monday)", got, want)
	}
	if !e.BucketStart(want.Add(-time.Nanosecond)).Equal(want.AddDate(0, 0, -7)) {
		t.Error("instant before Monday should fall in the previous bucket")
	}
}

func TestGenerateForUser(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, freeCalendar(), DefaultConfig())
	ctx := context.Background()

	res, err := e.GenerateForUser(ctx, "u1", now)
	if err != nil {
		t.Fatalf("GenerateForUser: %v", err)
	}
	if res.Skipped || res.Unavailable {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Suggestions) == 0 {
		t.Fatal("expected suggestions")
	}

	seen := make(map[int64]bool)
	for _, s := range res.Suggestions {
		if s.BatchID != res.BatchID || s.UserID != "u1" {
			t.Errorf("suggestion %s has batch %s user %s", s.ID, s.BatchID, s.UserID)
		}
		for _, id := range s.ContactIDs {
			if seen[id] {
				t.Errorf("contact %d in more than one suggestion", id)
			}
			seen[id] = true
		}
		if s.Slot.Start.Before(now) {
			t.Errorf("slot %v starts before now", s.Slot.Start)
		}
	}

	b, err := db.GetBatch(ctx, res.BatchID)
	if err != nil || b == nil {
		t.Fatalf("GetBatch = %v, %v", b, err)
	}
	if b.SuggestionCount != len(res.Suggestions) {
		t.Errorf("SuggestionCount = %d, want %d", b.SuggestionCount, len(res.Suggestions))
	}
	stored, _ := db.ListSuggestions(ctx, "u1")
	if len(stored) != len(res.Suggestions) {
		t.Errorf("stored = %d, want %d", len(stored), len(res.Suggestions))
	}
}

func TestGenerateForUserIdempotent(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, freeCalendar(), DefaultConfig())
	ctx := context.Background()

	first, err := e.GenerateForUser(ctx, "u1", now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := e.GenerateForUser(ctx, "u1", now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Skipped || second.BatchID != first.BatchID {
		t.Errorf("second = %+v, want skipped with batch %s", second, first.BatchID)
	}

	stored, _ := db.ListSuggestions(ctx, "u1")
	if len(stored) != len(first.Suggestions) {
		t.Errorf("stored = %d after re-run, want %d", len(stored), len(first.Suggestions))
	}
}

func TestGenerateForUserNextBucketRespectsOutstanding(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, freeCalendar(), DefaultConfig())
	ctx := context.Background()

	first, _ := e.GenerateForUser(ctx, "u1", now)
	next, err := e.GenerateForUser(ctx, "u1", now.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("next bucket: %v", err)
	}
	if next.Skipped {
		t.Fatal("new bucket should not be skipped")
	}
	busy := make(map[int64]bool)
	for _, s := range first.Suggestions {
		for _, id := range s.ContactIDs {
			busy[id] = true
		}
	}
	for _, s := range next.Suggestions {
		for _, id := range s.ContactIDs {
			if busy[id] {
				t.Errorf("contact %d already has an outstanding suggestion", id)
			}
		}
	}
}

func TestGenerateForUserDoesNotDoubleBook(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	cfg := DefaultConfig()
	cfg.Bucket = time.Hour
	e := testEngine(t, db, freeCalendar(), cfg)
	ctx := context.Background()

	first, err := e.GenerateForUser(ctx, "u1", now)
	if err != nil || len(first.Suggestions) == 0 {
		t.Fatalf("first run: %v %+v", err, first)
	}

	last := now.AddDate(0, -3, 0)
	if err := db.UpsertContacts(ctx, "u1", []model.Contact{
		{ID: 4, DisplayName: "Dee", Frequency: model.FrequencyWeekly, LastContactAt: &last},
	}); err != nil {
		t.Fatalf("UpsertContacts: %v", err)
	}

	// The next bucket's window starts inside the first batch's slots.
	next, err := e.GenerateForUser(ctx, "u1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next.Skipped {
		t.Fatal("next bucket should not be skipped")
	}
	if len(next.Suggestions) == 0 {
		t.Fatal("expected a suggestion for the new contact")
	}
	for _, n := range next.Suggestions {
		for _, f := range first.Suggestions {
			if n.Slot.Start.Before(f.Slot.End) && f.Slot.Start.Before(n.Slot.End) {
				t.Errorf("%v at %v overlaps outstanding %v at %v", n.ContactIDs, n.Slot.Start, f.ContactIDs, f.Slot.Start)
			}
		}
	}
}

func TestGenerateForUserUnknownUser(t *testing.T) {
	db := testDB(t)
	e := testEngine(t, db, freeCalendar(), DefaultConfig())
	if _, err := e.GenerateForUser(context.Background(), "ghost", now); !model.IsNotFoundError(err) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestGenerateForUserCalendarUnavailable(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	broken := busyFunc(func(context.Context, string, time.Time, time.Time) ([]model.BusyInterval, error) {
		return nil, errors.New("calendar 503")
	})
	e := testEngine(t, db, broken, DefaultConfig())

	res, err := e.GenerateForUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("GenerateForUser: %v", err)
	}
	if !res.Unavailable || len(res.Suggestions) != 0 {
		t.Errorf("result = %+v, want unavailable with no suggestions", res)
	}
	b, _ := db.GetBatch(context.Background(), res.BatchID)
	if b != nil {
		t.Error("empty batch should not be recorded when the calendar is down")
	}
}

func TestGenerateForUserWithoutCalendar(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, nil, DefaultConfig())

	res, err := e.GenerateForUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("GenerateForUser: %v", err)
	}
	if !res.Unavailable {
		t.Error("no calendar should mark the run unavailable")
	}
	for _, s := range res.Suggestions {
		if s.Trigger == model.TriggerTimeBound {
			t.Errorf("time-bound suggestion %v without a calendar", s.ContactIDs)
		}
	}
}

func TestGenerateForUserWithoutCalendarKeepsAnchors(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, nil, DefaultConfig())
	e.Anchors = anchorFunc(func(context.Context, string, time.Time, time.Time) ([]model.AnchorEvent, error) {
		return []model.AnchorEvent{{
			ID: "gig", Title: "Jazz night", Interests: []string{"jazz"}, InPerson: true,
			Start: now.Add(34 * time.Hour), End: now.Add(37 * time.Hour),
		}}, nil
	})

	res, err := e.GenerateForUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("GenerateForUser: %v", err)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0].Trigger != model.TriggerSharedActivity {
		t.Fatalf("suggestions = %+v, want the one shared-activity match", res.Suggestions)
	}
	if b, _ := db.GetBatch(context.Background(), res.BatchID); b == nil {
		t.Error("a batch with suggestions should be recorded")
	}
}

func TestGenerateForUserAnchorFailureIgnored(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, freeCalendar(), DefaultConfig())
	e.Anchors = anchorFunc(func(context.Context, string, time.Time, time.Time) ([]model.AnchorEvent, error) {
		return nil, errors.New("events feed down")
	})

	res, err := e.GenerateForUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("GenerateForUser: %v", err)
	}
	if len(res.Suggestions) == 0 {
		t.Error("time-bound suggestions should still be produced")
	}
}

func TestGenerateForUserTimeout(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	cfg := DefaultConfig()
	cfg.UserTimeout = 50 * time.Millisecond
	e := testEngine(t, db, blockingCalendar(), cfg)

	res, err := e.GenerateForUser(context.Background(), "u1", now)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	b, _ := db.GetBatch(context.Background(), res.BatchID)
	if b != nil {
		t.Error("timed-out run must not write a batch")
	}
}

func TestRunCycle(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"u1", "u2", "u3"} {
		seedUser(t, db, id)
	}
	slow := busyFunc(func(ctx context.Context, userID string, from, to time.Time) ([]model.BusyInterval, error) {
		if userID == "u3" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	})
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.UserTimeout = 100 * time.Millisecond
	e := testEngine(t, db, slow, cfg)
	ctx := context.Background()

	report, err := e.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Users != 3 || report.Created != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want 3 users, 2 created, 1 failed", report)
	}
	if report.Suggestions == 0 {
		t.Error("expected suggestions across the cycle")
	}

	remaining, _ := db.ListUsersWithoutBatch(ctx, e.BucketStart(now))
	if len(remaining) != 1 || remaining[0] != "u3" {
		t.Errorf("remaining = %v, want [u3]", remaining)
	}

	// The abandoned user is picked up next cycle.
	e.Availability = freeCalendar()
	report, err = e.RunCycle(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if report.Users != 1 || report.Created != 1 {
		t.Errorf("second report = %+v", report)
	}
}

func TestPlanDeterministic(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	e := testEngine(t, db, freeCalendar(), DefaultConfig())

	snap, err := e.Snapshot(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	a := e.Plan(snap, "batch", now)
	b := e.Plan(snap, "batch", now)
	if !reflect.DeepEqual(a, b) {
		t.Error("Plan should be deterministic")
	}
	if len(a) == 0 {
		t.Error("expected suggestions")
	}
}

func TestPlanUnknownTimezoneFallsBackToUTC(t *testing.T) {
	e := New(nil, nil, nil, DefaultConfig(), zerolog.Nop())
	last := now.AddDate(0, -2, 0)
	snap := &Snapshot{
		User:     model.User{ID: "u1", Timezone: "Mars/Olympus"},
		Contacts: []model.Contact{{ID: 1, Frequency: model.FrequencyWeekly, LastContactAt: &last}},
		Window:   availability.Window{From: now, To: now.AddDate(0, 0, 7)},
	}
	out := e.Plan(snap, "b", now)
	if len(out) != 1 || out[0].Slot.Timezone != "UTC" {
		t.Errorf("out = %+v", out)
	}
}

func TestStartTimerAndStop(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1")
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond

	var calls atomic.Int32
	counting := busyFunc(func(context.Context, string, time.Time, time.Time) ([]model.BusyInterval, error) {
		calls.Add(1)
		return nil, nil
	})
	e := testEngine(t, db, counting, cfg)
	e.StartTimer()
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		b, _ := db.GetBatch(context.Background(), BatchID("u1", e.BucketStart(now)))
		if b != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timer did not generate a batch")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.Stop()
	e.Stop() // safe to call twice

	if calls.Load() < 1 {
		t.Error("calendar never queried")
	}
}
