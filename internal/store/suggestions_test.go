package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

var batchStart = time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC)

func testBatch(id string) model.Batch {
	return model.Batch{
		ID:          id,
		UserID:      "u1",
		WindowStart: batchStart,
		WindowEnd:   batchStart.Add(168 * time.Hour),
		CreatedAt:   batchStart,
	}
}

func testSuggestion(id, batchID string, ids ...int64) model.Suggestion {
	loc, _ := time.LoadLocation("America/New_York")
	start := time.Date(2026, 10, 15, 14, 0, 0, 0, loc)
	typ := model.TypeIndividual
	var score *float64
	if len(ids) > 1 {
		typ = model.TypeGroup
		v := 72.5
		score = &v
	}
	return model.Suggestion{
		ID:                 id,
		UserID:             "u1",
		BatchID:            batchID,
		Type:               typ,
		ContactIDs:         ids,
		Slot:               model.TimeSlot{Start: start, End: start.Add(time.Hour), Timezone: "America/New_York", InPerson: true},
		Trigger:            model.TriggerTimeBound,
		Medium:             model.MediumInPerson,
		Reasoning:          "because",
		Priority:           81.25,
		SharedContextScore: score,
		Status:             model.StatusPending,
		Version:            1,
		CreatedAt:          batchStart,
		UpdatedAt:          batchStart,
	}
}

func TestSaveBatchRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")

	group := testSuggestion("s1", "b1", 1, 2)
	solo := testSuggestion("s2", "b1", 3)
	solo.Slot.Start = solo.Slot.Start.Add(-5 * time.Hour)
	solo.Slot.End = solo.Slot.Start.Add(30 * time.Minute)
	solo.Medium = model.MediumCall
	solo.Slot.InPerson = false

	if err := db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{group, solo}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	b, err := db.GetBatch(ctx, "b1")
	if err != nil || b == nil {
		t.Fatalf("GetBatch = %v, %v", b, err)
	}
	if b.SuggestionCount != 2 {
		t.Errorf("SuggestionCount = %d, want 2", b.SuggestionCount)
	}

	got, err := db.GetSuggestion(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("GetSuggestion = %v, %v", got, err)
	}
	if got.Type != model.TypeGroup || len(got.ContactIDs) != 2 || got.ContactIDs[1] != 2 {
		t.Errorf("group = %+v", got)
	}
	if got.SharedContextScore == nil || *got.SharedContextScore != 72.5 {
		t.Errorf("SharedContextScore = %v", got.SharedContextScore)
	}
	if !got.Slot.Start.Equal(group.Slot.Start) || got.Slot.Start.Location().String() != "America/New_York" {
		t.Errorf("Slot.Start = %v", got.Slot.Start)
	}
	if !got.Slot.InPerson {
		t.Error("Slot.InPerson lost")
	}

	list, err := db.ListSuggestions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSuggestions: %v", err)
	}
	if len(list) != 2 || list[0].ID != "s2" {
		t.Errorf("list order = %v, want s2 first (earlier slot)", ids(list))
	}
	if list[0].SharedContextScore != nil {
		t.Error("individual suggestion should have no shared context score")
	}
}

func TestSaveBatchIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")

	if err := db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{testSuggestion("s1", "b1", 1)}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	err := db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{testSuggestion("s9", "b1", 4)})
	if !errors.Is(err, model.ErrBatchExists) {
		t.Fatalf("second SaveBatch err = %v, want ErrBatchExists", err)
	}

	list, _ := db.ListSuggestions(ctx, "u1")
	if len(list) != 1 {
		t.Errorf("suggestions = %d, want 1", len(list))
	}
}

func TestSaveBatchRejectsContactInTwoSuggestions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")

	err := db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{
		testSuggestion("s1", "b1", 1, 2),
		testSuggestion("s2", "b1", 2),
	})
	if err == nil {
		t.Fatal("expected unique violation for contact 2")
	}

	b, _ := db.GetBatch(ctx, "b1")
	if b != nil {
		t.Error("failed batch should roll back entirely")
	}
}

func TestListOutstanding(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")

	pending := testSuggestion("s1", "b1", 1)
	snoozed := testSuggestion("s2", "b1", 2)
	snoozed.Status = model.StatusSnoozed
	until := batchStart.Add(48 * time.Hour)
	snoozed.SnoozedUntil = &until
	accepted := testSuggestion("s3", "b1", 3)
	accepted.Status = model.StatusAccepted

	if err := db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{pending, snoozed, accepted}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	out, err := db.ListOutstanding(ctx, "u1")
	if err != nil {
		t.Fatalf("ListOutstanding: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("outstanding = %v, want s1 and s2", ids(out))
	}
	for _, s := range out {
		if s.ID == "s2" && (s.SnoozedUntil == nil || !s.SnoozedUntil.Equal(until)) {
			t.Errorf("SnoozedUntil = %v, want %v", s.SnoozedUntil, until)
		}
	}
}

func TestSaveBatchKeepsDismissalAndSnooze(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")

	reason := "met_too_recently"
	dismissed := testSuggestion("s1", "b1", 1)
	dismissed.Status = model.StatusDismissed
	dismissed.DismissalReason = &reason
	until := batchStart.Add(36 * time.Hour)
	snoozed := testSuggestion("s2", "b1", 2)
	snoozed.Status = model.StatusSnoozed
	snoozed.SnoozedUntil = &until

	if err := db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{dismissed, snoozed}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	got, err := db.GetSuggestion(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("GetSuggestion s1: %v %v", got, err)
	}
	if got.DismissalReason == nil || *got.DismissalReason != reason {
		t.Errorf("DismissalReason = %v, want %q", got.DismissalReason, reason)
	}
	if got.SnoozedUntil != nil {
		t.Errorf("SnoozedUntil = %v, want nil", got.SnoozedUntil)
	}

	got, err = db.GetSuggestion(ctx, "s2")
	if err != nil || got == nil {
		t.Fatalf("GetSuggestion s2: %v %v", got, err)
	}
	if got.SnoozedUntil == nil || !got.SnoozedUntil.Equal(until) {
		t.Errorf("SnoozedUntil = %v, want %v", got.SnoozedUntil, until)
	}
	if got.DismissalReason != nil {
		t.Errorf("DismissalReason = %v, want nil", *got.DismissalReason)
	}
}

func TestApplyTransitionGuardsVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	db.SaveBatch(ctx, testBatch("b1"), []model.Suggestion{testSuggestion("s1", "b1", 1)})

	reason := "busy"
	tr := Transition{
		ID: "s1", FromStatus: model.StatusPending, FromVersion: 1,
		To: model.StatusDismissed, DismissalReason: &reason, At: batchStart.Add(time.Hour),
	}

	var first, second bool
	err := db.InTx(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.ApplyTransition(ctx, tr)
		return err
	})
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	db.InTx(ctx, func(tx *Tx) error {
		var err error
		second, err = tx.ApplyTransition(ctx, tr)
		return err
	})
	if !first {
		t.Error("first transition should apply")
	}
	if second {
		t.Error("stale version should not apply")
	}

	s, _ := db.GetSuggestion(ctx, "s1")
	if s.Status != model.StatusDismissed || s.Version != 2 {
		t.Errorf("status/version = %s/%d, want dismissed/2", s.Status, s.Version)
	}
	if s.DismissalReason == nil || *s.DismissalReason != "busy" {
		t.Errorf("DismissalReason = %v", s.DismissalReason)
	}
}

func ids(list []model.Suggestion) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
