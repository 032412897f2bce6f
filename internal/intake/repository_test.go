package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func seedIntake(t *testing.T, store *InMemoryStore) *Intake {
	t.Helper()
	in, err := store.CreateIntake(context.Background(), &CreateIntakeRequest{
		Species:     " owl ",
		Description: "wing droops, found on road",
	})
	if err != nil {
		t.Fatalf("create intake: %v", err)
	}
	return in
}

func TestCreateIntakeValidation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateIntakeRequest
		want error
	}{
		{"blank description", CreateIntakeRequest{Species: "fox"}, ErrDescriptionRequired},
		{"too long", CreateIntakeRequest{Description: strings.Repeat("a", MaxDescriptionLength+1)}, ErrDescriptionTooLong},
		{"relative photo", CreateIntakeRequest{Description: "hurt", PhotoURL: "/uploads/a.jpg"}, ErrInvalidPhotoURL},
		{"ftp photo", CreateIntakeRequest{Description: "hurt", PhotoURL: "ftp://host/a.jpg"}, ErrInvalidPhotoURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := store.CreateIntake(ctx, &req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsValidationError(err) {
				t.Fatalf("expected validation error classification")
			}
		})
	}
}

func TestCreateIntakeDefaults(t *testing.T) {
	store := NewInMemoryStore()
	in, err := store.CreateIntake(context.Background(), &CreateIntakeRequest{Description: "  bleeding paw  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if in.Species != "unknown" {
		t.Fatalf("expected unknown species default, got %q", in.Species)
	}
	if in.Description != "bleeding paw" {
		t.Fatalf("expected trimmed description, got %q", in.Description)
	}
	if in.Status != IntakeStatusPending {
		t.Fatalf("expected pending status, got %s", in.Status)
	}
	if in.HasPhoto() {
		t.Fatalf("expected no photo")
	}
}

func TestMessagesKeepOrderAndResolveInPlace(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	in := seedIntake(t, store)

	user, _ := store.CreateMessage(ctx, in.ID, RoleUser, "first", false)
	pending, _ := store.CreateMessage(ctx, in.ID, RoleAssistant, "", true)

	if err := store.ResolveMessage(ctx, pending.ID, "keep it warm"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	msgs, err := store.ListMessages(ctx, in.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != user.ID || msgs[1].ID != pending.ID {
		t.Fatalf("unexpected order: %#v", msgs)
	}
	if msgs[1].Pending || msgs[1].Content != "keep it warm" {
		t.Fatalf("expected resolved message, got %#v", msgs[1])
	}

	if _, err := store.GetMessage(ctx, "other-intake", user.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected cross-intake lookup to fail, got %v", err)
	}
	if _, err := store.CreateMessage(ctx, "missing", RoleUser, "x", false); !errors.Is(err, ErrIntakeNotFound) {
		t.Fatalf("expected intake not found, got %v", err)
	}
}

func TestListStalePending(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	in := seedIntake(t, store)
	stale, _ := store.CreateMessage(ctx, in.ID, RoleAssistant, "", true)
	store.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, _ = store.CreateMessage(ctx, in.ID, RoleAssistant, "", true)
	_, _ = store.CreateMessage(ctx, in.ID, RoleUser, "", true)

	got, err := store.ListStalePending(ctx, base.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("expected only the stale assistant message, got %#v", got)
	}
}

func TestReplaceAppointmentKeepsOnePerIntake(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	in := seedIntake(t, store)

	first, err := store.ReplaceAppointment(ctx, in.ID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := store.ReplaceAppointment(ctx, in.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := store.GetAppointment(ctx, first.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected prior appointment destroyed, got %v", err)
	}
	got, err := store.FindByIntake(ctx, in.ID)
	if err != nil || got.ID != second.ID {
		t.Fatalf("expected second appointment, got %#v err=%v", got, err)
	}
	if got.Status != AppointmentStatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

func TestLatestPendingPrefersNewest(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	a := seedIntake(t, store)
	b := seedIntake(t, store)
	older, _ := store.ReplaceAppointment(ctx, a.ID)
	newer, _ := store.ReplaceAppointment(ctx, b.ID)

	got, err := store.LatestPending(ctx)
	if err != nil || got.ID != newer.ID {
		t.Fatalf("expected newest pending, got %#v err=%v", got, err)
	}
	_ = store.ConfirmAppointment(ctx, newer.ID, "ok", nil)
	got, err = store.LatestPending(ctx)
	if err != nil || got.ID != older.ID {
		t.Fatalf("expected older pending once newer confirmed, got %#v err=%v", got, err)
	}
}

func TestPayloadMergesNotReplaces(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	in := seedIntake(t, store)
	appt, _ := store.ReplaceAppointment(ctx, in.ID)

	if err := store.AssignCall(ctx, appt.ID, "FN123", map[string]any{"execution": map[string]any{"sid": "FN123"}}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := store.MergePayload(ctx, appt.ID, map[string]any{"status_update": map[string]any{"CallStatus": "ringing"}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := store.ConfirmAppointment(ctx, appt.ID, "bring it in", map[string]any{"callback": map[string]any{"speech_result": "bring it in"}}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, _ := store.FindByCallSID(ctx, "FN123")
	for _, key := range []string{"execution", "status_update", "callback"} {
		if _, ok := got.Payload[key]; !ok {
			t.Fatalf("expected payload key %q to survive, got %#v", key, got.Payload)
		}
	}
	if got.Status != AppointmentStatusConfirmed || got.Notes != "bring it in" {
		t.Fatalf("unexpected appointment %#v", got)
	}
}

func TestMergePayloadDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"a": 1}
	out := MergePayload(base, map[string]any{"a": 2, "b": 3})
	if base["a"] != 1 {
		t.Fatalf("base mutated: %#v", base)
	}
	if out["a"] != 2 || out["b"] != 3 {
		t.Fatalf("unexpected merge result %#v", out)
	}
}
