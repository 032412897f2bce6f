package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newPostgresStoreWithQuerier(mock), mock
}

func TestPostgresGetIntakeDecodesPayload(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM intakes WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "species", "description", "photo_url", "status", "raw_payload", "created_at", "updated_at"}).
			AddRow(id, "owl", "wing droops", "", "responded", []byte(`{"danger":"low"}`), now, now))

	in, err := store.GetIntake(context.Background(), id)
	if err != nil {
		t.Fatalf("get intake: %v", err)
	}
	if in.Status != IntakeStatusResponded || in.RawPayload["danger"] != "low" {
		t.Fatalf("unexpected intake %#v", in)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetIntakeNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	mock.ExpectQuery("FROM intakes WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	if _, err := store.GetIntake(context.Background(), id); !errors.Is(err, ErrIntakeNotFound) {
		t.Fatalf("expected ErrIntakeNotFound, got %v", err)
	}
	if _, err := store.GetIntake(context.Background(), "not-a-uuid"); !errors.Is(err, ErrIntakeNotFound) {
		t.Fatalf("expected malformed id to be treated as missing, got %v", err)
	}
}

func TestPostgresResolveMessage(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	mock.ExpectExec("UPDATE chat_messages").
		WithArgs(id, "keep it warm").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.ResolveMessage(context.Background(), id, "keep it warm"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	missing := uuid.NewString()
	mock.ExpectExec("UPDATE chat_messages").
		WithArgs(missing, "x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.ResolveMessage(context.Background(), missing, "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReplaceAppointmentRunsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	intakeID := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM appointments").WithArgs(intakeID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), intakeID, "pending").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	appt, err := store.ReplaceAppointment(context.Background(), intakeID)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if appt.IntakeID != intakeID || appt.Status != AppointmentStatusPending {
		t.Fatalf("unexpected appointment %#v", appt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresConfirmMergesPayload(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	mock.ExpectExec(`UPDATE appointments SET status = \$3, notes = \$4, payload = COALESCE`).
		WithArgs(id, pgxmock.AnyArg(), "confirmed", "on my way").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.ConfirmAppointment(context.Background(), id, "on my way", map[string]any{"callback": map[string]any{"speech_result": "on my way"}})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresMergePayloadOnlyTouchesPayload(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	mock.ExpectExec(`UPDATE appointments SET payload = COALESCE`).
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MergePayload(context.Background(), id, map[string]any{"status_update": "completed"})
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound when no row updated, got %v", err)
	}
}

func TestPostgresFindByCallSID(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	intakeID := uuid.NewString()
	now := time.Now().UTC()
	mock.ExpectQuery("FROM appointments WHERE call_sid").
		WithArgs("FN42").
		WillReturnRows(pgxmock.NewRows([]string{"id", "intake_id", "status", "call_sid", "notes", "payload", "created_at", "updated_at"}).
			AddRow(id, intakeID, "pending", "FN42", "", []byte(`{"execution":{"sid":"FN42"}}`), now, now))

	appt, err := store.FindByCallSID(context.Background(), "FN42")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if appt.ID != id || appt.Payload["execution"] == nil {
		t.Fatalf("unexpected appointment %#v", appt)
	}
	if _, err := store.FindByCallSID(context.Background(), ""); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected blank call sid to miss, got %v", err)
	}
}
