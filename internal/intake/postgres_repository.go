package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore stores intakes, chat messages and appointments in the relational database.
// Appointment payloads are merged with jsonb concatenation so concurrent webhooks
// writing disjoint keys never clobber each other.
type PostgresStore struct {
	db querier
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("intake: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithQuerier(db querier) *PostgresStore {
	if db == nil {
		panic("intake: querier required")
	}
	return &PostgresStore{db: db}
}

const intakeColumns = `id::text, species, description, COALESCE(photo_url, ''), status, raw_payload, created_at, updated_at`

func (s *PostgresStore) CreateIntake(ctx context.Context, req *CreateIntakeRequest) (*Intake, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in := &Intake{
		ID:          uuid.NewString(),
		Species:     req.Species,
		Description: req.Description,
		PhotoURL:    req.PhotoURL,
		Status:      IntakeStatusPending,
	}
	query := `
		INSERT INTO intakes (id, species, description, photo_url, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRow(ctx, query, in.ID, in.Species, in.Description, in.PhotoURL, string(in.Status)).
		Scan(&in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, fmt.Errorf("intake: insert intake failed: %w", err)
	}
	return in, nil
}

func (s *PostgresStore) GetIntake(ctx context.Context, id string) (*Intake, error) {
	if !validID(id) {
		return nil, ErrIntakeNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+intakeColumns+` FROM intakes WHERE id = $1`, id)
	var (
		in     Intake
		status string
		raw    []byte
	)
	if err := row.Scan(&in.ID, &in.Species, &in.Description, &in.PhotoURL, &status, &raw, &in.CreatedAt, &in.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntakeNotFound
		}
		return nil, fmt.Errorf("intake: select intake failed: %w", err)
	}
	in.Status = IntakeStatus(status)
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	in.RawPayload = payload
	return &in, nil
}

func (s *PostgresStore) UpdateIntakeResult(ctx context.Context, id string, status IntakeStatus, payload map[string]any) error {
	if !validID(id) {
		return ErrIntakeNotFound
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE intakes
		SET status = $2, raw_payload = $3::jsonb, updated_at = now()
		WHERE id = $1
	`, id, string(status), raw)
	if err != nil {
		return fmt.Errorf("intake: update intake result failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntakeNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateSpecies(ctx context.Context, id, species string) error {
	if !validID(id) {
		return ErrIntakeNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE intakes SET species = $2, updated_at = now() WHERE id = $1`, id, species)
	if err != nil {
		return fmt.Errorf("intake: update species failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntakeNotFound
	}
	return nil
}

const messageColumns = `id::text, intake_id::text, role, content, pending, created_at, updated_at`

func (s *PostgresStore) CreateMessage(ctx context.Context, intakeID string, role Role, content string, pending bool) (*ChatMessage, error) {
	if !validID(intakeID) {
		return nil, ErrIntakeNotFound
	}
	msg := &ChatMessage{
		ID:       uuid.NewString(),
		IntakeID: intakeID,
		Role:     role,
		Content:  content,
		Pending:  pending,
	}
	query := `
		INSERT INTO chat_messages (id, intake_id, role, content, pending)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRow(ctx, query, msg.ID, intakeID, string(role), content, pending).
		Scan(&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrIntakeNotFound
		}
		return nil, fmt.Errorf("intake: insert message failed: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, intakeID, messageID string) (*ChatMessage, error) {
	if !validID(intakeID) || !validID(messageID) {
		return nil, ErrMessageNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1 AND intake_id = $2`, messageID, intakeID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("intake: select message failed: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, intakeID string) ([]ChatMessage, error) {
	if !validID(intakeID) {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE intake_id = $1 ORDER BY seq`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("intake: list messages failed: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) ResolveMessage(ctx context.Context, messageID, content string) error {
	if !validID(messageID) {
		return ErrMessageNotFound
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE chat_messages
		SET content = $2, pending = false, updated_at = now()
		WHERE id = $1
	`, messageID, content)
	if err != nil {
		return fmt.Errorf("intake: resolve message failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE pending AND role = 'assistant' AND created_at < $1
		ORDER BY seq
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("intake: list stale pending failed: %w", err)
	}
	return collectMessages(rows)
}

const appointmentColumns = `id::text, intake_id::text, status, COALESCE(call_sid, ''), COALESCE(notes, ''), payload, created_at, updated_at`

// ReplaceAppointment enforces one appointment per intake inside a transaction.
func (s *PostgresStore) ReplaceAppointment(ctx context.Context, intakeID string) (*Appointment, error) {
	if !validID(intakeID) {
		return nil, ErrIntakeNotFound
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("intake: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM appointments WHERE intake_id = $1`, intakeID); err != nil {
		return nil, fmt.Errorf("intake: delete prior appointment failed: %w", err)
	}
	appt := &Appointment{
		ID:       uuid.NewString(),
		IntakeID: intakeID,
		Status:   AppointmentStatusPending,
		Payload:  map[string]any{},
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, intake_id, status, payload)
		VALUES ($1, $2, $3, '{}'::jsonb)
		RETURNING created_at, updated_at
	`, appt.ID, intakeID, string(appt.Status)).Scan(&appt.CreatedAt, &appt.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrIntakeNotFound
		}
		return nil, fmt.Errorf("intake: insert appointment failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("intake: commit appointment: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	if !validID(id) {
		return nil, ErrAppointmentNotFound
	}
	return s.selectAppointment(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindByCallSID(ctx context.Context, callSID string) (*Appointment, error) {
	if callSID == "" {
		return nil, ErrAppointmentNotFound
	}
	return s.selectAppointment(ctx, `WHERE call_sid = $1`, callSID)
}

func (s *PostgresStore) FindByIntake(ctx context.Context, intakeID string) (*Appointment, error) {
	if !validID(intakeID) {
		return nil, ErrAppointmentNotFound
	}
	return s.selectAppointment(ctx, `WHERE intake_id = $1`, intakeID)
}

func (s *PostgresStore) LatestPending(ctx context.Context) (*Appointment, error) {
	return s.selectAppointment(ctx, `WHERE status = $1 ORDER BY created_at DESC LIMIT 1`, string(AppointmentStatusPending))
}

func (s *PostgresStore) AssignCall(ctx context.Context, id, callSID string, patch map[string]any) error {
	return s.updateAppointment(ctx, `call_sid = $3`, id, patch, callSID)
}

func (s *PostgresStore) CancelAppointment(ctx context.Context, id string, patch map[string]any) error {
	return s.updateAppointment(ctx, `status = $3`, id, patch, string(AppointmentStatusCancelled))
}

func (s *PostgresStore) ConfirmAppointment(ctx context.Context, id, notes string, patch map[string]any) error {
	return s.updateAppointment(ctx, `status = $3, notes = $4`, id, patch, string(AppointmentStatusConfirmed), notes)
}

func (s *PostgresStore) MergePayload(ctx context.Context, id string, patch map[string]any) error {
	return s.updateAppointment(ctx, "", id, patch)
}

func (s *PostgresStore) updateAppointment(ctx context.Context, set string, id string, patch map[string]any, args ...any) error {
	if !validID(id) {
		return ErrAppointmentNotFound
	}
	raw, err := encodePayload(patch)
	if err != nil {
		return err
	}
	if set != "" {
		set += ", "
	}
	query := `UPDATE appointments SET ` + set + `payload = COALESCE(payload, '{}'::jsonb) || $2::jsonb, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, append([]any{id, raw}, args...)...)
	if err != nil {
		return fmt.Errorf("intake: update appointment failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PostgresStore) selectAppointment(ctx context.Context, where string, args ...any) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments `+where, args...)
	var (
		appt   Appointment
		status string
		raw    []byte
	)
	if err := row.Scan(&appt.ID, &appt.IntakeID, &status, &appt.CallSID, &appt.Notes, &raw, &appt.CreatedAt, &appt.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("intake: select appointment failed: %w", err)
	}
	appt.Status = AppointmentStatus(status)
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	appt.Payload = payload
	return &appt, nil
}

func scanMessage(row pgx.Row) (*ChatMessage, error) {
	var (
		msg  ChatMessage
		role string
	)
	if err := row.Scan(&msg.ID, &msg.IntakeID, &role, &msg.Content, &msg.Pending, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	msg.Role = Role(role)
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]ChatMessage, error) {
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("intake: scan message failed: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intake: iterate messages failed: %w", err)
	}
	return out, nil
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("intake: encode payload: %w", err)
	}
	return raw, nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("intake: decode payload: %w", err)
	}
	return out, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
