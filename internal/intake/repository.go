package intake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IntakeRepository persists intakes.
type IntakeRepository interface {
	CreateIntake(ctx context.Context, req *CreateIntakeRequest) (*Intake, error)
	GetIntake(ctx context.Context, id string) (*Intake, error)
	UpdateIntakeResult(ctx context.Context, id string, status IntakeStatus, payload map[string]any) error
	UpdateSpecies(ctx context.Context, id, species string) error
}

// MessageRepository persists chat turns.
type MessageRepository interface {
	CreateMessage(ctx context.Context, intakeID string, role Role, content string, pending bool) (*ChatMessage, error)
	GetMessage(ctx context.Context, intakeID, messageID string) (*ChatMessage, error)
	ListMessages(ctx context.Context, intakeID string) ([]ChatMessage, error)
	ResolveMessage(ctx context.Context, messageID, content string) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]ChatMessage, error)
}

// AppointmentRepository persists vet appointments.
type AppointmentRepository interface {
	ReplaceAppointment(ctx context.Context, intakeID string) (*Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	FindByCallSID(ctx context.Context, callSID string) (*Appointment, error)
	FindByIntake(ctx context.Context, intakeID string) (*Appointment, error)
	LatestPending(ctx context.Context) (*Appointment, error)
	AssignCall(ctx context.Context, id, callSID string, patch map[string]any) error
	CancelAppointment(ctx context.Context, id string, patch map[string]any) error
	ConfirmAppointment(ctx context.Context, id, notes string, patch map[string]any) error
	MergePayload(ctx context.Context, id string, patch map[string]any) error
}

// Store bundles the three tables behind one handle.
type Store interface {
	IntakeRepository
	MessageRepository
	AppointmentRepository
}

// InMemoryStore is a Store backed by maps, used in development and tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	now          func() time.Time
	intakes      map[string]*Intake
	messages     map[string]*ChatMessage
	order        []string
	appointments map[string]*Appointment
	apptSeq      map[string]int64
	seq          int64
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		intakes:      make(map[string]*Intake),
		messages:     make(map[string]*ChatMessage),
		appointments: make(map[string]*Appointment),
		apptSeq:      make(map[string]int64),
	}
}

// CreateIntake validates and stores a new pending intake.
func (s *InMemoryStore) CreateIntake(ctx context.Context, req *CreateIntakeRequest) (*Intake, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	in := &Intake{
		ID:          uuid.NewString(),
		Species:     req.Species,
		Description: req.Description,
		PhotoURL:    req.PhotoURL,
		Status:      IntakeStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.intakes[in.ID] = in
	s.mu.Unlock()
	copied := *in
	return &copied, nil
}

func (s *InMemoryStore) GetIntake(ctx context.Context, id string) (*Intake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intakes[id]
	if !ok {
		return nil, ErrIntakeNotFound
	}
	copied := *in
	copied.RawPayload = MergePayload(nil, in.RawPayload)
	return &copied, nil
}

func (s *InMemoryStore) UpdateIntakeResult(ctx context.Context, id string, status IntakeStatus, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intakes[id]
	if !ok {
		return ErrIntakeNotFound
	}
	in.Status = status
	in.RawPayload = payload
	in.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) UpdateSpecies(ctx context.Context, id, species string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intakes[id]
	if !ok {
		return ErrIntakeNotFound
	}
	in.Species = species
	in.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) CreateMessage(ctx context.Context, intakeID string, role Role, content string, pending bool) (*ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intakes[intakeID]; !ok {
		return nil, ErrIntakeNotFound
	}
	now := s.now()
	msg := &ChatMessage{
		ID:        uuid.NewString(),
		IntakeID:  intakeID,
		Role:      role,
		Content:   content,
		Pending:   pending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	copied := *msg
	return &copied, nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, intakeID, messageID string) (*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.IntakeID != intakeID {
		return nil, ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

// ListMessages returns the intake's messages in creation order.
func (s *InMemoryStore) ListMessages(ctx context.Context, intakeID string) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatMessage, 0)
	for _, id := range s.order {
		if msg := s.messages[id]; msg.IntakeID == intakeID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

// ResolveMessage sets the content and clears the pending flag in place.
func (s *InMemoryStore) ResolveMessage(ctx context.Context, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	msg.Content = content
	msg.Pending = false
	msg.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ChatMessage
	for _, id := range s.order {
		msg := s.messages[id]
		if !msg.Pending || msg.Role != RoleAssistant || !msg.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, *msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ReplaceAppointment drops any appointment for the intake and creates a pending one.
func (s *InMemoryStore) ReplaceAppointment(ctx context.Context, intakeID string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intakes[intakeID]; !ok {
		return nil, ErrIntakeNotFound
	}
	for id, appt := range s.appointments {
		if appt.IntakeID == intakeID {
			delete(s.appointments, id)
			delete(s.apptSeq, id)
		}
	}
	now := s.now()
	appt := &Appointment{
		ID:        uuid.NewString(),
		IntakeID:  intakeID,
		Status:    AppointmentStatusPending,
		Payload:   map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.seq++
	s.appointments[appt.ID] = appt
	s.apptSeq[appt.ID] = s.seq
	return copyAppointment(appt), nil
}

func (s *InMemoryStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(appt), nil
}

func (s *InMemoryStore) FindByCallSID(ctx context.Context, callSID string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, appt := range s.appointments {
		if appt.CallSID != "" && appt.CallSID == callSID {
			return copyAppointment(appt), nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (s *InMemoryStore) FindByIntake(ctx context.Context, intakeID string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, appt := range s.appointments {
		if appt.IntakeID == intakeID {
			return copyAppointment(appt), nil
		}
	}
	return nil, ErrAppointmentNotFound
}

// LatestPending returns the most recently created pending appointment of any intake.
func (s *InMemoryStore) LatestPending(ctx context.Context) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*Appointment
	for _, appt := range s.appointments {
		if appt.Status == AppointmentStatusPending {
			pending = append(pending, appt)
		}
	}
	if len(pending) == 0 {
		return nil, ErrAppointmentNotFound
	}
	sort.Slice(pending, func(i, j int) bool {
		return s.apptSeq[pending[i].ID] > s.apptSeq[pending[j].ID]
	})
	return copyAppointment(pending[0]), nil
}

func (s *InMemoryStore) AssignCall(ctx context.Context, id, callSID string, patch map[string]any) error {
	return s.mutateAppointment(id, func(appt *Appointment) {
		appt.CallSID = callSID
		appt.Payload = MergePayload(appt.Payload, patch)
	})
}

func (s *InMemoryStore) CancelAppointment(ctx context.Context, id string, patch map[string]any) error {
	return s.mutateAppointment(id, func(appt *Appointment) {
		appt.Status = AppointmentStatusCancelled
		appt.Payload = MergePayload(appt.Payload, patch)
	})
}

func (s *InMemoryStore) ConfirmAppointment(ctx context.Context, id, notes string, patch map[string]any) error {
	return s.mutateAppointment(id, func(appt *Appointment) {
		appt.Status = AppointmentStatusConfirmed
		appt.Notes = notes
		appt.Payload = MergePayload(appt.Payload, patch)
	})
}

func (s *InMemoryStore) MergePayload(ctx context.Context, id string, patch map[string]any) error {
	return s.mutateAppointment(id, func(appt *Appointment) {
		appt.Payload = MergePayload(appt.Payload, patch)
	})
}

func (s *InMemoryStore) mutateAppointment(id string, fn func(*Appointment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	fn(appt)
	appt.UpdatedAt = s.now()
	return nil
}

func copyAppointment(appt *Appointment) *Appointment {
	copied := *appt
	copied.Payload = MergePayload(nil, appt.Payload)
	return &copied
}
