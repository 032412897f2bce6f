package appointments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/messaging"
	"github.com/wolfman30/rescue-triage/internal/notify"
)

type stubCaller struct {
	to     string
	params map[string]any
	sid    string
	err    error
	calls  int
}

func (c *stubCaller) CreateExecution(ctx context.Context, to string, parameters map[string]any) (*messaging.Execution, error) {
	c.calls++
	c.to = to
	c.params = parameters
	if c.err != nil {
		return nil, c.err
	}
	sid := c.sid
	if sid == "" {
		sid = "FN" + strings.Repeat("0", 8)
	}
	return &messaging.Execution{SID: sid, Status: "active", Raw: map[string]any{"sid": sid}}, nil
}

type recordingNotifier struct {
	summaries []notify.AppointmentSummary
}

func (n *recordingNotifier) NotifyAppointmentConfirmed(ctx context.Context, s notify.AppointmentSummary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

func newIntake(t *testing.T, store *intake.InMemoryStore, species, description string) *intake.Intake {
	t.Helper()
	in, err := store.CreateIntake(context.Background(), &intake.CreateIntakeRequest{Species: species, Description: description})
	require.NoError(t, err)
	_, err = store.CreateMessage(context.Background(), in.ID, intake.RoleUser, description, false)
	require.NoError(t, err)
	return in
}

func formParams(kv ...string) messaging.WebhookParams {
	values := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		values.Set(kv[i], kv[i+1])
	}
	return messaging.NewWebhookParams(values)
}

func TestCreateAndCallPlacesCall(t *testing.T) {
	store := intake.NewInMemoryStore()
	in := newIntake(t, store, "owl", "wing droops, found on road")
	caller := &stubCaller{sid: "FN123"}
	svc := NewService(store, caller, Options{VetNumber: "+15550001111"}, nil)

	appt, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)

	assert.Equal(t, intake.AppointmentStatusPending, appt.Status)
	assert.Equal(t, "FN123", appt.CallSID)
	assert.Equal(t, "+15550001111", caller.to)
	assert.Equal(t, in.ID, caller.params["intake_id"])
	assert.Equal(t, "owl", caller.params["species"])
	assert.Equal(t, "wing droops, found on road", caller.params["description"])
	assert.NotNil(t, appt.Payload["execution"])
}

func TestCreateAndCallTestMode(t *testing.T) {
	store := intake.NewInMemoryStore()
	in := newIntake(t, store, "fox", "limping")
	svc := NewService(store, nil, Options{TestMode: true}, nil)

	appt, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(appt.CallSID, "TEST-"))
	assert.Equal(t, true, appt.Payload["test_mode"])
}

func TestCreateAndCallReplacesPriorAppointment(t *testing.T) {
	store := intake.NewInMemoryStore()
	in := newIntake(t, store, "fox", "limping")
	svc := NewService(store, nil, Options{TestMode: true}, nil)

	first, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)
	second, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)

	_, err = store.GetAppointment(context.Background(), first.ID)
	assert.ErrorIs(t, err, intake.ErrAppointmentNotFound)
	current, err := store.FindByIntake(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestCreateAndCallFailuresCancel(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   CallErrorKind
		status int
	}{
		{"transport", &messaging.StudioTransportError{Err: errors.New("dial tcp: i/o timeout")}, KindTwilioConnection, 0},
		{"deadline", context.DeadlineExceeded, KindTwilioConnection, 0},
		{"api", &messaging.StudioAPIError{StatusCode: 400, Body: `{"message":"bad number"}`}, KindTwilioAPI, 400},
		{"other", errors.New("credentials missing"), KindTwilioAPI, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := intake.NewInMemoryStore()
			in := newIntake(t, store, "deer", "hit by car")
			svc := NewService(store, &stubCaller{err: tt.err}, Options{VetNumber: "+15550001111"}, nil)

			_, err := svc.CreateAndCall(context.Background(), in.ID)
			var callErr *CallError
			require.ErrorAs(t, err, &callErr)
			assert.Equal(t, tt.kind, callErr.Kind)
			assert.Equal(t, tt.status, callErr.StatusCode)

			appt, err := store.FindByIntake(context.Background(), in.ID)
			require.NoError(t, err)
			assert.Equal(t, intake.AppointmentStatusCancelled, appt.Status)
			assert.Equal(t, string(tt.kind), appt.Payload["error_kind"])
		})
	}
}

func TestMatchByIntakeIgnoresOtherPending(t *testing.T) {
	store := intake.NewInMemoryStore()
	svc := NewService(store, nil, Options{TestMode: true}, nil)
	ctx := context.Background()

	target := newIntake(t, store, "owl", "wing")
	other := newIntake(t, store, "fox", "leg")
	targetAppt, err := svc.CreateAndCall(ctx, target.ID)
	require.NoError(t, err)
	_, err = svc.CreateAndCall(ctx, other.ID)
	require.NoError(t, err)

	appt, err := svc.ProcessCallback(ctx, formParams("intake_id", target.ID, "speech_result", "Bring it at noon"))
	require.NoError(t, err)
	assert.Equal(t, targetAppt.ID, appt.ID)
	assert.Equal(t, intake.AppointmentStatusConfirmed, appt.Status)
	assert.Equal(t, "Bring it at noon", appt.Notes)
}

func TestMatchPriority(t *testing.T) {
	store := intake.NewInMemoryStore()
	svc := NewService(store, nil, Options{TestMode: true}, nil)
	ctx := context.Background()

	a := newIntake(t, store, "owl", "wing")
	b := newIntake(t, store, "fox", "leg")
	apptA, err := svc.CreateAndCall(ctx, a.ID)
	require.NoError(t, err)
	apptB, err := svc.CreateAndCall(ctx, b.ID)
	require.NoError(t, err)

	got, err := svc.match(ctx, formParams("CallSid", apptA.CallSID, "intake_id", b.ID))
	require.NoError(t, err)
	assert.Equal(t, apptA.ID, got.ID, "call sid wins over intake id")

	got, err = svc.match(ctx, formParams("CALL_SID", "CA-unknown", "IntakeId", a.ID))
	require.NoError(t, err)
	assert.Equal(t, apptA.ID, got.ID, "unknown call sid falls through to intake id")

	got, err = svc.match(ctx, formParams())
	require.NoError(t, err)
	assert.Equal(t, apptB.ID, got.ID, "newest pending appointment is the last resort")

	require.NoError(t, store.CancelAppointment(ctx, apptA.ID, nil))
	require.NoError(t, store.CancelAppointment(ctx, apptB.ID, nil))
	_, err = svc.match(ctx, formParams())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestProcessCallbackMergesPayloadAndNotifies(t *testing.T) {
	store := intake.NewInMemoryStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, &stubCaller{sid: "FN1"}, Options{VetNumber: "+15550001111"}, nil, WithNotifier(notifier))
	ctx := context.Background()

	in := newIntake(t, store, "owl", "wing droops")
	_, err := svc.CreateAndCall(ctx, in.ID)
	require.NoError(t, err)

	appt, err := svc.ProcessCallback(ctx, formParams("call_sid", "FN1"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfirmationNotes, appt.Notes)
	assert.NotNil(t, appt.Payload["execution"], "confirmation must not drop the execution payload")
	assert.NotNil(t, appt.Payload["callback"])

	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, "owl", notifier.summaries[0].Species)
	assert.Equal(t, "wing droops", notifier.summaries[0].Description)
}

func TestProcessStatusUpdateNeverChangesStatus(t *testing.T) {
	store := intake.NewInMemoryStore()
	svc := NewService(store, &stubCaller{sid: "FN1"}, Options{VetNumber: "+15550001111"}, nil)
	ctx := context.Background()

	in := newIntake(t, store, "owl", "wing")
	_, err := svc.CreateAndCall(ctx, in.ID)
	require.NoError(t, err)
	_, err = svc.ProcessCallback(ctx, formParams("call_sid", "FN1", "speech_result", "yes"))
	require.NoError(t, err)

	appt, err := svc.ProcessStatusUpdate(ctx, formParams("CallSid", "FN1", "CallStatus", "completed", "CallDuration", "42"))
	require.NoError(t, err)
	assert.Equal(t, intake.AppointmentStatusConfirmed, appt.Status)
	assert.Equal(t, "yes", appt.Notes)
	update, ok := appt.Payload["status_update"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", update["call_status"])
	assert.Equal(t, "42", update["call_duration"])
	assert.NotNil(t, appt.Payload["callback"])
}

func TestCreateAndCallUnknownIntake(t *testing.T) {
	svc := NewService(intake.NewInMemoryStore(), nil, Options{TestMode: true}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := svc.CreateAndCall(ctx, "missing")
	assert.ErrorIs(t, err, intake.ErrIntakeNotFound)
}
