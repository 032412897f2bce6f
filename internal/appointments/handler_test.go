package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/messaging"
)

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	r.Post("/api/intakes/{intakeID}/appointment", h.CreateAppointment)
	r.Post("/webhooks/twilio/appointment/callback", h.Callback)
	r.Post("/webhooks/twilio/appointment/status", h.StatusUpdate)
	return r
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) (*httptest.ResponseRecorder, webhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp webhookResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestCallbackHandler(t *testing.T) {
	store := intake.NewInMemoryStore()
	svc := NewService(store, nil, Options{TestMode: true}, nil)
	router := newTestRouter(svc)

	rec, resp := postForm(t, router, "/webhooks/twilio/appointment/callback", url.Values{"intake_id": {"nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	in := newIntake(t, store, "owl", "wing")
	appt, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)

	rec, resp = postForm(t, router, "/webhooks/twilio/appointment/callback", url.Values{"Intake_ID": {in.ID}, "Speech_Result": {"ok"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, appt.ID, resp.AppointmentID)
}

func TestStatusHandlerAlwaysOK(t *testing.T) {
	store := intake.NewInMemoryStore()
	svc := NewService(store, nil, Options{TestMode: true}, nil)
	router := newTestRouter(svc)

	rec, resp := postForm(t, router, "/webhooks/twilio/appointment/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)

	in := newIntake(t, store, "owl", "wing")
	appt, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)

	rec, resp = postForm(t, router, "/webhooks/twilio/appointment/status", url.Values{"CallSid": {appt.CallSID}, "CallStatus": {"in-progress"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

type mergeFailStore struct {
	intake.Store
}

func (mergeFailStore) MergePayload(context.Context, string, map[string]any) error {
	return errors.New("pq: connection reset by peer")
}

func TestStatusHandlerHidesStoreErrors(t *testing.T) {
	store := intake.NewInMemoryStore()
	svc := NewService(store, nil, Options{TestMode: true}, nil)
	in := newIntake(t, store, "owl", "wing")
	appt, err := svc.CreateAndCall(context.Background(), in.ID)
	require.NoError(t, err)

	router := newTestRouter(NewService(mergeFailStore{Store: store}, nil, Options{TestMode: true}, nil))
	rec, resp := postForm(t, router, "/webhooks/twilio/appointment/status", url.Values{"CallSid": {appt.CallSID}, "CallStatus": {"completed"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "not applied", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestCreateAppointmentHandlerStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"placed", nil, http.StatusCreated},
		{"api error", &messaging.StudioAPIError{StatusCode: 401}, http.StatusBadGateway},
		{"connection error", &messaging.StudioTransportError{Err: errors.New("refused")}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := intake.NewInMemoryStore()
			in := newIntake(t, store, "owl", "wing")
			svc := NewService(store, &stubCaller{err: tt.err}, Options{VetNumber: "+15550001111"}, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/intakes/"+in.ID+"/appointment", nil)
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	svc := NewService(intake.NewInMemoryStore(), nil, Options{TestMode: true}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/intakes/missing/appointment", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
