package triage

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/wolfman30/rescue-triage/internal/intake"
)

type stubAIClient struct {
	mu       sync.Mutex
	prompts  []string
	images   []string
	envelope []byte
	errs     []error
}

func (c *stubAIClient) Generate(ctx context.Context, prompt, imageURL string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	c.images = append(c.images, imageURL)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return c.envelope, nil
}

type recordingArchive struct {
	keys []string
}

func (a *recordingArchive) Put(ctx context.Context, intakeID, messageID string, envelope []byte) error {
	a.keys = append(a.keys, intakeID+"/"+messageID)
	return nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func seedTurn(t *testing.T, store *intake.InMemoryStore, species, description, photo string) (*intake.Intake, *intake.ChatMessage) {
	t.Helper()
	ctx := context.Background()
	in, err := store.CreateIntake(ctx, &intake.CreateIntakeRequest{Species: species, Description: description, PhotoURL: photo})
	if err != nil {
		t.Fatalf("create intake: %v", err)
	}
	if _, err := store.CreateMessage(ctx, in.ID, intake.RoleUser, description, false); err != nil {
		t.Fatalf("create user message: %v", err)
	}
	pending, err := store.CreateMessage(ctx, in.ID, intake.RoleAssistant, "", true)
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	return in, pending
}

func newTestOrchestrator(t *testing.T, store *intake.InMemoryStore, client AIClient, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	return NewOrchestrator(store, newTestBuilder(t), client, nil, opts...)
}

func TestProcessSuccessPersistsFormattedResponse(t *testing.T) {
	store := intake.NewInMemoryStore()
	in, pending := seedTurn(t, store, "owl", "wing droops, found on road", "https://img.example/owl.jpg")
	archive := &recordingArchive{}
	client := &stubAIClient{envelope: envelope(t, "```json\n"+validAssessmentJSON+"\n```")}
	o := newTestOrchestrator(t, store, client, WithResponseArchive(archive))

	if err := o.Process(context.Background(), in.ID, pending.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	msg, _ := store.GetMessage(context.Background(), in.ID, pending.ID)
	if msg.Pending {
		t.Fatalf("expected message resolved")
	}
	if !strings.Contains(msg.Content, "<li>Cover with a towel.</li>") {
		t.Fatalf("expected formatted handling list, got %q", msg.Content)
	}
	got, _ := store.GetIntake(context.Background(), in.ID)
	if got.Status != intake.IntakeStatusResponded {
		t.Fatalf("expected responded, got %s", got.Status)
	}
	if got.RawPayload["danger"] != "medium" {
		t.Fatalf("expected payload stored, got %#v", got.RawPayload)
	}
	if got.Species != "barn owl" {
		t.Fatalf("expected species corrected to barn owl, got %q", got.Species)
	}
	if client.images[0] != "https://img.example/owl.jpg" {
		t.Fatalf("expected image url on the first turn")
	}
	if len(archive.keys) != 1 || archive.keys[0] != in.ID+"/"+pending.ID {
		t.Fatalf("expected envelope archived, got %v", archive.keys)
	}
}

func TestProcessConnectTimeoutPersistsFallback(t *testing.T) {
	store := intake.NewInMemoryStore()
	in, pending := seedTurn(t, store, "owl", "wing droops, found on road", "")
	client := &stubAIClient{errs: []error{&url.Error{Op: "Post", URL: "https://ai.example", Err: timeoutErr{}}}}
	o := newTestOrchestrator(t, store, client)

	err := o.Process(context.Background(), in.ID, pending.ID)
	if KindOf(err) != KindAPIConnection {
		t.Fatalf("expected api_connection error, got %v", err)
	}

	got, _ := store.GetIntake(context.Background(), in.ID)
	if got.Status != intake.IntakeStatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if got.RawPayload["error_kind"] != string(KindAPIConnection) {
		t.Fatalf("expected error kind in payload, got %#v", got.RawPayload)
	}
	msg, _ := store.GetMessage(context.Background(), in.ID, pending.ID)
	if msg.Pending {
		t.Fatalf("pending flag must be cleared on failure")
	}
	if msg.Content != fallbackMessage(KindAPIConnection) {
		t.Fatalf("unexpected fallback content %q", msg.Content)
	}
}

func TestProcessClassifiesStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{503, KindAPIServer},
		{429, KindTemporary},
		{400, KindUnknown},
	}
	for _, tt := range tests {
		store := intake.NewInMemoryStore()
		in, pending := seedTurn(t, store, "fox", "limping", "")
		client := &stubAIClient{errs: []error{&HTTPStatusError{StatusCode: tt.status, URL: "x"}}}
		err := newTestOrchestrator(t, store, client).Process(context.Background(), in.ID, pending.ID)
		if KindOf(err) != tt.want {
			t.Fatalf("status %d: expected %s, got %v", tt.status, tt.want, err)
		}
		msg, _ := store.GetMessage(context.Background(), in.ID, pending.ID)
		if msg.Pending || msg.Content != fallbackMessage(tt.want) {
			t.Fatalf("status %d: unexpected message %#v", tt.status, msg)
		}
	}
}

func TestProcessRetryRendersSamePrompt(t *testing.T) {
	store := intake.NewInMemoryStore()
	in, pending := seedTurn(t, store, "owl", "wing droops", "")
	client := &stubAIClient{
		errs:     []error{&HTTPStatusError{StatusCode: 502, URL: "x"}, nil},
		envelope: envelope(t, validAssessmentJSON),
	}
	o := newTestOrchestrator(t, store, client)

	if err := o.Process(context.Background(), in.ID, pending.ID); KindOf(err) != KindAPIServer {
		t.Fatalf("expected api_server on first attempt, got %v", err)
	}
	if err := o.Process(context.Background(), in.ID, pending.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if client.prompts[0] != client.prompts[1] {
		t.Fatalf("retry should render the same prompt")
	}
	got, _ := store.GetIntake(context.Background(), in.ID)
	if got.Status != intake.IntakeStatusResponded {
		t.Fatalf("expected responded after retry, got %s", got.Status)
	}
}

func TestProcessCreatesPlaceholderWhenMessageMissing(t *testing.T) {
	store := intake.NewInMemoryStore()
	in, _ := seedTurn(t, store, "owl", "wing droops", "")
	client := &stubAIClient{envelope: envelope(t, validAssessmentJSON)}

	if err := newTestOrchestrator(t, store, client).Process(context.Background(), in.ID, "missing-id"); err != nil {
		t.Fatalf("process: %v", err)
	}
	msgs, _ := store.ListMessages(context.Background(), in.ID)
	if len(msgs) != 3 {
		t.Fatalf("expected a new assistant message, got %d messages", len(msgs))
	}
	if msgs[2].Pending || msgs[2].Role != intake.RoleAssistant || msgs[2].Content == "" {
		t.Fatalf("expected resolved placeholder, got %#v", msgs[2])
	}
}

func TestProcessUnparsableResponseUsesFallback(t *testing.T) {
	store := intake.NewInMemoryStore()
	in, pending := seedTurn(t, store, "owl", "wing droops", "")
	client := &stubAIClient{envelope: envelope(t, "I'm sorry, I cannot help.")}

	if err := newTestOrchestrator(t, store, client).Process(context.Background(), in.ID, pending.ID); err != nil {
		t.Fatalf("fallback should not fail the job: %v", err)
	}
	got, _ := store.GetIntake(context.Background(), in.ID)
	if got.Status != intake.IntakeStatusResponded || got.RawPayload["fallback"] != true {
		t.Fatalf("expected fallback payload, got %#v", got.RawPayload)
	}
	if got.Species != "owl" {
		t.Fatalf("fallback species must not overwrite the intake species, got %q", got.Species)
	}
	msg, _ := store.GetMessage(context.Background(), in.ID, pending.ID)
	if msg.Content != fallbackUserMessage {
		t.Fatalf("expected fallback user message, got %q", msg.Content)
	}
}

func TestProcessMissingIntake(t *testing.T) {
	store := intake.NewInMemoryStore()
	client := &stubAIClient{}
	err := newTestOrchestrator(t, store, client).Process(context.Background(), "nope", "nope")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(client.prompts) != 0 {
		t.Fatalf("ai must not be called for a missing intake")
	}
}

func TestClassifyClientErrorPassesThroughUnknown(t *testing.T) {
	boom := errors.New("boom")
	if got := classifyClientError(boom); got != boom {
		t.Fatalf("expected unknown error to propagate unchanged")
	}
	conn := ConnectionError("x", nil)
	if got := classifyClientError(conn); got != error(conn) {
		t.Fatalf("expected classified error to pass through")
	}
}
