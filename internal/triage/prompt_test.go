package triage

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/wolfman30/rescue-triage/internal/intake"
)

func newTestBuilder(t *testing.T) *PromptBuilder {
	t.Helper()
	b, err := NewPromptBuilder("")
	if err != nil {
		t.Fatalf("load embedded templates: %v", err)
	}
	return b
}

func TestBuildInitialPromptWithoutPhoto(t *testing.T) {
	b := newTestBuilder(t)
	in := &intake.Intake{Species: "owl", Description: "wing droops, found on road"}
	msgs := []intake.ChatMessage{
		{Role: intake.RoleUser, Content: "wing droops, found on road"},
		{Role: intake.RoleAssistant, Pending: true},
	}

	p, err := b.Build(in, msgs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !p.IsInitial() {
		t.Fatalf("expected initial template, got %s", p.Template)
	}
	if !strings.Contains(p.Text, "owl") || !strings.Contains(p.Text, "wing droops, found on road") {
		t.Fatalf("prompt missing species or description:\n%s", p.Text)
	}
	if strings.Contains(p.Text, "A photo of the animal is attached") {
		t.Fatalf("did not expect image instructions without a photo")
	}
	if p.ImageURL != "" {
		t.Fatalf("expected no image url, got %q", p.ImageURL)
	}
}

func TestBuildInitialPromptWithPhoto(t *testing.T) {
	b := newTestBuilder(t)
	in := &intake.Intake{Species: "fox", Description: "limping", PhotoURL: "https://img.example/fox.png"}

	p, err := b.Build(in, []intake.ChatMessage{{Role: intake.RoleUser, Content: "limping"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(p.Text, "A photo of the animal is attached") {
		t.Fatalf("expected image instructions")
	}
	if p.ImageURL != in.PhotoURL {
		t.Fatalf("expected image url to be attached on the first turn")
	}
}

func TestBuildConversationPrompt(t *testing.T) {
	b := newTestBuilder(t)
	in := &intake.Intake{Species: "owl", Description: "wing droops", PhotoURL: "https://img.example/owl.jpg"}
	msgs := []intake.ChatMessage{
		{Role: intake.RoleUser, Content: "wing droops"},
		{Role: intake.RoleAssistant, Content: "<p>Put it in a <strong>box</strong>.</p>"},
		{Role: "Moderator", Content: "note from staff"},
		{Role: intake.RoleUser, Content: "it is breathing fast"},
		{Role: intake.RoleAssistant, Pending: true},
	}

	p, err := b.Build(in, msgs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.IsInitial() {
		t.Fatalf("expected conversation template")
	}
	if p.ImageURL != "" {
		t.Fatalf("image must not be re-sent after the first turn")
	}
	first := strings.Index(p.Text, "USER: wing droops")
	second := strings.Index(p.Text, "ASSISTANT: Put it in a box .")
	third := strings.Index(p.Text, "UNKNOWN: note from staff")
	fourth := strings.Index(p.Text, "USER: it is breathing fast")
	if first < 0 || second < first || third < second || fourth < third {
		t.Fatalf("transcript missing or out of order:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "sent a photo") {
		t.Fatalf("expected image note for intake with photo")
	}
}

func TestBuildTwoFinalMessagesUsesConversation(t *testing.T) {
	b := newTestBuilder(t)
	in := &intake.Intake{Species: "hedgehog", Description: "curled up"}
	msgs := []intake.ChatMessage{
		{Role: intake.RoleUser, Content: "curled up"},
		{Role: intake.RoleAssistant, Content: "Keep it warm."},
	}
	p, err := b.Build(in, msgs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.IsInitial() {
		t.Fatalf("two finalized messages should select the conversation template")
	}
}

func TestLoadTemplatesMissingPlaceholder(t *testing.T) {
	src := fstest.MapFS{
		initialTemplateName:      {Data: []byte("{{.Species}} {{.Description}}")},
		conversationTemplateName: {Data: []byte("{{.Species}} {{.History}} {{.ImageNote}}")},
	}
	_, err := newPromptBuilderFS(src)
	if KindOf(err) != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ImageInstructions") {
		t.Fatalf("expected missing placeholder to be named, got %v", err)
	}
}

func TestLoadTemplatesMissingFile(t *testing.T) {
	_, err := newPromptBuilderFS(fstest.MapFS{})
	var te *Error
	if !errors.As(err, &te) || te.Kind != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadTemplatesFromDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewPromptBuilder(dir); KindOf(err) != KindConfiguration {
		t.Fatalf("expected configuration error for empty template dir, got %v", err)
	}
}

func TestRoleLabel(t *testing.T) {
	cases := map[intake.Role]string{
		"user":       "USER",
		" Assistant": "ASSISTANT",
		"":           "UNKNOWN",
		"system":     "UNKNOWN",
	}
	for role, want := range cases {
		if got := roleLabel(role); got != want {
			t.Fatalf("roleLabel(%q) = %q, want %q", role, got, want)
		}
	}
}
