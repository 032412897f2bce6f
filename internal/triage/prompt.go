package triage

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/pkg/htmltext"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	initialTemplateName      = "initial.tmpl"
	conversationTemplateName = "conversation.tmpl"
)

var requiredPlaceholders = map[string][]string{
	initialTemplateName:      {"Species", "Description", "ImageInstructions"},
	conversationTemplateName: {"Species", "History", "ImageNote"},
}

const imageInstructions = `
A photo of the animal is attached. Before answering:
- Confirm or correct the species from the photo.
- Look for visible wounds, bleeding, fractures, drooping wings or limbs, and signs of shock.
- Note anything in the photo that suggests the animal is a healthy juvenile that should be left alone.
`

const imageNote = "The finder sent a photo with their first message. You analyzed it then and may refer to it, but it is not attached again."

// Prompt is a rendered model prompt plus the image to attach, if any.
type Prompt struct {
	Template string
	Text     string
	ImageURL string
}

// IsInitial reports whether the prompt uses the first-turn template.
func (p Prompt) IsInitial() bool { return p.Template == initialTemplateName }

type initialData struct {
	Species           string
	Description       string
	ImageInstructions string
	Marker            string
}

type conversationData struct {
	Species   string
	History   string
	ImageNote string
	Marker    string
}

// PromptBuilder renders the initial and conversation templates.
type PromptBuilder struct {
	initial      *template.Template
	conversation *template.Template
}

// NewPromptBuilder loads templates from dir, or the embedded defaults when dir is empty.
func NewPromptBuilder(dir string) (*PromptBuilder, error) {
	var src fs.FS
	if strings.TrimSpace(dir) == "" {
		sub, err := fs.Sub(templateFS, "templates")
		if err != nil {
			return nil, ConfigurationError("open embedded templates", err)
		}
		src = sub
	} else {
		src = os.DirFS(dir)
	}
	return newPromptBuilderFS(src)
}

func newPromptBuilderFS(src fs.FS) (*PromptBuilder, error) {
	initial, err := loadTemplate(src, initialTemplateName)
	if err != nil {
		return nil, err
	}
	conversation, err := loadTemplate(src, conversationTemplateName)
	if err != nil {
		return nil, err
	}
	return &PromptBuilder{initial: initial, conversation: conversation}, nil
}

func loadTemplate(src fs.FS, name string) (*template.Template, error) {
	raw, err := fs.ReadFile(src, name)
	if err != nil {
		return nil, ConfigurationError("load prompt template "+name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, ConfigurationError("parse prompt template "+name, err)
	}
	found := make(map[string]bool)
	if tmpl.Tree != nil {
		collectFields(tmpl.Tree.Root, found)
	}
	var missing []string
	for _, field := range requiredPlaceholders[name] {
		if !found[field] {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, ConfigurationError(fmt.Sprintf("prompt template %s missing placeholders: %s", name, strings.Join(missing, ", ")), nil)
	}
	return tmpl, nil
}

func collectFields(node parse.Node, found map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, found)
		}
	case *parse.ActionNode:
		collectFields(n.Pipe, found)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			for _, arg := range cmd.Args {
				collectFields(arg, found)
			}
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			found[n.Ident[0]] = true
		}
	case *parse.IfNode:
		collectBranch(&n.BranchNode, found)
	case *parse.RangeNode:
		collectBranch(&n.BranchNode, found)
	case *parse.WithNode:
		collectBranch(&n.BranchNode, found)
	}
}

func collectBranch(b *parse.BranchNode, found map[string]bool) {
	collectFields(b.Pipe, found)
	collectFields(b.List, found)
	if b.ElseList != nil {
		collectFields(b.ElseList, found)
	}
}

// Build renders the prompt for the intake. messages may include pending
// placeholders; only finalized turns count toward the template choice.
func (b *PromptBuilder) Build(in *intake.Intake, messages []intake.ChatMessage) (Prompt, error) {
	if in == nil {
		return Prompt{}, ValidationError("intake is required to build a prompt")
	}
	final := make([]intake.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if !msg.Pending {
			final = append(final, msg)
		}
	}

	var buf bytes.Buffer
	if len(final) <= 1 {
		data := initialData{
			Species:     in.Species,
			Description: in.Description,
			Marker:      HandlingMarker,
		}
		if in.HasPhoto() {
			data.ImageInstructions = imageInstructions
		}
		if err := b.initial.Execute(&buf, data); err != nil {
			return Prompt{}, ConfigurationError("render initial prompt", err)
		}
		return Prompt{Template: initialTemplateName, Text: buf.String(), ImageURL: in.PhotoURL}, nil
	}

	data := conversationData{
		Species: in.Species,
		History: formatHistory(final),
		Marker:  HandlingMarker,
	}
	if in.HasPhoto() {
		data.ImageNote = imageNote
	}
	if err := b.conversation.Execute(&buf, data); err != nil {
		return Prompt{}, ConfigurationError("render conversation prompt", err)
	}
	return Prompt{Template: conversationTemplateName, Text: buf.String()}, nil
}

func formatHistory(messages []intake.ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, roleLabel(msg.Role)+": "+htmltext.PlainText(msg.Content))
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role intake.Role) string {
	switch intake.Role(strings.ToLower(strings.TrimSpace(string(role)))) {
	case intake.RoleUser:
		return "USER"
	case intake.RoleAssistant:
		return "ASSISTANT"
	default:
		return "UNKNOWN"
	}
}
