package triage

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
)

// HandlingMarker is the sentence after which handling steps are listed.
const HandlingMarker = "Here's what to do right now:"

// ResponseFormatter turns the handling field into a rendered list inside the user message.
type ResponseFormatter struct {
	md goldmark.Markdown
}

func NewResponseFormatter() *ResponseFormatter {
	return &ResponseFormatter{md: goldmark.New()}
}

// Format returns the user-facing message. A blank handling field returns
// user_message unchanged; otherwise the message is rendered to HTML with the
// steps listed under the marker heading.
func (f *ResponseFormatter) Format(a Assessment) (string, error) {
	if strings.TrimSpace(a.Handling) == "" {
		return a.UserMessage, nil
	}
	steps := SplitSentences(a.Handling)
	if len(steps) == 0 {
		return a.UserMessage, nil
	}

	before, after := a.UserMessage, ""
	if idx := strings.Index(a.UserMessage, HandlingMarker); idx >= 0 {
		before = a.UserMessage[:idx]
		after = a.UserMessage[idx+len(HandlingMarker):]
	}

	var doc strings.Builder
	if text := strings.TrimSpace(before); text != "" {
		doc.WriteString(escapeMarkdown(text))
		doc.WriteString("\n\n")
	}
	doc.WriteString("### ")
	doc.WriteString(escapeMarkdown(HandlingMarker))
	doc.WriteString("\n\n")
	for i, step := range steps {
		fmt.Fprintf(&doc, "%d. %s\n", i+1, escapeMarkdown(step))
	}
	if text := strings.TrimSpace(after); text != "" {
		doc.WriteString("\n")
		doc.WriteString(escapeMarkdown(text))
		doc.WriteString("\n")
	}

	md := f.md
	if md == nil {
		md = goldmark.New()
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(doc.String()), &buf); err != nil {
		return "", fmt.Errorf("triage: render handling list: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SplitSentences splits on a period followed by whitespace or end of text.
// Each returned sentence keeps its period.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	for i, r := range runes {
		if r != '.' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" && s != "." {
			out = append(out, s)
		}
		start = i + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// escapeMarkdown backslash-escapes ASCII punctuation so model text renders literally.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(asciiPunctuation, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
