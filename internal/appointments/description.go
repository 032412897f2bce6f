package appointments

import (
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/pkg/htmltext"
)

// MaxDescriptionLength bounds the text read to the vet by the voice flow.
const MaxDescriptionLength = 150

// BuildDescription summarises the emergency for a voice call. It prefers the
// first sentence of the latest finished assistant assessment, then the user's
// own words, then "<species> emergency". Canned failure replies are not
// assessments and are skipped.
func BuildDescription(in *intake.Intake, messages []intake.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != intake.RoleAssistant || msg.Pending {
			continue
		}
		text := htmltext.PlainText(msg.Content)
		if intake.IsNotice(text) {
			continue
		}
		if sentence := firstSentence(text); sentence != "" {
			return truncate(sentence, MaxDescriptionLength)
		}
	}

	var parts []string
	for _, msg := range messages {
		if msg.Role == intake.RoleUser {
			if text := htmltext.PlainText(msg.Content); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) > 0 {
		return truncate(strings.Join(parts, " "), MaxDescriptionLength)
	}

	species := "animal"
	if in != nil && strings.TrimSpace(in.Species) != "" && in.Species != "unknown" {
		species = strings.TrimSpace(in.Species)
	}
	return truncate(species+" emergency", MaxDescriptionLength)
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next == len(text) || text[next] == ' ' {
			return text[:next]
		}
	}
	return text
}

// truncate cuts s to at most limit runes, preferring a word boundary, and marks the cut with "...".
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit-3])
	if idx := strings.LastIndex(cut, " "); idx > 0 && utf8.RuneCountInString(cut[:idx]) > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}
