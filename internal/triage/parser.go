package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wolfman30/rescue-triage/internal/intake"
)

// RequiredFields must be present in every parsed assessment.
var RequiredFields = []string{"species", "condition", "injury", "handling", "danger", "error", "user_message"}

const fallbackUserMessage = intake.NoticeNoAssessment

type responseEnvelope struct {
	Candidates []envelopeCandidate `json:"candidates"`
}

type envelopeCandidate struct {
	Content *envelopeContent `json:"content,omitempty"`
}

type envelopeContent struct {
	Parts []envelopePart `json:"parts"`
}

type envelopePart struct {
	Text string `json:"text"`
}

// Assessment is the validated triage answer produced by the model.
type Assessment struct {
	Species     string `json:"species"`
	Condition   string `json:"condition"`
	Injury      string `json:"injury"`
	Handling    string `json:"handling"`
	Danger      string `json:"danger"`
	Error       bool   `json:"error"`
	UserMessage string `json:"user_message"`
	Fallback    bool   `json:"fallback,omitempty"`
	RawText     string `json:"raw_text,omitempty"`
}

// Payload returns the assessment as the structured data stored on the intake.
func (a Assessment) Payload() map[string]any {
	out := map[string]any{
		"species":      a.Species,
		"condition":    a.Condition,
		"injury":       a.Injury,
		"handling":     a.Handling,
		"danger":       a.Danger,
		"error":        a.Error,
		"user_message": a.UserMessage,
	}
	if a.Fallback {
		out["fallback"] = true
		out["raw_text"] = a.RawText
	}
	return out
}

// fallbackAssessment is returned instead of failing when the model text cannot be recovered.
func fallbackAssessment(raw string) Assessment {
	return Assessment{
		Species:     "unknown",
		Condition:   "unknown",
		Injury:      "unknown",
		Handling:    "",
		Danger:      "unknown",
		Error:       false,
		UserMessage: fallbackUserMessage,
		Fallback:    true,
		RawText:     raw,
	}
}

// ResponseParser turns a vendor envelope into a validated Assessment.
type ResponseParser struct{}

// Parse extracts, cleans and validates the model output. Unrecoverable text
// yields the fallback assessment; only structural envelope problems and
// missing fields are errors.
func (ResponseParser) Parse(envelope []byte) (Assessment, error) {
	text, err := extractText(envelope)
	if err != nil {
		return Assessment{}, err
	}

	fields, ok := decodeObject(text)
	if !ok {
		fields = fallbackFields(text)
	}
	if missing := missingFields(fields); len(missing) > 0 {
		return Assessment{}, ValidationError("response missing required fields: " + strings.Join(missing, ", "))
	}
	return assessmentFromFields(fields, text)
}

func extractText(envelope []byte) (string, error) {
	var env responseEnvelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return "", ParseError("response envelope is not valid JSON", string(envelope))
	}
	if len(env.Candidates) == 0 || env.Candidates[0].Content == nil || len(env.Candidates[0].Content.Parts) == 0 {
		return "", ParseError("response envelope has no candidate text", string(envelope))
	}
	return env.Candidates[0].Content.Parts[0].Text, nil
}

// stripCodeFence removes a leading ```lang line and a trailing ``` marker.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// braceSpan returns the text from the first '{' to the last '}'.
func braceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func decodeObject(text string) (map[string]json.RawMessage, bool) {
	cleaned := stripCodeFence(text)
	candidate := cleaned
	if !(strings.HasPrefix(cleaned, "{") && strings.HasSuffix(cleaned, "}")) {
		span, ok := braceSpan(cleaned)
		if !ok {
			return nil, false
		}
		candidate = span
	}
	if fields, err := unmarshalObject(candidate); err == nil {
		return fields, true
	}
	// Retry once on the outermost braces of the unstripped text.
	if span, ok := braceSpan(text); ok && span != candidate {
		if fields, err := unmarshalObject(span); err == nil {
			return fields, true
		}
	}
	return nil, false
}

func unmarshalObject(s string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("triage: null object")
	}
	return fields, nil
}

func fallbackFields(raw string) map[string]json.RawMessage {
	data, _ := json.Marshal(fallbackAssessment(raw))
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(data, &fields)
	return fields
}

func missingFields(fields map[string]json.RawMessage) []string {
	var missing []string
	for _, name := range RequiredFields {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func assessmentFromFields(fields map[string]json.RawMessage, text string) (Assessment, error) {
	var a Assessment
	a.Species = looseString(fields["species"])
	a.Condition = looseString(fields["condition"])
	a.Injury = looseString(fields["injury"])
	a.Handling = looseString(fields["handling"])
	a.Danger = looseString(fields["danger"])
	a.UserMessage = looseString(fields["user_message"])
	a.Error = looseBool(fields["error"])
	if raw, ok := fields["fallback"]; ok && looseBool(raw) {
		a.Fallback = true
		a.RawText = text
	}
	return a, nil
}

// looseString accepts strings, numbers, booleans, string arrays and null.
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if str := strings.TrimSpace(fmt.Sprint(item)); str != "" {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return string(raw)
}

func looseBool(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, perr := strconv.ParseBool(strings.TrimSpace(s))
		return perr == nil && parsed
	}
	return false
}
