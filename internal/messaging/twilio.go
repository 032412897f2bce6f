package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the HMAC-SHA1 signature Twilio attaches to webhooks.
const SignatureHeader = "X-Twilio-Signature"

// WebhookValidationError explains why a webhook was rejected.
type WebhookValidationError struct {
	Reason string
}

const (
	ReasonMissingSecret     = "missing_secret"
	ReasonMissingSignature  = "missing_signature"
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonMalformedBody     = "malformed_body"
)

func (e *WebhookValidationError) Error() string {
	return "messaging: webhook rejected: " + e.Reason
}

// WebhookVerifier checks Twilio request signatures against a shared secret.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier. An empty secret rejects every request.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify validates r, signed for webhookURL. It parses the form body.
func (v *WebhookVerifier) Verify(r *http.Request, webhookURL string) error {
	if v == nil || v.secret == "" {
		return &WebhookValidationError{Reason: ReasonMissingSecret}
	}
	signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if signature == "" {
		return &WebhookValidationError{Reason: ReasonMissingSignature}
	}
	if err := r.ParseForm(); err != nil {
		return &WebhookValidationError{Reason: ReasonMalformedBody}
	}
	if !v.Matches(webhookURL, r.PostForm, signature) {
		return &WebhookValidationError{Reason: ReasonSignatureMismatch}
	}
	return nil
}

// Matches reports whether signature is valid for webhookURL and params.
// The comparison is constant time and rejects signatures of a different length.
func (v *WebhookVerifier) Matches(webhookURL string, params url.Values, signature string) bool {
	expected := computeSignature(buildSignaturePayload(webhookURL, params), v.secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the signature Twilio would send for webhookURL and params.
func (v *WebhookVerifier) Sign(webhookURL string, params url.Values) string {
	return computeSignature(buildSignaturePayload(webhookURL, params), v.secret)
}

// buildSignaturePayload concatenates the URL and the key-sorted POST parameters.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)

	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// WebhookParams holds form fields keyed case- and underscore-insensitively,
// so call_sid, CallSid and CALL_SID resolve to the same value.
type WebhookParams struct {
	values map[string]string
	raw    url.Values
}

// ParseWebhookParams reads the form body of a webhook request.
func ParseWebhookParams(r *http.Request) (WebhookParams, error) {
	if err := r.ParseForm(); err != nil {
		return WebhookParams{}, fmt.Errorf("messaging: failed to parse form: %w", err)
	}
	return NewWebhookParams(r.Form), nil
}

// NewWebhookParams indexes values by normalized key. The first value wins.
func NewWebhookParams(values url.Values) WebhookParams {
	p := WebhookParams{values: make(map[string]string, len(values)), raw: values}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		norm := normalizeParamKey(key)
		if _, exists := p.values[norm]; !exists {
			p.values[norm] = strings.TrimSpace(vals[0])
		}
	}
	return p
}

// Get returns the first non-empty value among names.
func (p WebhookParams) Get(names ...string) string {
	for _, name := range names {
		if v := p.values[normalizeParamKey(name)]; v != "" {
			return v
		}
	}
	return ""
}

// Map returns the original fields as a flat map for payload storage.
func (p WebhookParams) Map() map[string]any {
	out := make(map[string]any, len(p.raw))
	for key, vals := range p.raw {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}

func normalizeParamKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}
