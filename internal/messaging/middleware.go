package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// SignatureOptions configures RequireSignature.
type SignatureOptions struct {
	// PublicBaseURL is the externally visible scheme://host Twilio signs against.
	// When empty the URL is rebuilt from the request and forwarded headers.
	PublicBaseURL string
	// Skip disables verification. Callers must only set it outside production.
	Skip   bool
	Logger *logging.Logger
}

// RequireSignature rejects webhook requests whose Twilio signature does not
// verify, with 403, before the wrapped handler runs.
func RequireSignature(verifier *WebhookVerifier, opts SignatureOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip {
				next.ServeHTTP(w, r)
				return
			}
			webhookURL := buildAbsoluteURL(r, opts.PublicBaseURL)
			if err := verifier.Verify(r, webhookURL); err != nil {
				var verr *WebhookValidationError
				reason := "unknown"
				if errors.As(err, &verr) {
					reason = verr.Reason
				}
				if reason == ReasonMissingSecret {
					logger.Error("twilio webhook secret not configured", "path", r.URL.Path)
				} else {
					logger.Warn("invalid twilio signature", "reason", reason, "path", r.URL.Path)
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func buildAbsoluteURL(r *http.Request, publicBaseURL string) string {
	if r.URL == nil {
		return ""
	}
	if base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"); base != "" {
		return base + r.URL.RequestURI()
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
