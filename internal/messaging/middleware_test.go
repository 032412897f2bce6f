package messaging

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSignatureRejectsWith403(t *testing.T) {
	var called bool
	mw := RequireSignature(NewWebhookVerifier("secret"), SignatureOptions{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/appointment/status", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, "bogus")
	rec := httptest.NewRecorder()
	mw(okHandler(&called)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if called {
		t.Fatal("handler must not run for rejected webhooks")
	}
}

func TestRequireSignatureUsesPublicBaseURL(t *testing.T) {
	var called bool
	verifier := NewWebhookVerifier("secret")
	mw := RequireSignature(verifier, SignatureOptions{PublicBaseURL: "https://rescue.example.com/"})

	form := url.Values{"CallSid": {"CA1"}}
	req := httptest.NewRequest(http.MethodPost, "http://10.0.0.5:8080/webhooks/twilio/appointment/status?x=1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, verifier.Sign("https://rescue.example.com/webhooks/twilio/appointment/status?x=1", form))
	rec := httptest.NewRecorder()
	mw(okHandler(&called)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !called {
		t.Fatalf("expected signed request to pass, got %d", rec.Code)
	}
}

func TestRequireSignatureSkip(t *testing.T) {
	var called bool
	mw := RequireSignature(NewWebhookVerifier(""), SignatureOptions{Skip: true})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/appointment/status", nil)
	rec := httptest.NewRecorder()
	mw(okHandler(&called)).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected skip to bypass verification")
	}
}

func TestBuildAbsoluteURLForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/hook?a=b", nil)
	req.Host = "internal:8080"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "rescue.example.com")

	if got := buildAbsoluteURL(req, ""); got != "https://rescue.example.com/hook?a=b" {
		t.Fatalf("unexpected url %q", got)
	}
}
