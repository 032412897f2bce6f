package triage

import (
	"context"
	"errors"
	"testing"
)

func TestFallbackAIClient(t *testing.T) {
	tests := []struct {
		name          string
		primaryErr    error
		wantSecondary bool
		wantErr       bool
	}{
		{"primary ok", nil, false, false},
		{"connection", ConnectionError("could not reach ai service", timeoutErr{}), true, false},
		{"server status", &HTTPStatusError{StatusCode: 502, URL: "gemini"}, true, false},
		{"rate limited", &HTTPStatusError{StatusCode: 429, URL: "gemini"}, false, true},
		{"configuration", ConfigurationError("gemini api key is required", nil), false, true},
		{"unclassified", errors.New("bad request"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubAIClient{envelope: []byte("primary"), errs: []error{tt.primaryErr}}
			secondary := &stubAIClient{envelope: []byte("secondary")}
			raw, err := NewFallbackAIClient(primary, secondary, nil).Generate(context.Background(), "prompt", "img")

			if called := len(secondary.prompts) == 1; called != tt.wantSecondary {
				t.Fatalf("secondary called = %v, want %v", called, tt.wantSecondary)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			switch {
			case tt.wantSecondary && string(raw) != "secondary":
				t.Fatalf("expected secondary envelope, got %q", raw)
			case !tt.wantSecondary && !tt.wantErr && string(raw) != "primary":
				t.Fatalf("expected primary envelope, got %q", raw)
			}
			if tt.wantSecondary && secondary.images[0] != "img" {
				t.Fatalf("expected image url forwarded, got %q", secondary.images[0])
			}
		})
	}
}

func TestFallbackAIClientReturnsSecondaryError(t *testing.T) {
	primary := &stubAIClient{errs: []error{&HTTPStatusError{StatusCode: 500}}}
	secondaryErr := ConnectionError("could not reach bedrock", nil)
	secondary := &stubAIClient{errs: []error{secondaryErr}}

	_, err := NewFallbackAIClient(primary, secondary, nil).Generate(context.Background(), "prompt", "")
	if !errors.Is(err, secondaryErr) {
		t.Fatalf("expected secondary error, got %v", err)
	}
}

func TestFallbackAIClientWithoutSecondary(t *testing.T) {
	primaryErr := &HTTPStatusError{StatusCode: 503}
	primary := &stubAIClient{errs: []error{primaryErr}}
	_, err := NewFallbackAIClient(primary, nil, nil).Generate(context.Background(), "prompt", "")
	if !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
}
