// Package main runs end-to-end smoke scenarios against a running API.
//
// Scenarios:
//   - triage: create an intake and poll until the assistant reply resolves
//   - follow-up: add a second user turn to the same intake
//   - appointment: request a vet call and confirm it through a signed callback
//   - status: send a call-progress webhook and check the status is unchanged
//
// The appointment scenarios expect APPOINTMENT_TEST_MODE=true on the server.
//
// Usage:
//
//	API_BASE_URL=... API_JWT_SECRET=... TWILIO_WEBHOOK_SECRET=... go run scripts/e2e/run_e2e.go [scenario]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/rescue-triage/internal/messaging"
)

const (
	maxWait      = 90 * time.Second
	pollInterval = 2 * time.Second
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	name   string
	passed int
	failed int
	state  *runState
}

type runState struct {
	client    *http.Client
	apiBase   string
	publicURL string
	token     string
	verifier  *messaging.WebhookVerifier
	intakeID  string
}

func (t *T) check(name string, ok bool, detail ...any) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
		return
	}
	fmt.Printf("    FAIL: %s %v\n", name, detail)
	t.failed++
}

func main() {
	apiBase := strings.TrimRight(envOr("API_BASE_URL", "http://localhost:8080"), "/")
	state := &runState{
		client:    &http.Client{Timeout: 30 * time.Second},
		apiBase:   apiBase,
		publicURL: strings.TrimRight(envOr("PUBLIC_BASE_URL", apiBase), "/"),
		verifier:  messaging.NewWebhookVerifier(os.Getenv("TWILIO_WEBHOOK_SECRET")),
	}
	if secret := os.Getenv("API_JWT_SECRET"); secret != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "e2e",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(secret))
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
			os.Exit(1)
		}
		state.token = token
	}

	scenarios := []scenario{
		{"triage", triageScenario},
		{"follow-up", followUpScenario},
		{"appointment", appointmentScenario},
		{"status", statusScenario},
	}

	only := ""
	if len(os.Args) > 1 {
		only = os.Args[1]
	}
	totalPassed, totalFailed := 0, 0
	for _, sc := range scenarios {
		if only != "" && sc.Name != only {
			continue
		}
		fmt.Printf("== %s\n", sc.Name)
		t := &T{name: sc.Name, state: state}
		sc.Fn(t)
		totalPassed += t.passed
		totalFailed += t.failed
	}
	fmt.Printf("\n%d passed, %d failed\n", totalPassed, totalFailed)
	if totalFailed > 0 {
		os.Exit(1)
	}
}

func triageScenario(t *T) {
	var created struct {
		IntakeID  string `json:"intake_id"`
		MessageID string `json:"message_id"`
	}
	status := t.api(http.MethodPost, "/api/intakes", map[string]string{
		"species":     "owl",
		"description": "Found a barn owl on the roadside, one wing is drooping and it cannot fly.",
	}, &created)
	t.check("intake accepted", status == http.StatusAccepted, status)
	if created.IntakeID == "" {
		return
	}
	t.state.intakeID = created.IntakeID
	content, ok := t.waitForReply(created.IntakeID, created.MessageID)
	t.check("assistant reply resolved", ok)
	t.check("reply is not empty", strings.TrimSpace(content) != "")
}

func followUpScenario(t *T) {
	if t.state.intakeID == "" {
		t.check("requires triage scenario", false)
		return
	}
	var created struct {
		MessageID string `json:"message_id"`
	}
	status := t.api(http.MethodPost, "/api/intakes/"+t.state.intakeID+"/messages",
		map[string]string{"content": "It is breathing fast and its eyes are half closed."}, &created)
	t.check("follow-up accepted", status == http.StatusAccepted, status)
	if created.MessageID == "" {
		return
	}
	_, ok := t.waitForReply(t.state.intakeID, created.MessageID)
	t.check("follow-up reply resolved", ok)
}

func appointmentScenario(t *T) {
	if t.state.intakeID == "" {
		t.check("requires triage scenario", false)
		return
	}
	var appt struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		CallSID string `json:"call_sid"`
	}
	status := t.api(http.MethodPost, "/api/intakes/"+t.state.intakeID+"/appointment", nil, &appt)
	t.check("appointment created", status == http.StatusCreated, status)
	t.check("appointment pending", appt.Status == "pending", appt.Status)

	form := url.Values{"intake_id": {t.state.intakeID}, "speech_result": {"Bring it in at four"}}
	status, body := t.webhook("/webhooks/twilio/appointment/callback", form)
	t.check("callback accepted", status == http.StatusOK, status, body)
	t.check("callback matched appointment", strings.Contains(body, appt.ID), body)
}

func statusScenario(t *T) {
	if t.state.intakeID == "" {
		t.check("requires triage scenario", false)
		return
	}
	form := url.Values{"intake_id": {t.state.intakeID}, "CallStatus": {"completed"}, "CallDuration": {"31"}}
	status, body := t.webhook("/webhooks/twilio/appointment/status", form)
	t.check("status webhook acknowledged", status == http.StatusOK, status)
	t.check("status webhook applied", strings.Contains(body, `"success":true`), body)
}

func (t *T) waitForReply(intakeID, messageID string) (string, bool) {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		var msg struct {
			Content string `json:"content"`
			Pending bool   `json:"pending"`
		}
		status := t.api(http.MethodGet, "/api/intakes/"+intakeID+"/messages/"+messageID, nil, &msg)
		if status == http.StatusOK && !msg.Pending {
			return msg.Content, true
		}
		time.Sleep(pollInterval)
	}
	return "", false
}

func (t *T) api(method, path string, payload any, out any) int {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, t.state.apiBase+path, body)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if t.state.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.state.token)
	}
	resp, err := t.state.client.Do(req)
	if err != nil {
		fmt.Printf("    request error: %v\n", err)
		return 0
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (t *T) webhook(path string, form url.Values) (int, string) {
	req, err := http.NewRequest(http.MethodPost, t.state.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(messaging.SignatureHeader, t.state.verifier.Sign(t.state.publicURL+path, form))
	resp, err := t.state.client.Do(req)
	if err != nil {
		return 0, err.Error()
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
