package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

var studioTracer = otel.Tracer("rescue.internal.messaging.studio")

const defaultStudioBaseURL = "https://studio.twilio.com"

// StudioConfig holds Twilio credentials and the flow used for vet calls.
type StudioConfig struct {
	AccountSID string
	AuthToken  string
	FlowSID    string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// StudioClient triggers Twilio Studio flow executions.
type StudioClient struct {
	cfg        StudioConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// Execution is the subset of the Studio execution resource the caller needs.
type Execution struct {
	SID    string         `json:"sid"`
	Status string         `json:"status"`
	Raw    map[string]any `json:"-"`
}

// StudioAPIError is returned when Studio answers with a non-2xx status.
type StudioAPIError struct {
	StatusCode int
	Body       string
}

func (e *StudioAPIError) Error() string {
	return "messaging: studio execution failed: " + formatTwilioError(e.StatusCode, []byte(e.Body))
}

// StudioTransportError is returned when Studio could not be reached.
type StudioTransportError struct {
	Err error
}

func (e *StudioTransportError) Error() string {
	return "messaging: studio unreachable: " + e.Err.Error()
}

func (e *StudioTransportError) Unwrap() error { return e.Err }

// NewStudioClient builds a client with a bounded request timeout.
func NewStudioClient(cfg StudioConfig, logger *logging.Logger) *StudioClient {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultStudioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &StudioClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// CreateExecution starts the flow calling to, passing parameters as flow data.
func (c *StudioClient) CreateExecution(ctx context.Context, to string, parameters map[string]any) (*Execution, error) {
	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" || c.cfg.FlowSID == "" {
		return nil, errors.New("messaging: twilio studio credentials missing")
	}
	to = NormalizeE164(to)
	from := NormalizeE164(c.cfg.FromNumber)
	if to == "" || from == "" {
		return nil, errors.New("messaging: to and from numbers are required")
	}

	ctx, span := studioTracer.Start(ctx, "messaging.studio.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("rescue.studio.flow_sid", c.cfg.FlowSID),
		attribute.String("rescue.studio.to", to),
	)

	params, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode flow parameters: %w", err)
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Parameters", string(params))

	endpoint := fmt.Sprintf("%s/v2/Flows/%s/Executions", c.cfg.BaseURL, c.cfg.FlowSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("messaging: build studio request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, &StudioTransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		span.RecordError(err)
		return nil, &StudioTransportError{Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &StudioAPIError{StatusCode: resp.StatusCode, Body: string(body)}
		span.RecordError(apiErr)
		return nil, apiErr
	}

	var exec Execution
	if err := json.Unmarshal(body, &exec); err != nil {
		return nil, &StudioAPIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, &exec.Raw); err != nil {
		exec.Raw = nil
	}
	if exec.SID == "" {
		return nil, &StudioAPIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	c.logger.Info("studio execution created", "call_sid", exec.SID, "status", exec.Status)
	return &exec, nil
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}
