package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

const defaultFromName = "Wildlife Rescue Triage"

// ErrInvalidRecipient is returned before any provider call when the
// recipient address does not parse.
var ErrInvalidRecipient = errors.New("notify: invalid recipient address")

// EmailSender sends one e-mail. SendGrid, SES and the stub implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
	Provider() string
}

// EmailMessage is a single outbound e-mail. HTML is optional.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

func (m EmailMessage) validate() error {
	if _, err := mail.ParseAddress(strings.TrimSpace(m.To)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, m.To)
	}
	return nil
}

func (m EmailMessage) htmlOrText() string {
	if m.HTML != "" {
		return m.HTML
	}
	return m.Body
}

// From identifies the sending mailbox shared by every provider.
type From struct {
	Email string
	Name  string
}

func (f From) withDefaults() From {
	if strings.TrimSpace(f.Name) == "" {
		f.Name = defaultFromName
	}
	f.Email = strings.TrimSpace(f.Email)
	return f
}

func (f From) String() string {
	return (&mail.Address{Name: f.Name, Address: f.Email}).String()
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends e-mail through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   From
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   From{Email: cfg.FromEmail, Name: cfg.FromName}.withDefaults(),
		logger: logger,
	}
}

func (s *SendGridSender) Provider() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	resp, err := s.client.SendWithContext(ctx, buildSendGridMessage(s.from, msg))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected message", "status", resp.StatusCode, "body", truncateBody(resp.Body, 256))
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("email sent", "provider", s.Provider(), "subject", msg.Subject, "status", resp.StatusCode)
	return nil
}

func buildSendGridMessage(from From, msg EmailMessage) *sgmail.SGMailV3 {
	return sgmail.NewSingleEmail(
		sgmail.NewEmail(from.Name, from.Email),
		msg.Subject,
		sgmail.NewEmail(msg.ToName, strings.TrimSpace(msg.To)),
		msg.Body,
		msg.htmlOrText(),
	)
}

func truncateBody(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}

// StubEmailSender logs instead of sending.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Provider() string { return "stub" }

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info("email not sent, no provider configured", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
