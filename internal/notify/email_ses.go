package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// SESSender sends e-mail through SES v2.
type SESSender struct {
	client sesAPI
	from   From
	logger *logging.Logger
}

// NewSESSender returns nil when client is nil or no sender address is configured.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil || strings.TrimSpace(cfg.FromEmail) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{
		client: client,
		from:   From{Email: cfg.FromEmail, Name: cfg.FromName}.withDefaults(),
		logger: logger,
	}
}

func (s *SESSender) Provider() string { return "ses" }

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: ses client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	out, err := s.client.SendEmail(ctx, sesInput(s.from, msg))
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Info("email sent", "provider", s.Provider(), "subject", msg.Subject, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesInput(from From, msg EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from.String()),
		Destination:      &types.Destination{ToAddresses: []string{strings.TrimSpace(msg.To)}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
}

func utf8Content(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

var _ EmailSender = (*SESSender)(nil)
