package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/rescue-triage/internal/appointments"
	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	"github.com/wolfman30/rescue-triage/internal/messaging"
	"github.com/wolfman30/rescue-triage/internal/notify"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// BuildEmailSender prefers SendGrid, then SES, then a logging stub.
// awsCfg is only consulted for SES.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		return sender
	}
	if awsCfg != nil {
		if sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	return notify.NewStubEmailSender(logger)
}

// BuildAppointmentOptions assembles the appointment service options from config.
// The confirmation notifier is only attached when NOTIFY_EMAIL_TO is set.
func BuildAppointmentOptions(cfg *appconfig.Config, email notify.EmailSender, logger *logging.Logger) []appointments.ServiceOption {
	var opts []appointments.ServiceOption
	if cfg == nil {
		return opts
	}
	if notifier := notify.NewAppointmentNotifier(email, cfg.NotifyEmailTo, logger); notifier != nil {
		opts = append(opts, appointments.WithNotifier(notifier))
	}
	return opts
}

// BuildCaller returns the Twilio Studio client, or nil in appointment test mode.
func BuildCaller(cfg *appconfig.Config, logger *logging.Logger) appointments.Caller {
	if cfg == nil || cfg.AppointmentTestMode {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFlowSID == "" {
		logger.Error("twilio studio credentials incomplete; vet calls will fail",
			"has_account_sid", cfg.TwilioAccountSID != "",
			"has_flow_sid", cfg.TwilioFlowSID != "",
		)
	}
	return messaging.NewStudioClient(messaging.StudioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FlowSID:    cfg.TwilioFlowSID,
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioStudioBaseURL,
	}, logger)
}
