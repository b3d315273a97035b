package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// DefaultFromName is used when no sender name is configured.
const DefaultFromName = "Appraisal Center"

// CategoryConfirmation tags appointment confirmation emails in provider
// dashboards.
const CategoryConfirmation = "appointment-confirmation"

// EmailSender delivers a single email. SendGrid, SES and the stub satisfy it.
// Errors a retry could fix are marked with retry.Transient.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outbound email. Ref is echoed to the provider so a
// bounce or complaint can be traced to the appointment.
type EmailMessage struct {
	To       string
	ToName   string
	ReplyTo  string
	Subject  string
	Body     string
	HTML     string
	Category string
	Ref      string
}

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends confirmations through the SendGrid v3 API.
type SendGridSender struct {
	client    sendgridClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(client sendgridClient, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &SendGridSender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	plain := msg.Body
	if plain == "" {
		plain = msg.HTML
	}
	message := mail.NewSingleEmail(mail.NewEmail(s.fromName, s.fromEmail), msg.Subject, mail.NewEmail(msg.ToName, msg.To), plain, msg.HTML)
	if msg.ReplyTo != "" {
		message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}
	if msg.Ref != "" {
		message.SetCustomArg("ref", msg.Ref)
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Warn("sendgrid send failed", "error", err, "ref", msg.Ref)
		return retry.Transient(fmt.Errorf("notify: sendgrid send: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		s.logger.Warn("sendgrid unavailable", "status", resp.StatusCode, "ref", msg.Ref)
		return retry.Transient(fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "ref", msg.Ref)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("email sent via sendgrid", "ref", msg.Ref, "category", msg.Category, "status", resp.StatusCode)
	return nil
}

// StubEmailSender logs instead of sending. Sent keeps a copy for tests.
type StubEmailSender struct {
	logger *logging.Logger

	mu   sync.Mutex
	Sent []EmailMessage
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.mu.Lock()
	s.Sent = append(s.Sent, msg)
	s.mu.Unlock()
	s.logger.Info("email not sent (stub)", "ref", msg.Ref, "subject", msg.Subject)
	return nil
}
