package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// TextSender delivers an SMS on behalf of a vehicle record.
type TextSender interface {
	SendMessage(ctx context.Context, vehicleID, to, body string) error
}

// AppointmentNotice is everything a confirmation needs, resolved by the caller.
type AppointmentNotice struct {
	JourneyID     string
	AppointmentID string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	ConsentSMS    bool
	Vehicle       string
	Label         string
	TimeLabel     string
	AtHome        bool
	BranchName    string
	BranchAddress string
	BranchPhone   string
	HomeAddress   string
}

func (n AppointmentNotice) fullName() string {
	return strings.TrimSpace(n.FirstName + " " + n.LastName)
}

func (n AppointmentNotice) where() string {
	if n.AtHome {
		if n.HomeAddress != "" {
			return "At your home: " + n.HomeAddress
		}
		return "At your home"
	}
	parts := []string{n.BranchName}
	if n.BranchAddress != "" {
		parts = append(parts, n.BranchAddress)
	}
	return strings.Join(parts, ", ")
}

func (n AppointmentNotice) ref() string {
	if n.AppointmentID != "" {
		return n.AppointmentID
	}
	return n.JourneyID
}

func (n AppointmentNotice) when() string {
	if n.TimeLabel != "" {
		return n.Label + " at " + n.TimeLabel
	}
	return n.Label
}

// Service sends appointment confirmations. Every channel is best effort: a
// failure is logged and reported but never blocks the booking.
type Service struct {
	email   EmailSender
	sms     TextSender
	replyTo string
	logger  *logging.Logger
}

func NewService(email EmailSender, sms TextSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sms: sms, logger: logger}
}

// WithReplyTo routes visitor replies to a monitored inbox.
func (s *Service) WithReplyTo(addr string) *Service {
	s.replyTo = strings.TrimSpace(addr)
	return s
}

// NotifyAppointment emails the visitor when an address is on file and texts
// them when they consented to SMS.
func (s *Service) NotifyAppointment(ctx context.Context, n AppointmentNotice) error {
	var errs []error

	if s.email != nil && n.Email != "" {
		msg := EmailMessage{
			To:       n.Email,
			ToName:   n.fullName(),
			ReplyTo:  s.replyTo,
			Subject:  fmt.Sprintf("Your appraisal is booked for %s", n.Label),
			Body:     s.formatText(n),
			HTML:     s.formatHTML(n),
			Category: CategoryConfirmation,
			Ref:      n.ref(),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Warn("confirmation email failed", "error", err, "journey_id", n.JourneyID)
			errs = append(errs, err)
		}
	}

	if s.sms != nil && n.ConsentSMS && n.Phone != "" {
		body := fmt.Sprintf("Your vehicle appraisal is confirmed for %s. %s.", n.when(), n.where())
		if n.BranchPhone != "" && !n.AtHome {
			body += " Questions? Call " + n.BranchPhone + "."
		}
		if err := s.sms.SendMessage(ctx, n.JourneyID, n.Phone, body); err != nil {
			s.logger.Warn("confirmation sms failed", "error", err, "journey_id", n.JourneyID)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) formatText(n AppointmentNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", n.FirstName)
	fmt.Fprintf(&b, "Your appraisal is booked.\n\n")
	if n.Vehicle != "" {
		fmt.Fprintf(&b, "Vehicle: %s\n", n.Vehicle)
	}
	fmt.Fprintf(&b, "When: %s\n", n.when())
	fmt.Fprintf(&b, "Where: %s\n", n.where())
	if n.AppointmentID != "" {
		fmt.Fprintf(&b, "Reference: %s\n", n.AppointmentID)
	}
	if n.BranchPhone != "" && !n.AtHome {
		fmt.Fprintf(&b, "\nNeed to reschedule? Call %s.\n", n.BranchPhone)
	}
	return b.String()
}

func (s *Service) formatHTML(n AppointmentNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p><p>Your appraisal is booked.</p><ul>", html.EscapeString(n.FirstName))
	if n.Vehicle != "" {
		fmt.Fprintf(&b, "<li><strong>Vehicle:</strong> %s</li>", html.EscapeString(n.Vehicle))
	}
	fmt.Fprintf(&b, "<li><strong>When:</strong> %s</li>", html.EscapeString(n.when()))
	fmt.Fprintf(&b, "<li><strong>Where:</strong> %s</li>", html.EscapeString(n.where()))
	if n.AppointmentID != "" {
		fmt.Fprintf(&b, "<li><strong>Reference:</strong> %s</li>", html.EscapeString(n.AppointmentID))
	}
	b.WriteString("</ul>")
	return b.String()
}
