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

	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var twilioSendTracer = otel.Tracer("appraisal.internal.messaging.twilio")

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	policy     *retry.Policy
	metrics    smsMetrics
	logger     *logging.Logger
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy: retry.New(3, 200*time.Millisecond).WithSleep(jitterSleep),
		logger: logger,
	}
}

func (s *TwilioSender) WithBaseURL(baseURL string) *TwilioSender {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *TwilioSender) WithRetryPolicy(p *retry.Policy) *TwilioSender {
	if p != nil {
		s.policy = p
	}
	return s
}

func (s *TwilioSender) WithMetrics(m smsMetrics) *TwilioSender {
	s.metrics = m
	return s
}

var _ Messenger = (*TwilioSender)(nil)

// Send dispatches a single SMS, retrying transient failures.
func (s *TwilioSender) Send(ctx context.Context, msg OutboundSMS) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("messaging: twilio credentials missing")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if err := validateOutbound(msg); err != nil {
		return err
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.to", MaskPhone(msg.To)))

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", msg.From)
	payload.Set("Body", msg.Body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	err := s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			return err
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if msg.Metadata != nil && len(body) > 0 {
				var parsed struct {
					SID    string `json:"sid"`
					Status string `json:"status"`
				}
				if err := json.Unmarshal(body, &parsed); err == nil {
					if parsed.SID != "" {
						msg.Metadata["provider_message_id"] = parsed.SID
					}
					if parsed.Status != "" {
						msg.Metadata["provider_status"] = parsed.Status
					}
				}
			}
			return nil
		}
		return classifyStatus(fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body)), resp.StatusCode)
	})
	if err != nil {
		span.RecordError(err)
		s.observe("error")
		s.logger.Error("failed to send twilio sms", "error", err, "to", MaskPhone(msg.To))
		return err
	}
	s.observe("sent")
	s.logger.Info("twilio sms sent", "to", MaskPhone(msg.To))
	return nil
}

func (s *TwilioSender) observe(status string) {
	if s.metrics != nil {
		s.metrics.ObserveSMS(SMSProviderTwilio, status)
	}
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
