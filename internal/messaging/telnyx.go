package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("appraisal.internal.messaging.telnyx")

const defaultTelnyxBaseURL = "https://api.telnyx.com"

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	from               string
	baseURL            string
	httpClient         *http.Client
	policy             *retry.Policy
	metrics            smsMetrics
	logger             *logging.Logger
}

// NewTelnyxSender builds a sender for Telnyx V2 API.
func NewTelnyxSender(apiKey, messagingProfileID, defaultFrom string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		from:               defaultFrom,
		baseURL:            defaultTelnyxBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy: retry.New(3, 200*time.Millisecond).WithSleep(jitterSleep),
		logger: logger,
	}
}

// WithBaseURL points the sender at a different API host.
func (s *TelnyxSender) WithBaseURL(baseURL string) *TelnyxSender {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *TelnyxSender) WithRetryPolicy(p *retry.Policy) *TelnyxSender {
	if p != nil {
		s.policy = p
	}
	return s
}

func (s *TelnyxSender) WithMetrics(m smsMetrics) *TelnyxSender {
	s.metrics = m
	return s
}

var _ Messenger = (*TelnyxSender)(nil)

// Send dispatches a single SMS via Telnyx V2 API, retrying transient failures.
func (s *TelnyxSender) Send(ctx context.Context, msg OutboundSMS) error {
	if s.apiKey == "" {
		return errors.New("messaging: telnyx api key missing")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if err := validateOutbound(msg); err != nil {
		return err
	}

	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.to", MaskPhone(msg.To)))

	payload := map[string]interface{}{
		"from": msg.From,
		"to":   msg.To,
		"text": msg.Body,
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: failed to marshal telnyx payload: %w", err)
	}

	err = s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/messages", bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if msg.Metadata != nil && len(body) > 0 {
				var parsed struct {
					Data struct {
						ID     string `json:"id"`
						Status string `json:"status"`
					} `json:"data"`
				}
				if err := json.Unmarshal(body, &parsed); err == nil {
					if parsed.Data.ID != "" {
						msg.Metadata["provider_message_id"] = parsed.Data.ID
					}
					if parsed.Data.Status != "" {
						msg.Metadata["provider_status"] = parsed.Data.Status
					}
				}
			}
			return nil
		}
		return classifyStatus(fmt.Errorf("telnyx send failed: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body))), resp.StatusCode)
	})
	if err != nil {
		span.RecordError(err)
		s.observe("error")
		s.logger.Error("failed to send telnyx sms", "error", err, "to", MaskPhone(msg.To))
		return err
	}
	s.observe("sent")
	s.logger.Info("telnyx sms sent", "to", MaskPhone(msg.To))
	return nil
}

func (s *TelnyxSender) observe(status string) {
	if s.metrics != nil {
		s.metrics.ObserveSMS(SMSProviderTelnyx, status)
	}
}

func validateOutbound(msg OutboundSMS) error {
	if msg.To == "" {
		return errors.New("messaging: to required")
	}
	if msg.From == "" {
		return errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}
	return nil
}

// classifyStatus marks 429 and 5xx as retryable. Other 4xx responses will not
// succeed on a second attempt.
func classifyStatus(err error, status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return retry.Transient(err)
	}
	return err
}

func jitterSleep(ctx context.Context, base time.Duration) error {
	d := base + time.Duration(rand.Intn(300))*time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
