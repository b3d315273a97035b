package messaging

import (
	"context"
	"sync"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// OutboundSMS is a single text message. Metadata is populated with the
// provider message id and status when the provider reports them.
type OutboundSMS struct {
	To       string
	From     string
	Body     string
	Metadata map[string]string
}

// Messenger delivers outbound SMS.
type Messenger interface {
	Send(ctx context.Context, msg OutboundSMS) error
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(ctx context.Context, msg OutboundSMS) error

func (f MessengerFunc) Send(ctx context.Context, msg OutboundSMS) error {
	return f(ctx, msg)
}

type smsMetrics interface {
	ObserveSMS(provider, status string)
}

// LogMessenger records messages instead of sending them. It backs local
// development when no provider credentials are configured.
type LogMessenger struct {
	logger *logging.Logger

	mu   sync.Mutex
	sent []OutboundSMS
}

func NewLogMessenger(logger *logging.Logger) *LogMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) Send(_ context.Context, msg OutboundSMS) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("sms (log only)", "to", msg.To, "body", msg.Body)
	return nil
}

// Sent returns a copy of every message recorded so far.
func (m *LogMessenger) Sent() []OutboundSMS {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundSMS, len(m.sent))
	copy(out, m.sent)
	return out
}
