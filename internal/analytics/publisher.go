package analytics

import (
	"context"
	"time"

	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// Sink accepts step views. Callers never wait on analytics, so
// implementations on the request path must not block for long.
type Sink interface {
	RecordStepView(ctx context.Context, view events.StepViewedV1) error
}

const sendTimeout = 2 * time.Second

// Publisher is the Sink on the request side: it enqueues views for the worker.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("analytics: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

func (p *Publisher) RecordStepView(ctx context.Context, view events.StepViewedV1) error {
	return p.queue.Enqueue(ctx, view)
}

// Attach forwards every step view published on bus until ctx ends or the
// returned subscription is closed. Failures are logged and dropped.
func (p *Publisher) Attach(ctx context.Context, bus *events.Bus) *events.Subscription {
	return bus.Handle(ctx, events.TopicStepViewed, func(ctx context.Context, msg events.Message) {
		view, ok := msg.Payload.(events.StepViewedV1)
		if !ok {
			p.logger.Warn("analytics: unexpected step view payload", "topic", string(msg.Topic))
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := p.RecordStepView(sendCtx, view); err != nil {
			p.logger.Warn("analytics: step view dropped", "error", err, "journey_id", view.JourneyID, "step", view.Step)
		}
	})
}
