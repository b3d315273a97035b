package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

const (
	consumerName       = "analytics.step_views"
	defaultWorkerCount = 1
	defaultPollWait    = 10 * time.Second
	defaultBatchSize   = 10
	defaultMaxAttempts = 5
	ackTimeout         = 5 * time.Second
)

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// Worker drains the queue into a Sink.
type Worker struct {
	queue     Queue
	sink      Sink
	processed processedEventStore
	logger    *logging.Logger

	workers     int
	wait        time.Duration
	batchSize   int
	maxAttempts int
	wg          sync.WaitGroup
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*Worker)

func WithWorkerCount(count int) WorkerOption {
	return func(w *Worker) {
		if count > 0 {
			w.workers = count
		}
	}
}

// WithPollWait sets how long one poll waits for the first view. Zero waits
// until the worker stops.
func WithPollWait(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d >= 0 {
			w.wait = d
		}
	}
}

func WithBatchSize(size int) WorkerOption {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts drops a view once it has been delivered n times without
// being recorded.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithProcessedStore enables redelivery dedupe by event id.
func WithProcessedStore(store processedEventStore) WorkerOption {
	return func(w *Worker) {
		w.processed = store
	}
}

func NewWorker(queue Queue, sink Sink, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("analytics: queue cannot be nil")
	}
	if sink == nil {
		panic("analytics: sink cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		queue:       queue,
		sink:        sink,
		logger:      logger,
		workers:     defaultWorkerCount,
		wait:        defaultPollWait,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("analytics worker started", "worker_id", workerID)

	backoff := time.Second
	for ctx.Err() == nil {
		deliveries, err := w.queue.Poll(ctx, w.batchSize, w.wait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("analytics poll failed", "error", err, "worker_id", workerID, "retry_in", backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = time.Second
		for _, d := range deliveries {
			w.HandleDelivery(ctx, d)
		}
	}
	w.logger.Debug("analytics worker stopping", "worker_id", workerID)
}

// HandleDelivery records one delivery. Undecodable views, already processed
// views and views past the attempt limit are acked without recording; a
// failed write is left for redelivery.
func (w *Worker) HandleDelivery(ctx context.Context, d Delivery) {
	if d.Err != nil {
		w.logger.Error("dropping undecodable step view", "error", d.Err, "attempt", d.Attempt)
		w.ack(d)
		return
	}
	view := d.View
	if d.Attempt > w.maxAttempts {
		w.logger.Error("dropping step view after repeated failures", "event_id", view.EventID, "journey_id", view.JourneyID, "attempt", d.Attempt)
		w.ack(d)
		return
	}

	if w.processed != nil {
		seen, err := w.processed.AlreadyProcessed(ctx, consumerName, view.EventID)
		if err != nil {
			w.logger.Warn("processed lookup failed", "error", err, "event_id", view.EventID)
		} else if seen {
			w.ack(d)
			return
		}
	}

	if err := w.sink.RecordStepView(ctx, view); err != nil {
		w.logger.Warn("step view not recorded", "error", err, "event_id", view.EventID, "journey_id", view.JourneyID, "attempt", d.Attempt)
		return
	}

	if w.processed != nil {
		if _, err := w.processed.MarkProcessed(ctx, consumerName, view.EventID); err != nil {
			w.logger.Warn("failed to mark step view processed", "error", err, "event_id", view.EventID)
		}
	}
	w.ack(d)
}

// ack outlives the worker context so a shutdown does not strand a recorded view.
func (w *Worker) ack(d Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := w.queue.Ack(ctx, d); err != nil {
		w.logger.Error("analytics ack failed", "error", err, "event_id", d.View.EventID)
	}
}
