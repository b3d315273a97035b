package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/appraisal-booking/internal/events"
)

const (
	defaultMemoryCapacity   = 256
	defaultMemoryVisibility = 30 * time.Second
	memoryRecheck           = 50 * time.Millisecond
)

type memoryItem struct {
	body     string
	attempts int
	hidden   time.Time
}

// MemoryQueue is the in-process Queue used when no SQS queue is configured.
// It keeps the SQS contract: bodies are stored encoded, polled items are
// hidden until acked, and unacked items come back after the visibility
// timeout with a higher attempt count.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []memoryItem
	inflight   map[string]memoryItem
	capacity   int
	visibility time.Duration
	wake       chan struct{}
	now        func() time.Time
}

// NewMemoryQueue holds at most capacity views, counting in-flight ones.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{
		inflight:   make(map[string]memoryItem),
		capacity:   capacity,
		visibility: defaultMemoryVisibility,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// WithVisibility sets how long a polled view stays hidden.
func (q *MemoryQueue) WithVisibility(d time.Duration) *MemoryQueue {
	if d > 0 {
		q.visibility = d
	}
	return q
}

// Enqueue never blocks; a full queue returns ErrQueueFull.
func (q *MemoryQueue) Enqueue(_ context.Context, view events.StepViewedV1) error {
	body, _, err := encodeStepView(view)
	if err != nil {
		return err
	}
	q.mu.Lock()
	if len(q.ready)+len(q.inflight) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.ready = append(q.ready, memoryItem{body: body})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Poll returns up to limit deliveries, waiting at most wait for the first one.
// A zero wait blocks until ctx is done.
func (q *MemoryQueue) Poll(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	if limit <= 0 {
		limit = 1
	}
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if out := q.take(limit); len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-q.wake:
		case <-time.After(memoryRecheck):
		}
	}
}

// Ack forgets a delivery. Acking an expired receipt is a no-op.
func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.Receipt)
	return nil
}

// Len counts ready and in-flight views.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}

func (q *MemoryQueue) take(limit int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for receipt, item := range q.inflight {
		if !now.Before(item.hidden) {
			delete(q.inflight, receipt)
			q.ready = append(q.ready, item)
		}
	}
	n := min(limit, len(q.ready))
	if n == 0 {
		return nil
	}
	out := make([]Delivery, 0, n)
	for _, item := range q.ready[:n] {
		item.attempts++
		item.hidden = now.Add(q.visibility)
		receipt := uuid.NewString()
		q.inflight[receipt] = item

		d := Delivery{Receipt: receipt, Attempt: item.attempts}
		d.View, d.Err = decodeStepView(item.body)
		out = append(out, d)
	}
	q.ready = append(q.ready[:0], q.ready[n:]...)
	return out
}
