package events

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// Topic names a stream on the bus.
type Topic string

const (
	TopicStepViewed Topic = "journey.step_viewed"
	TopicToast      Topic = "ui.toast"
)

// Message is one published value.
type Message struct {
	Topic       Topic
	Payload     any
	PublishedAt time.Time
}

const defaultBuffer = 64

// Bus is an in-process pub/sub. Publishing never blocks: a subscriber whose
// queue is full misses the message.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *logging.Logger
	now    func() time.Time
}

// NewBus returns an empty bus.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		subs:   make(map[Topic]map[uint64]*Subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Subscription receives messages for one topic until closed.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    uint64
	ch    chan Message
	once  sync.Once
	done  chan struct{}
}

// C is the receive side of the subscription.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe registers a buffered subscription on topic.
func (b *Bus) Subscribe(topic Topic, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan Message, buffer),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() {
			close(sub.ch)
			close(sub.done)
		})
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	return sub
}

// Handle subscribes fn to topic and runs it on its own goroutine until the
// subscription or ctx is closed.
func (b *Bus) Handle(ctx context.Context, topic Topic, fn func(context.Context, Message)) *Subscription {
	sub := b.Subscribe(topic, 0)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.ch:
				if !ok {
					return
				}
				fn(ctx, msg)
			}
		}
	}()
	return sub
}

// Publish delivers payload to every subscriber of topic. It reports how many
// subscribers received it.
func (b *Bus) Publish(topic Topic, payload any) int {
	if b == nil {
		return 0
	}
	msg := Message{Topic: topic, Payload: payload, PublishedAt: b.now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			b.logger.Warn("event bus subscriber full, dropping message", "topic", string(topic), "subscription", sub.id)
		}
	}
	return delivered
}

// Close detaches every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	var all []*Subscription
	for _, subs := range b.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	b.closed = true
	b.mu.Unlock()
	for _, sub := range all {
		sub.Close()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[s.topic]
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.subs, s.topic)
	}
	close(s.ch)
}
