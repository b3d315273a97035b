package events

import (
	"sync"
	"time"
)

const (
	maxPendingToasts = 4
	toastTTL         = 2 * time.Minute
)

type pendingToast struct {
	toast Toast
	at    time.Time
}

// ToastInbox collects toasts published on the bus and hands them to the next
// response for the same journey. Toasts without a journey id are ignored.
type ToastInbox struct {
	mu      sync.Mutex
	sub     *Subscription
	pending map[string][]pendingToast
	now     func() time.Time
}

// NewToastInbox subscribes to TopicToast on bus.
func NewToastInbox(bus *Bus) *ToastInbox {
	return &ToastInbox{
		sub:     bus.Subscribe(TopicToast, 0),
		pending: make(map[string][]pendingToast),
		now:     time.Now,
	}
}

// Drain returns and forgets the pending toasts for journeyID, oldest first.
func (i *ToastInbox) Drain(journeyID string) []Toast {
	if i == nil || journeyID == "" {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.collect()

	queued := i.pending[journeyID]
	delete(i.pending, journeyID)
	if len(queued) == 0 {
		return nil
	}
	out := make([]Toast, 0, len(queued))
	for _, p := range queued {
		out = append(out, p.toast)
	}
	return out
}

// Close detaches the inbox from the bus.
func (i *ToastInbox) Close() {
	if i != nil {
		i.sub.Close()
	}
}

// collect moves everything buffered on the subscription into pending and
// expires stale entries. Caller holds mu.
func (i *ToastInbox) collect() {
	now := i.now()
	for {
		select {
		case msg, ok := <-i.sub.C():
			if !ok {
				i.expire(now)
				return
			}
			toast, isToast := msg.Payload.(Toast)
			if !isToast || toast.JourneyID == "" {
				continue
			}
			queued := append(i.pending[toast.JourneyID], pendingToast{toast: toast, at: msg.PublishedAt})
			if len(queued) > maxPendingToasts {
				queued = queued[len(queued)-maxPendingToasts:]
			}
			i.pending[toast.JourneyID] = queued
		default:
			i.expire(now)
			return
		}
	}
}

func (i *ToastInbox) expire(now time.Time) {
	for id, queued := range i.pending {
		kept := queued[:0]
		for _, p := range queued {
			if now.Sub(p.at) < toastTTL {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(i.pending, id)
			continue
		}
		i.pending[id] = kept
	}
}
