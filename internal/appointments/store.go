package appointments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists appointments. Create is idempotent on (VehicleID, Token):
// a replay returns the first row.
type Store interface {
	Create(ctx context.Context, appt *Appointment) (*Appointment, error)
	Get(ctx context.Context, id string) (*Appointment, error)
}

// InMemoryStore is a Store for tests and local development.
type InMemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*Appointment
	byToken map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*Appointment),
		byToken: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, appt *Appointment) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := appt.VehicleID + "|" + appt.Token
	if id, ok := s.byToken[key]; ok {
		existing := *s.byID[id]
		return &existing, nil
	}
	stored := *appt
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.byID[stored.ID] = &stored
	s.byToken[key] = stored.ID
	out := stored
	return &out, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *appt
	return &out, nil
}

// Len returns the number of stored appointments.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
