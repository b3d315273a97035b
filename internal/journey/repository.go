package journey

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists journeys. Updates are partial merges; the last write wins.
type Store interface {
	Create(ctx context.Context, req *CreateRequest) (*Journey, error)
	Get(ctx context.Context, id string) (*Journey, error)
	UpdateVehicleDetails(ctx context.Context, id string, patch VehicleDetailsPatch) (*Journey, error)
	UpdateCondition(ctx context.Context, id string, patch ConditionPatch) (*Journey, error)
	AttachAppointment(ctx context.Context, id string, appointmentID string) (*Journey, error)
}

// InMemoryStore is a Store for tests and local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	journeys map[string]*Journey
	now      func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		journeys: make(map[string]*Journey),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Create(ctx context.Context, req *CreateRequest) (*Journey, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	j := &Journey{
		ID:        uuid.New().String(),
		VisitorID: req.VisitorID,
		Vehicle:   Vehicle{Year: req.Year, Make: req.Make, Model: req.Model},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.journeys[j.ID] = j
	s.mu.Unlock()
	return cloneJourney(j), nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.journeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJourney(j), nil
}

func (s *InMemoryStore) UpdateVehicleDetails(ctx context.Context, id string, patch VehicleDetailsPatch) (*Journey, error) {
	return s.update(id, func(j *Journey) error {
		applyVehicleDetails(j, patch)
		return nil
	})
}

func (s *InMemoryStore) UpdateCondition(ctx context.Context, id string, patch ConditionPatch) (*Journey, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	return s.update(id, func(j *Journey) error {
		applyCondition(j, patch)
		return nil
	})
}

func (s *InMemoryStore) AttachAppointment(ctx context.Context, id string, appointmentID string) (*Journey, error) {
	return s.update(id, func(j *Journey) error {
		j.AppointmentID = &appointmentID
		return nil
	})
}

func (s *InMemoryStore) update(id string, fn func(*Journey) error) (*Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneJourney(j)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.journeys[id] = next
	return cloneJourney(next), nil
}
