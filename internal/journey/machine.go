package journey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// stepViewRecorder is satisfied by metrics.FunnelMetrics.
type stepViewRecorder interface {
	ObserveStepView(step string)
}

// Entry is what the host knows on a direct load: the requested path, the id
// persisted on the device, and the visitor.
type Entry struct {
	Path      string
	StoredID  string
	VisitorID string
}

// JourneyID is the id an entry resumes: the path's id wins over the stored one.
func (e Entry) JourneyID() string {
	if _, id, _ := ParsePath(e.Path); id != "" {
		return id
	}
	return strings.TrimSpace(e.StoredID)
}

// State is the machine's answer for what to render.
type State struct {
	Journey   *Journey `json:"journey,omitempty"`
	Phase     Phase    `json:"phase"`
	Step      int      `json:"step"`
	Path      string   `json:"path"`
	Redirect  string   `json:"redirect,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`

	Toasts []events.Toast `json:"toasts,omitempty"`
}

// Machine is the single authority on a journey's phase. Paths and stored ids
// are inputs only.
type Machine struct {
	store   Store
	bus     *events.Bus
	policy  *retry.Policy
	metrics stepViewRecorder
	logger  *logging.Logger
	now     func() time.Time
}

// NewMachine wires a machine with three read attempts.
func NewMachine(store Store, bus *events.Bus, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		store:  store,
		bus:    bus,
		policy: retry.New(3, 300*time.Millisecond),
		logger: logger,
		now:    time.Now,
	}
}

func (m *Machine) WithRetryPolicy(p *retry.Policy) *Machine {
	if p != nil {
		m.policy = p
	}
	return m
}

func (m *Machine) WithMetrics(r stepViewRecorder) *Machine {
	m.metrics = r
	return m
}

// Resume rebuilds the state for a direct entry. Unresolvable ids redirect to
// the entry point; transient failures keep the requested step and are
// retryable.
func (m *Machine) Resume(ctx context.Context, entry Entry) (State, error) {
	requested, _, _ := ParsePath(entry.Path)
	id := entry.JourneyID()
	if id == "" {
		return State{Phase: PhaseVehicleInfo, Step: 1, Path: EntryPath, Redirect: EntryPath}, ErrMissingID
	}

	j, err := m.fetch(ctx, id, entry.VisitorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			m.logger.Info("journey not resumable", "journey_id", id, "error", err)
			return State{Phase: PhaseVehicleInfo, Step: 1, Path: EntryPath, Redirect: EntryPath}, err
		}
		m.logger.Warn("journey fetch failed", "journey_id", id, "error", err)
		m.toast(id, "We couldn't load your progress. Please try again.")
		stay := requested
		if !stay.Valid() {
			stay = PhaseSeriesBody
		}
		return State{Phase: stay, Step: stay.Step(), Path: stay.Path(id), Retryable: true}, err
	}

	phase := Resolve(j, requested)
	m.emit(j, phase)
	return m.state(j, phase), nil
}

// Start creates a journey from year/make/model and moves to series/body.
func (m *Machine) Start(ctx context.Context, req *CreateRequest) (State, error) {
	j, err := m.store.Create(ctx, req)
	if err != nil {
		return State{}, err
	}
	m.logger.Info("journey created", "journey_id", j.ID)
	return m.advance(j), nil
}

// SubmitSeriesBody stores step 2.
func (m *Machine) SubmitSeriesBody(ctx context.Context, id, visitorID string, patch VehicleDetailsPatch) (State, error) {
	if patch.Series == nil || strings.TrimSpace(*patch.Series) == "" {
		return State{}, &FieldError{Field: "series", Message: "is required"}
	}
	if patch.Body == nil || strings.TrimSpace(*patch.Body) == "" {
		return State{}, &FieldError{Field: "body", Message: "is required"}
	}
	if _, err := m.guard(ctx, id, visitorID, PhaseSeriesBody); err != nil {
		return State{}, err
	}
	j, err := m.store.UpdateVehicleDetails(ctx, id, patch)
	if err != nil {
		return State{}, err
	}
	return m.advance(j), nil
}

// SubmitCondition stores step 3. All four condition answers are required.
func (m *Machine) SubmitCondition(ctx context.Context, id, visitorID string, patch ConditionPatch) (State, error) {
	required := []struct {
		field string
		value *bool
	}{{"runs", patch.Runs}, {"drivable", patch.Drivable}, {"damage", patch.Damage}, {"accident", patch.Accident}}
	for _, r := range required {
		if r.value == nil {
			return State{}, &FieldError{Field: r.field, Message: "is required"}
		}
	}
	if _, err := m.guard(ctx, id, visitorID, PhaseCondition); err != nil {
		return State{}, err
	}
	// A fresh condition answer reopens the follow-up questions.
	reset := false
	patch.FollowUpDone = &reset
	j, err := m.store.UpdateCondition(ctx, id, patch)
	if err != nil {
		return State{}, err
	}
	return m.advance(j), nil
}

// SubmitAdditional stores the follow-up answers and completes the sub-state.
func (m *Machine) SubmitAdditional(ctx context.Context, id, visitorID string, answers map[string]string) (State, error) {
	j, err := m.guard(ctx, id, visitorID, PhaseAdditionalQuestions)
	if err != nil {
		return State{}, err
	}
	if !j.Condition.NeedsFollowUp() {
		return State{}, ErrOutOfOrder
	}
	done := true
	j, err = m.store.UpdateCondition(ctx, id, ConditionPatch{FollowUp: answers, FollowUpDone: &done})
	if err != nil {
		return State{}, err
	}
	return m.advance(j), nil
}

// Confirm attaches a committed appointment and moves to the terminal
// confirmation.
func (m *Machine) Confirm(ctx context.Context, id, appointmentID string) (State, error) {
	j, err := m.store.AttachAppointment(ctx, id, appointmentID)
	if err != nil {
		return State{}, err
	}
	return m.advance(j), nil
}

// Get returns the journey after checking visitor ownership.
func (m *Machine) Get(ctx context.Context, id, visitorID string) (*Journey, error) {
	return m.fetch(ctx, id, visitorID)
}

// guard loads the journey and checks that phase may be submitted now: the
// journey has reached it and is not already terminal.
func (m *Machine) guard(ctx context.Context, id, visitorID string, phase Phase) (*Journey, error) {
	j, err := m.fetch(ctx, id, visitorID)
	if err != nil {
		return nil, err
	}
	derived := Derive(j)
	if derived == PhaseConfirmed {
		return nil, ErrCompleted
	}
	if derived.order() < phase.order() {
		return nil, fmt.Errorf("%w: %s before %s", ErrOutOfOrder, phase, derived)
	}
	return j, nil
}

func (m *Machine) fetch(ctx context.Context, id, visitorID string) (*Journey, error) {
	var j *Journey
	err := m.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		j, err = m.store.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if visitorID != "" && j.VisitorID != "" && j.VisitorID != visitorID {
		return nil, ErrForbidden
	}
	return j, nil
}

func (m *Machine) advance(j *Journey) State {
	phase := Derive(j)
	m.emit(j, phase)
	return m.state(j, phase)
}

func (m *Machine) state(j *Journey, phase Phase) State {
	return State{Journey: j, Phase: phase, Step: phase.Step(), Path: phase.Path(j.ID)}
}

// emit publishes the step view without waiting for any consumer.
func (m *Machine) emit(j *Journey, phase Phase) {
	if m.metrics != nil {
		m.metrics.ObserveStepView(phase.Name())
	}
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.TopicStepViewed, events.StepViewedV1{
		EventID:   uuid.NewString(),
		JourneyID: j.ID,
		VisitorID: j.VisitorID,
		Step:      phase.Step(),
		Name:      phase.Name(),
		Vehicle:   Snapshot(j.Vehicle),
		ViewedAt:  m.now().UTC(),
	})
}

func (m *Machine) toast(journeyID, msg string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.TopicToast, events.Toast{JourneyID: journeyID, Level: events.ToastError, Message: msg, Retryable: true})
}

// Snapshot copies the analytics-safe vehicle fields.
func Snapshot(v Vehicle) events.VehicleSnapshot {
	return events.VehicleSnapshot{
		Year:     v.Year,
		Make:     v.Make,
		Model:    v.Model,
		Series:   v.Series,
		Body:     v.Body,
		Odometer: v.Odometer,
		Zip:      v.Zip,
	}
}
