// Package booking runs one visitor's scheduling flow in order: availability
// matrix, slot composer, OTP gate, appointment commit.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/appraisal-booking/internal/appointments"
	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/otp"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var (
	// ErrNotSchedulable is returned for a journey that has not reached the
	// schedule step, or never will.
	ErrNotSchedulable = errors.New("booking: journey is not at the schedule step")
	// ErrNoGate is returned when the OTP step is driven before it was opened.
	ErrNoGate = errors.New("booking: verification not started")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("booking: session closed")
)

type matrixLoader interface {
	Load(ctx context.Context, zip, vehicleID string) (*availability.Matrix, error)
}

type appointmentCommitter interface {
	Commit(ctx context.Context, req appointments.CommitRequest) (*appointments.Confirmation, error)
}

// Config tunes the flow.
type Config struct {
	VisibleDays    int
	SupportPhone   string
	FailureDelay   time.Duration
	NoticeDuration time.Duration
	Cooldown       time.Duration
	// Scheduler drives gate timers; nil uses real timers.
	Scheduler otp.Scheduler
}

// Flow opens sessions. It holds no per-visitor state.
type Flow struct {
	loader    matrixLoader
	verifier  otp.Verifier
	committer appointmentCommitter
	cfg       Config
	logger    *logging.Logger
}

func NewFlow(loader matrixLoader, verifier otp.Verifier, committer appointmentCommitter, cfg Config, logger *logging.Logger) *Flow {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.VisibleDays <= 0 {
		cfg.VisibleDays = availability.VisibleHorizonDays
	}
	return &Flow{
		loader:    loader,
		verifier:  verifier,
		committer: committer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Begin builds the matrix for the journey's zip and hands back a session
// whose composer is ready. Journeys that resolve to the no-appointment
// terminal never reach the directory.
func (f *Flow) Begin(ctx context.Context, j *journey.Journey) (*Session, error) {
	if j == nil {
		return nil, ErrNotSchedulable
	}
	if phase := journey.Derive(j); phase != journey.PhaseSchedule {
		f.logger.Info("booking session refused", "journey_id", j.ID, "phase", phase.Name())
		return nil, fmt.Errorf("%w: %s", ErrNotSchedulable, phase.Name())
	}
	matrix, err := f.loader.Load(ctx, j.Vehicle.Zip, j.ID)
	if err != nil {
		return nil, err
	}
	composer, err := scheduling.NewComposer(matrix, f.cfg.VisibleDays, f.cfg.SupportPhone)
	if err != nil {
		return nil, err
	}
	composer.SetContact(scheduling.Contact{Phone: j.Vehicle.Phone, ConsentSMS: j.ConsentSMS})
	return &Session{flow: f, journey: j, matrix: matrix, composer: composer}, nil
}

// Session is one booking modal. Like the composer it wraps, it is driven by
// a single visitor; the mutex only guards gate hooks that fire from timers.
type Session struct {
	flow     *Flow
	journey  *journey.Journey
	matrix   *availability.Matrix
	composer *scheduling.Composer

	mu       sync.Mutex
	gate     *otp.Gate
	draft    scheduling.Draft
	verified bool
	closed   bool
}

func (s *Session) Journey() *journey.Journey { return s.journey }

func (s *Session) Matrix() *availability.Matrix { return s.matrix }

// Locations is every location's bucket grid over the visible horizon.
func (s *Session) Locations() []availability.Location {
	return s.matrix.Locations(s.flow.cfg.VisibleDays)
}

// SupportPhone is the number offered to visitors who decline SMS.
func (s *Session) SupportPhone() string { return s.flow.cfg.SupportPhone }

// Composer is the slot picker and contact form.
func (s *Session) Composer() *scheduling.Composer { return s.composer }

// Gate returns the open OTP gate, or nil.
func (s *Session) Gate() *otp.Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

// Verified reports whether the current gate reported success.
func (s *Session) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// StartVerification validates the draft and opens a gate bound to its phone.
// The gate is returned even when the first send fails; its view carries the
// message and the visitor can resend.
func (s *Session) StartVerification(ctx context.Context) (*otp.Gate, error) {
	draft, err := s.composer.Validate()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.gate != nil {
		s.gate.Close()
	}
	cfg := s.flow.cfg
	gate := otp.NewGate(s.flow.verifier, otp.GateConfig{
		VehicleID:      s.journey.ID,
		BranchID:       draft.BranchID,
		Phone:          draft.Contact.Phone,
		FailureDelay:   cfg.FailureDelay,
		NoticeDuration: cfg.NoticeDuration,
		Cooldown:       cfg.Cooldown,
	}, otp.GateHooks{
		OnSuccess:     s.markVerified,
		OnChangePhone: s.changePhone,
	})
	if cfg.Scheduler != nil {
		gate.WithScheduler(cfg.Scheduler)
	}
	s.gate = gate
	s.draft = draft
	s.verified = false
	s.mu.Unlock()

	if err := gate.Open(ctx); err != nil {
		s.flow.logger.Warn("otp send failed", "journey_id", s.journey.ID, "error", err)
		return gate, err
	}
	return gate, nil
}

// SubmitCode verifies the gate's cells and, on success, commits.
func (s *Session) SubmitCode(ctx context.Context) (*appointments.Confirmation, error) {
	gate := s.Gate()
	if gate == nil {
		return nil, ErrNoGate
	}
	ok, err := gate.Submit(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, otp.ErrInvalidCode
	}
	return s.Complete(ctx)
}

// Complete commits the verified draft. It fails only for an unverified
// session or an invalid draft; store outages degrade inside the committer.
func (s *Session) Complete(ctx context.Context) (*appointments.Confirmation, error) {
	s.mu.Lock()
	verified, draft, closed := s.verified, s.draft, s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if !verified {
		return nil, appointments.ErrNotVerified
	}

	req := appointments.CommitRequest{
		JourneyID: s.journey.ID,
		Draft:     draft,
		Verified:  true,
	}
	if draft.Mode == scheduling.ModeBranch {
		if branch, ok := s.matrix.Branch(draft.LocationID); ok {
			req.Branch = &branch
		}
	}
	conf, err := s.flow.committer.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.Close()
	return conf, nil
}

// Close tears down the gate and its timers. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	gate := s.gate
	s.closed = true
	s.mu.Unlock()
	if gate != nil {
		gate.Close()
	}
}

func (s *Session) markVerified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = true
}

func (s *Session) changePhone() {
	s.mu.Lock()
	s.gate = nil
	s.verified = false
	s.mu.Unlock()
	s.composer.ReturnToContact()
}
