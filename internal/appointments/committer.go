package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/internal/archive"
	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/messaging"
	"github.com/wolfman30/appraisal-booking/internal/notify"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var tracer = otel.Tracer("appraisal.internal.appointments")

const (
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond
)

type journeyConfirmer interface {
	Confirm(ctx context.Context, id, appointmentID string) (journey.State, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error)
}

type failureArchive interface {
	ArchiveCommitFailure(ctx context.Context, record *archive.CommitFailureRecord) (string, error)
}

type confirmationNotifier interface {
	NotifyAppointment(ctx context.Context, n notify.AppointmentNotice) error
}

type commitMetrics interface {
	ObserveCommitAttempt(ok bool)
	ObserveCommit(outcome string, seconds float64)
}

// Committer persists a verified draft. It never fails the user once the
// draft is valid and verified: exhausted retries degrade to a confirmation
// backed by an outbox event and an S3 archive.
type Committer struct {
	store    Store
	tokens   *TokenSource
	journeys journeyConfirmer
	outbox   outboxWriter
	archive  failureArchive
	notifier confirmationNotifier
	metrics  commitMetrics
	policy   *retry.Policy
	logger   *logging.Logger
	now      func() time.Time
}

func NewCommitter(store Store, tokens *TokenSource, journeys journeyConfirmer, logger *logging.Logger) *Committer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Committer{
		store:    store,
		tokens:   tokens,
		journeys: journeys,
		policy:   retry.New(DefaultAttempts, DefaultBackoff).WithClassifier(retry.Always),
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetryPolicy replaces the commit policy. Every failure is retried
// regardless of the policy's classifier.
func (c *Committer) WithRetryPolicy(p *retry.Policy) *Committer {
	if p != nil {
		c.policy = p.WithClassifier(retry.Always)
	}
	return c
}

func (c *Committer) WithOutbox(o outboxWriter) *Committer {
	c.outbox = o
	return c
}

func (c *Committer) WithArchive(a failureArchive) *Committer {
	c.archive = a
	return c
}

func (c *Committer) WithNotifier(n confirmationNotifier) *Committer {
	c.notifier = n
	return c
}

func (c *Committer) WithMetrics(m commitMetrics) *Committer {
	c.metrics = m
	return c
}

// Build turns a request into the appointment row, including its token.
func (c *Committer) Build(req CommitRequest) (*Appointment, error) {
	d := req.Draft
	if strings.TrimSpace(req.JourneyID) == "" || d.BranchID == "" || d.Date == "" || !d.DayPart.Valid() {
		return nil, ErrIncompleteDraft
	}
	if strings.TrimSpace(d.Contact.FirstName) == "" || strings.TrimSpace(d.Contact.LastName) == "" {
		return nil, ErrIncompleteDraft
	}
	if d.Mode == scheduling.ModeHome && d.Address == nil {
		return nil, ErrIncompleteDraft
	}
	phone, err := messaging.NormalizeUSPhone(d.Contact.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteDraft, err)
	}
	token, err := c.tokens.Token(req.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("appointments: token: %w", err)
	}
	appt := &Appointment{
		ID:        uuid.NewString(),
		VehicleID: req.JourneyID,
		BranchID:  d.BranchID,
		Mode:      d.Mode,
		Date:      d.Date,
		DayPart:   d.DayPart,
		SlotID:    d.SlotID,
		Phone:     phone,
		FirstName: strings.TrimSpace(d.Contact.FirstName),
		LastName:  strings.TrimSpace(d.Contact.LastName),
		Address:   d.Address,
		Token:     token,
	}
	if d.HasSlot() {
		appt.SlotTime = d.SlotTime.String()
	}
	return appt, nil
}

// Commit persists the appointment with bounded retry. A validation or
// verification problem is returned as an error; a store outage is not.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (*Confirmation, error) {
	if !req.Verified {
		return nil, ErrNotVerified
	}
	appt, err := c.Build(req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "appointments.commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("appraisal.journey_id", req.JourneyID),
		attribute.String("appraisal.branch_id", appt.BranchID),
	)

	started := c.now()
	attempts := 0
	var stored *Appointment
	err = c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		out, err := c.store.Create(ctx, appt)
		c.observeAttempt(err == nil)
		if err != nil {
			c.logger.Warn("appointment commit attempt failed",
				"journey_id", req.JourneyID,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		stored = out
		return nil
	})
	elapsed := c.now().Sub(started).Seconds()

	conf := &Confirmation{
		JourneyID: req.JourneyID,
		Draft:     req.Draft,
		Branch:    req.Branch,
		Label:     req.Draft.Label,
		TimeLabel: req.Draft.TimeLabel(),
		Attempts:  attempts,
	}
	if conf.Label == "" {
		conf.Label = scheduling.Label(req.Draft.Date, req.Draft.DayPart)
	}

	if err != nil {
		span.RecordError(err)
		c.degrade(ctx, req, appt, attempts, err, conf)
		c.observeCommit("degraded", elapsed)
		return conf, nil
	}

	conf.AppointmentID = stored.ID
	conf.Reference = stored.ID
	c.observeCommit("committed", elapsed)
	c.logger.Info("appointment committed",
		"journey_id", req.JourneyID,
		"appointment_id", stored.ID,
		"branch_id", stored.BranchID,
		"attempts", attempts,
	)
	c.afterCommit(ctx, req, stored)
	return conf, nil
}

func (c *Committer) afterCommit(ctx context.Context, req CommitRequest, appt *Appointment) {
	var j *journey.Journey
	if c.journeys != nil {
		state, err := c.journeys.Confirm(ctx, req.JourneyID, appt.ID)
		if err != nil {
			c.logger.Error("attach appointment to journey failed", "journey_id", req.JourneyID, "appointment_id", appt.ID, "error", err)
		} else {
			j = state.Journey
		}
	}

	if c.outbox != nil {
		evt := events.AppointmentCommittedV1{
			EventID:       uuid.NewString(),
			JourneyID:     req.JourneyID,
			AppointmentID: appt.ID,
			BranchID:      appt.BranchID,
			Date:          appt.Date,
			SlotID:        appt.SlotID,
			CommittedAt:   c.now().UTC(),
		}
		if _, err := c.outbox.Insert(ctx, req.JourneyID, events.TypeAppointmentCommitted, evt); err != nil {
			c.logger.Warn("outbox insert failed", "type", events.TypeAppointmentCommitted, "journey_id", req.JourneyID, "error", err)
		}
	}

	if c.notifier != nil {
		if err := c.notifier.NotifyAppointment(ctx, Notice(req, appt, j)); err != nil {
			c.logger.Warn("confirmation notice incomplete", "journey_id", req.JourneyID, "error", err)
		}
	}
}

// degrade records a commit that could not be persisted so it can be replayed
// out of band. Each sink is independent; a failing sink does not stop the
// others.
func (c *Committer) degrade(ctx context.Context, req CommitRequest, appt *Appointment, attempts int, cause error, conf *Confirmation) {
	eventID := uuid.NewString()
	conf.Degraded = true
	conf.Reference = eventID

	c.logger.Error("appointment commit failed; confirming optimistically",
		"journey_id", req.JourneyID,
		"branch_id", appt.BranchID,
		"date", appt.Date,
		"attempts", attempts,
		"event_id", eventID,
		"error", cause,
	)

	payload, err := json.Marshal(appt)
	if err != nil {
		c.logger.Error("marshal degraded appointment", "journey_id", req.JourneyID, "error", err)
		return
	}
	failedAt := c.now().UTC()

	if c.outbox != nil {
		evt := events.AppointmentCommitFailedV1{
			EventID:     eventID,
			JourneyID:   req.JourneyID,
			Attempts:    attempts,
			Error:       cause.Error(),
			FailedAt:    failedAt,
			Appointment: payload,
		}
		if _, err := c.outbox.Insert(ctx, req.JourneyID, events.TypeAppointmentCommitFailed, evt); err != nil {
			c.logger.Error("outbox insert failed", "type", events.TypeAppointmentCommitFailed, "journey_id", req.JourneyID, "error", err)
		}
	}

	if c.archive != nil {
		draft, _ := json.Marshal(req.Draft)
		record := &archive.CommitFailureRecord{
			EventID:    eventID,
			JourneyID:  req.JourneyID,
			BranchID:   appt.BranchID,
			Date:       appt.Date,
			SlotID:     appt.SlotID,
			PhoneHash:  archive.HashPhone(appt.Phone),
			Attempts:   attempts,
			Error:      cause.Error(),
			Draft:      draft,
			ArchivedAt: failedAt,
		}
		if _, err := c.archive.ArchiveCommitFailure(ctx, record); err != nil {
			c.logger.Error("archive commit failure", "journey_id", req.JourneyID, "error", err)
		}
	}
}

// Notice assembles the confirmation message inputs.
func Notice(req CommitRequest, appt *Appointment, j *journey.Journey) notify.AppointmentNotice {
	n := notify.AppointmentNotice{
		JourneyID:     req.JourneyID,
		AppointmentID: appt.ID,
		FirstName:     appt.FirstName,
		LastName:      appt.LastName,
		Phone:         appt.Phone,
		ConsentSMS:    req.Draft.Contact.ConsentSMS,
		Label:         req.Draft.Label,
		AtHome:        appt.Mode == scheduling.ModeHome,
	}
	if n.Label == "" {
		n.Label = scheduling.Label(appt.Date, req.Draft.DayPart)
	}
	if req.Draft.HasSlot() {
		n.TimeLabel = req.Draft.TimeLabel()
	}
	if j != nil {
		n.Email = j.Vehicle.Email
		n.Vehicle = strings.TrimSpace(fmt.Sprintf("%d %s %s", j.Vehicle.Year, j.Vehicle.Make, j.Vehicle.Model))
	}
	if req.Branch != nil {
		n.BranchName = req.Branch.Name
		n.BranchPhone = req.Branch.Phone
		if a := req.Branch.Address; a.Line1 != "" {
			n.BranchAddress = fmt.Sprintf("%s, %s, %s %s", a.Line1, a.City, a.State, a.Zip)
		}
	}
	if addr := appt.Address; addr != nil {
		parts := []string{addr.Line1}
		if addr.Line2 != "" {
			parts = append(parts, addr.Line2)
		}
		parts = append(parts, addr.City)
		n.HomeAddress = strings.Join(parts, ", ")
	}
	return n
}

func (c *Committer) observeAttempt(ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveCommitAttempt(ok)
	}
}

func (c *Committer) observeCommit(outcome string, seconds float64) {
	if c.metrics != nil {
		c.metrics.ObserveCommit(outcome, seconds)
	}
}

// IsClientError reports whether err should be shown to the visitor rather
// than degraded.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotVerified) || errors.Is(err, ErrIncompleteDraft)
}
