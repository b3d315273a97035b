package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var tracer = otel.Tracer("appraisal.internal.availability")

const (
	// FetchHorizonDays is how many days the directory is asked for.
	FetchHorizonDays = 12
	// VisibleHorizonDays is how many days the scheduler exposes.
	VisibleHorizonDays = 10
)

// Listing is the branch directory's answer for a zip.
type Listing struct {
	Physical []Branch `json:"physical"`
	Mobile   *Branch  `json:"mobile,omitempty"`
}

// Branches returns physical branches followed by the mobile service, if any.
func (l Listing) Branches() []Branch {
	out := make([]Branch, 0, len(l.Physical)+1)
	out = append(out, l.Physical...)
	if l.Mobile != nil {
		mobile := *l.Mobile
		mobile.Kind = KindMobile
		out = append(out, mobile)
	}
	return out
}

// Directory lists branches and their per-date slot feed near a zip.
type Directory interface {
	ListAvailability(ctx context.Context, zip, vehicleID string, from time.Time, days int) (Listing, error)
}

// Loader fetches the directory and builds the matrix.
type Loader struct {
	directory Directory
	policy    *retry.Policy
	logger    *logging.Logger
	location  *time.Location
	now       func() time.Time
	horizon   int
}

// NewLoader wires a loader with three attempts and a short fixed backoff.
func NewLoader(directory Directory, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{
		directory: directory,
		policy:    retry.New(3, 300*time.Millisecond),
		logger:    logger,
		location:  time.UTC,
		now:       time.Now,
		horizon:   FetchHorizonDays,
	}
}

func (l *Loader) WithRetryPolicy(p *retry.Policy) *Loader {
	if p != nil {
		l.policy = p
	}
	return l
}

func (l *Loader) WithLocation(loc *time.Location) *Loader {
	if loc != nil {
		l.location = loc
	}
	return l
}

func (l *Loader) WithClock(now func() time.Time) *Loader {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Loader) WithHorizon(days int) *Loader {
	if days > 0 {
		l.horizon = days
	}
	return l
}

// Load returns ErrNoAvailability when the directory returns no branches, or
// when the branches it returns are closed across the whole horizon.
func (l *Loader) Load(ctx context.Context, zip, vehicleID string) (*Matrix, error) {
	if l == nil || l.directory == nil {
		return nil, errors.New("availability: directory not configured")
	}
	ctx, span := tracer.Start(ctx, "availability.load")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.zip", zip))

	start := l.now().In(l.location)
	var listing Listing
	err := l.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		listing, err = l.directory.ListAvailability(ctx, zip, vehicleID, start, l.horizon)
		if err != nil && retry.IsTransient(err) {
			l.logger.Warn("branch directory fetch failed", "zip", zip, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: list branches: %w", err)
	}

	branches := listing.Branches()
	if len(branches) == 0 {
		return nil, ErrNoAvailability
	}
	m, err := Build(branches, start, l.horizon)
	if err != nil {
		span.RecordError(err)
		l.logger.Error("branch operating data rejected", "zip", zip, "error", err)
		return nil, err
	}
	if !m.HasAny() {
		return m, ErrNoAvailability
	}
	return m, nil
}
