package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/appraisal-booking/internal/retry"
)

var storeTracer = otel.Tracer("appraisal.internal.journey.store")

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore stores journeys in the relational database.
type PostgresStore struct {
	pool rowQuerier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("journey: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q rowQuerier) *PostgresStore {
	if q == nil {
		panic("journey: querier required")
	}
	return &PostgresStore{pool: q}
}

const journeyColumns = `id::text, visitor_id, year, make, model, series, body, odometer, zip, email, phone,
		consent_sms, condition, appointment_id, created_at, updated_at`

// Create inserts a new row.
func (s *PostgresStore) Create(ctx context.Context, req *CreateRequest) (*Journey, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := storeTracer.Start(ctx, "journey.create")
	defer span.End()

	query := `
		INSERT INTO journeys (id, visitor_id, year, make, model)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + journeyColumns
	j, err := scanJourney(s.pool.QueryRow(ctx, query, uuid.New(), req.VisitorID, req.Year, req.Make, req.Model))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("journey: insert failed: %w", err)
	}
	return j, nil
}

// Get fetches a journey by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Journey, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	ctx, span := storeTracer.Start(ctx, "journey.get")
	defer span.End()

	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`
	j, err := scanJourney(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, classify(fmt.Errorf("journey: select failed: %w", err))
	}
	return j, nil
}

// UpdateVehicleDetails merges series/body; absent fields keep their value.
func (s *PostgresStore) UpdateVehicleDetails(ctx context.Context, id string, patch VehicleDetailsPatch) (*Journey, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `
		UPDATE journeys
		SET series = COALESCE($2, series),
		    body = COALESCE($3, body),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + journeyColumns
	j, err := scanJourney(s.pool.QueryRow(ctx, query, id, trimmed(patch.Series), trimmed(patch.Body)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(fmt.Errorf("journey: update vehicle failed: %w", err))
	}
	return j, nil
}

// UpdateCondition merges the condition report in Go and writes it back with
// the contact fields in one statement.
func (s *PostgresStore) UpdateCondition(ctx context.Context, id string, patch ConditionPatch) (*Journey, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyCondition(current, patch)
	var condition []byte
	if current.Condition != nil {
		if condition, err = json.Marshal(current.Condition); err != nil {
			return nil, fmt.Errorf("journey: marshal condition: %w", err)
		}
	}
	query := `
		UPDATE journeys
		SET condition = $2,
		    odometer = $3,
		    zip = $4,
		    email = $5,
		    phone = $6,
		    consent_sms = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + journeyColumns
	v := current.Vehicle
	j, err := scanJourney(s.pool.QueryRow(ctx, query, id, condition, v.Odometer, v.Zip, v.Email, v.Phone, current.ConsentSMS))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(fmt.Errorf("journey: update condition failed: %w", err))
	}
	return j, nil
}

// AttachAppointment records the committed appointment id.
func (s *PostgresStore) AttachAppointment(ctx context.Context, id string, appointmentID string) (*Journey, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `
		UPDATE journeys
		SET appointment_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + journeyColumns
	j, err := scanJourney(s.pool.QueryRow(ctx, query, id, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(fmt.Errorf("journey: attach appointment failed: %w", err))
	}
	return j, nil
}

func scanJourney(row pgx.Row) (*Journey, error) {
	var (
		j                                          Journey
		series, body, zip, email, phone, visitorID *string
		odometer                                   *int
		condition                                  []byte
	)
	if err := row.Scan(
		&j.ID,
		&visitorID,
		&j.Vehicle.Year,
		&j.Vehicle.Make,
		&j.Vehicle.Model,
		&series,
		&body,
		&odometer,
		&zip,
		&email,
		&phone,
		&j.ConsentSMS,
		&condition,
		&j.AppointmentID,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.VisitorID = deref(visitorID)
	j.Vehicle.Series = deref(series)
	j.Vehicle.Body = deref(body)
	j.Vehicle.Zip = deref(zip)
	j.Vehicle.Email = deref(email)
	j.Vehicle.Phone = deref(phone)
	if odometer != nil {
		j.Vehicle.Odometer = *odometer
	}
	if len(condition) > 0 {
		var c ConditionReport
		if err := json.Unmarshal(condition, &c); err != nil {
			return nil, fmt.Errorf("decode condition: %w", err)
		}
		j.Condition = &c
	}
	return &j, nil
}

// classify marks connection-level failures as transient so read paths retry.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return retry.Transient(err)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
