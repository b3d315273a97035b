package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
)

var storeTracer = otel.Tracer("appraisal.internal.appointments.store")

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists appointments via pgx.
type PostgresStore struct {
	pool rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q rowQuerier) *PostgresStore {
	return &PostgresStore{pool: q}
}

const appointmentColumns = `id::text, vehicle_id, branch_id, mode, appt_date, day_part, slot_id, slot_time,
		phone, first_name, last_name, address, token, created_at`

// Create inserts the appointment. The conflict clause turns a replayed
// (vehicle_id, token) into a read of the original row.
func (s *PostgresStore) Create(ctx context.Context, appt *Appointment) (*Appointment, error) {
	ctx, span := storeTracer.Start(ctx, "appointments.create")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.vehicle_id", appt.VehicleID))

	if !appt.DayPart.Valid() {
		return nil, fmt.Errorf("%w: day part %d", ErrIncompleteDraft, int(appt.DayPart))
	}
	id := appt.ID
	if id == "" {
		id = uuid.NewString()
	}
	var address []byte
	if appt.Address != nil {
		var err error
		if address, err = json.Marshal(appt.Address); err != nil {
			return nil, fmt.Errorf("appointments: marshal address: %w", err)
		}
	}

	query := `
		INSERT INTO appointments (id, vehicle_id, branch_id, mode, appt_date, day_part, slot_id, slot_time,
			phone, first_name, last_name, address, token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (vehicle_id, token) DO UPDATE SET token = EXCLUDED.token
		RETURNING ` + appointmentColumns
	out, err := scanAppointment(s.pool.QueryRow(ctx, query,
		id, appt.VehicleID, appt.BranchID, appt.Mode.String(), appt.Date, int16(appt.DayPart),
		nullable(appt.SlotID), nullable(appt.SlotTime),
		appt.Phone, appt.FirstName, appt.LastName, address, appt.Token,
	))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: insert failed: %w", classify(err))
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	ctx, span := storeTracer.Start(ctx, "appointments.get")
	defer span.End()

	out, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: get failed: %w", classify(err))
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a        Appointment
		mode     string
		slotID   *string
		slotTime *string
		address  []byte
		dayPart  int16
	)
	if err := row.Scan(&a.ID, &a.VehicleID, &a.BranchID, &mode, &a.Date, &dayPart, &slotID, &slotTime,
		&a.Phone, &a.FirstName, &a.LastName, &address, &a.Token, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.DayPart = availability.DayPart(dayPart)
	if !a.DayPart.Valid() {
		return nil, fmt.Errorf("appointments: stored day part %d out of range", dayPart)
	}
	if err := a.Mode.UnmarshalText([]byte(mode)); err != nil {
		return nil, err
	}
	if slotID != nil {
		a.SlotID = *slotID
	}
	if slotTime != nil {
		a.SlotTime = *slotTime
	}
	if len(address) > 0 {
		var addr scheduling.Address
		if err := json.Unmarshal(address, &addr); err != nil {
			return nil, fmt.Errorf("decode address: %w", err)
		}
		a.Address = &addr
	}
	return &a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

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
