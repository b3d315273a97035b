package appointments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var appointmentCols = []string{"id", "vehicle_id", "branch_id", "mode", "appt_date", "day_part", "slot_id", "slot_time",
	"phone", "first_name", "last_name", "address", "token", "created_at"}

// smallintArg matches a bind argument only if pgx can encode it as a
// Postgres smallint and it equals want.
type smallintArg struct{ want int16 }

func (a smallintArg) Match(v interface{}) bool {
	if _, err := pgtype.NewMap().Encode(pgtype.Int2OID, pgtype.BinaryFormatCode, v, nil); err != nil {
		return false
	}
	got, ok := v.(int16)
	return ok && got == a.want
}

func TestPostgresStore_CreateIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	tokens, err := NewTokenSource("shared-secret")
	require.NoError(t, err)
	appt, err := NewCommitter(store, tokens, nil, logging.Discard()).
		Build(CommitRequest{JourneyID: "journey-1", Draft: branchDraft(), Verified: true})
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	firstID := uuid.NewString()
	slotID, slotTime := appt.SlotID, appt.SlotTime

	mock.ExpectQuery("INSERT INTO appointments (.+) ON CONFLICT \\(vehicle_id, token\\)").
		WithArgs(appt.ID, "journey-1", "edison", "branch", "2026-10-21", smallintArg{want: int16(availability.Afternoon)}, &slotID, &slotTime,
			"+15551234567", "Dana", "Reyes", pgxmock.AnyArg(), appt.Token).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow(firstID, "journey-1", "edison", "branch", "2026-10-21", int16(availability.Afternoon), &slotID, &slotTime,
				"+15551234567", "Dana", "Reyes", nil, appt.Token, now))

	out, err := store.Create(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, firstID, out.ID)
	assert.Equal(t, scheduling.ModeBranch, out.Mode)
	assert.Equal(t, availability.Afternoon, out.DayPart)
	assert.Equal(t, slotID, out.SlotID)
	assert.Nil(t, out.Address)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RejectsUnknownDayPart(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = newPostgresStoreWithQuerier(mock).Create(context.Background(), &Appointment{VehicleID: "journey-1", DayPart: availability.DayPart(7), Token: "1"})
	assert.ErrorIs(t, err, ErrIncompleteDraft)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ScanRejectsOutOfRangeDayPart(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.NewString()
	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow(id, "journey-1", "edison", "branch", "2026-10-21", int16(9), nil, nil,
				"+15551234567", "Dana", "Reyes", nil, "12345678", time.Now()))

	_, err = newPostgresStoreWithQuerier(mock).Get(context.Background(), id)
	assert.ErrorContains(t, err, "day part")
}

func TestPostgresStore_HomeAppointmentAddress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	id := uuid.NewString()
	addr, _ := json.Marshal(scheduling.Address{Line1: "9 Elm St", City: "Edison"})
	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow(id, "journey-1", "home", "home", "2026-10-21", int16(availability.Morning), nil, nil,
				"+15551234567", "Dana", "Reyes", addr, "12345678", time.Now()))

	out, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, scheduling.ModeHome, out.Mode)
	require.NotNil(t, out.Address)
	assert.Equal(t, "9 Elm St", out.Address.Line1)
	assert.Empty(t, out.SlotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	_, err = store.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	id := uuid.NewString()
	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ConstraintErrorsAreNotTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23514", Message: "appointments_day_part_check"})
	_, err = store.Create(context.Background(), &Appointment{VehicleID: "journey-1", Token: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appointments: insert failed")
	assert.False(t, retry.IsTransient(err))
}
