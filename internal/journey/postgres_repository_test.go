package journey

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var journeyCols = []string{"id", "visitor_id", "year", "make", "model", "series", "body", "odometer", "zip", "email", "phone",
	"consent_sms", "condition", "appointment_id", "created_at", "updated_at"}

func TestPostgresStoreCreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)
	ctx := context.Background()

	id := uuid.NewString()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	visitor := "v-1"
	mock.ExpectQuery("INSERT INTO journeys").
		WithArgs(pgxmock.AnyArg(), "v-1", 2019, "Honda", "Civic").
		WillReturnRows(pgxmock.NewRows(journeyCols).
			AddRow(id, &visitor, 2019, "Honda", "Civic", nil, nil, nil, nil, nil, nil, false, nil, nil, now, now))

	j, err := store.Create(ctx, &CreateRequest{VisitorID: "v-1", Year: 2019, Make: " Honda ", Model: "Civic"})
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, "v-1", j.VisitorID)
	assert.Nil(t, j.Condition)
	assert.Equal(t, PhaseSeriesBody, Derive(j))

	series, body := "EX", "Sedan"
	condition, _ := json.Marshal(ConditionReport{Runs: true, Drivable: true})
	appt := "appt-7"
	mock.ExpectQuery("SELECT (.+) FROM journeys WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(journeyCols).
			AddRow(id, &visitor, 2019, "Honda", "Civic", &series, &body, nil, nil, nil, nil, true, condition, &appt, now, now))

	j, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "EX", j.Vehicle.Series)
	require.NotNil(t, j.Condition)
	assert.True(t, j.Condition.Drivable)
	assert.Equal(t, PhaseConfirmed, Derive(j))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	_, err = store.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	id := uuid.NewString()
	mock.ExpectQuery("SELECT (.+) FROM journeys").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateVehicleDetails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	id := uuid.NewString()
	now := time.Now().UTC()
	series, body := "Sport", "Coupe"
	mock.ExpectQuery("UPDATE journeys").
		WithArgs(id, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(journeyCols).
			AddRow(id, nil, 2018, "BMW", "M2", &series, &body, nil, nil, nil, nil, false, nil, nil, now, now))

	j, err := store.UpdateVehicleDetails(context.Background(), id, VehicleDetailsPatch{Series: strPtr(" Sport "), Body: strPtr("Coupe")})
	require.NoError(t, err)
	assert.Equal(t, PhaseCondition, Derive(j))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateConditionMerges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	id := uuid.NewString()
	now := time.Now().UTC()
	series, body, zip := "LX", "Wagon", "07083"
	existing, _ := json.Marshal(ConditionReport{Runs: true, Drivable: true, Damage: true})
	mock.ExpectQuery("SELECT (.+) FROM journeys").WithArgs(id).
		WillReturnRows(pgxmock.NewRows(journeyCols).
			AddRow(id, nil, 2012, "Volvo", "V70", &series, &body, nil, &zip, nil, nil, false, existing, nil, now, now))

	merged, _ := json.Marshal(ConditionReport{Runs: true, Drivable: true, Damage: true, FollowUp: map[string]string{"panel": "door"}, FollowUpDone: true})
	phone := "9085550100"
	mock.ExpectQuery("UPDATE journeys").
		WithArgs(id, merged, 0, "07083", "", phone, true).
		WillReturnRows(pgxmock.NewRows(journeyCols).
			AddRow(id, nil, 2012, "Volvo", "V70", &series, &body, nil, &zip, nil, &phone, true, merged, nil, now, now))

	done := true
	j, err := store.UpdateCondition(context.Background(), id, ConditionPatch{
		FollowUp:     map[string]string{"panel": "door"},
		FollowUpDone: &done,
		Phone:        strPtr("(908) 555-0100"),
		ConsentSMS:   boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseSchedule, Derive(j))
	assert.Equal(t, "door", j.Condition.FollowUp["panel"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAttachAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	id := uuid.NewString()
	mock.ExpectQuery("UPDATE journeys").WithArgs(id, "appt-1").WillReturnError(pgx.ErrNoRows)
	_, err = store.AttachAppointment(context.Background(), id, "appt-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
