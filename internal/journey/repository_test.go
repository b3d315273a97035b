package journey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStorePartialMerges(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	j, err := store.Create(ctx, &CreateRequest{VisitorID: "v", Year: 2017, Make: "Subaru", Model: "Outback"})
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)
	assert.False(t, j.CreatedAt.IsZero())

	_, err = store.UpdateVehicleDetails(ctx, j.ID, VehicleDetailsPatch{Series: strPtr("Limited")})
	require.NoError(t, err)
	j, err = store.UpdateVehicleDetails(ctx, j.ID, VehicleDetailsPatch{Body: strPtr("Wagon")})
	require.NoError(t, err)
	assert.Equal(t, "Limited", j.Vehicle.Series)
	assert.Equal(t, "Wagon", j.Vehicle.Body)

	_, err = store.UpdateCondition(ctx, j.ID, ConditionPatch{Runs: boolPtr(true), Damage: boolPtr(true)})
	require.NoError(t, err)
	j, err = store.UpdateCondition(ctx, j.ID, ConditionPatch{FollowUp: map[string]string{"where": "bumper"}})
	require.NoError(t, err)
	assert.True(t, j.Condition.Runs)
	assert.True(t, j.Condition.Damage)
	assert.Equal(t, "bumper", j.Condition.FollowUp["where"])

	// Returned values are copies.
	j.Condition.FollowUp["where"] = "roof"
	again, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "bumper", again.Condition.FollowUp["where"])
}

func TestInMemoryStoreErrors(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, &CreateRequest{Year: 2017, Make: "", Model: "Outback"})
	assert.ErrorIs(t, err, ErrInvalidVehicle)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.AttachAppointment(ctx, "nope", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	j, err := store.Create(ctx, &CreateRequest{Year: 2017, Make: "Subaru", Model: "Outback"})
	require.NoError(t, err)
	_, err = store.UpdateCondition(ctx, j.ID, ConditionPatch{Phone: strPtr("12")})
	var fe *FieldError
	assert.ErrorAs(t, err, &fe)
}
