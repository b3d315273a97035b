package appointments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// Reconciler replays degraded commits delivered from the outbox. Replays are
// safe because the store deduplicates on (vehicle_id, token).
type Reconciler struct {
	store    Store
	journeys journeyConfirmer
	logger   *logging.Logger
}

func NewReconciler(store Store, journeys journeyConfirmer, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{store: store, journeys: journeys, logger: logger}
}

var _ events.DeliveryHandler = (*Reconciler)(nil)

// Handle implements events.DeliveryHandler. Entries of other types are
// acknowledged untouched.
func (r *Reconciler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeAppointmentCommitFailed {
		return nil
	}
	var evt events.AppointmentCommitFailedV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("appointments: decode %s: %w", entry.Type, err)
	}
	var appt Appointment
	if err := json.Unmarshal(evt.Appointment, &appt); err != nil {
		return fmt.Errorf("appointments: decode appointment for %s: %w", evt.JourneyID, err)
	}

	stored, err := r.store.Create(ctx, &appt)
	if err != nil {
		return fmt.Errorf("appointments: replay %s: %w", evt.EventID, err)
	}
	if r.journeys != nil {
		if _, err := r.journeys.Confirm(ctx, stored.VehicleID, stored.ID); err != nil {
			return fmt.Errorf("appointments: attach %s to journey %s: %w", stored.ID, stored.VehicleID, err)
		}
	}
	r.logger.Info("degraded appointment reconciled",
		"event_id", evt.EventID,
		"journey_id", stored.VehicleID,
		"appointment_id", stored.ID,
		"original_attempts", evt.Attempts,
	)
	return nil
}
