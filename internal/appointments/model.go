package appointments

import (
	"errors"
	"time"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
)

var (
	// ErrNotVerified is returned when commit is attempted before OTP success.
	ErrNotVerified = errors.New("appointments: phone not verified")
	// ErrIncompleteDraft is returned when the draft has no slot or contact.
	ErrIncompleteDraft = errors.New("appointments: draft incomplete")
	// ErrNotFound is returned when an appointment id does not resolve.
	ErrNotFound = errors.New("appointments: not found")
)

// Appointment is the persisted booking. VehicleID is the journey id.
type Appointment struct {
	ID        string               `json:"id"`
	VehicleID string               `json:"vehicle_id"`
	BranchID  string               `json:"branch_id"`
	Mode      scheduling.Mode      `json:"mode"`
	Date      string               `json:"date"`
	DayPart   availability.DayPart `json:"day_part"`
	SlotID    string               `json:"slot_id,omitempty"`
	SlotTime  string               `json:"slot_time,omitempty"`
	Phone     string               `json:"phone"`
	FirstName string               `json:"first_name"`
	LastName  string               `json:"last_name"`
	Address   *scheduling.Address  `json:"address,omitempty"`
	Token     string               `json:"token"`
	CreatedAt time.Time            `json:"created_at"`
}

// CommitRequest is a validated draft plus the verification outcome.
type CommitRequest struct {
	JourneyID string
	Draft     scheduling.Draft
	Verified  bool
	// Branch is the resolved branch record for the confirmation page; nil for
	// at-home appraisals.
	Branch *availability.Branch
}

// Confirmation is what the terminal page renders. It is produced on both the
// committed and the degraded path.
type Confirmation struct {
	JourneyID     string               `json:"journey_id"`
	AppointmentID string               `json:"appointment_id,omitempty"`
	Reference     string               `json:"reference"`
	Draft         scheduling.Draft     `json:"draft"`
	Branch        *availability.Branch `json:"branch,omitempty"`
	Label         string               `json:"label"`
	TimeLabel     string               `json:"time_label"`
	Degraded      bool                 `json:"degraded"`
	Attempts      int                  `json:"attempts"`
}
