package events

import (
	"encoding/json"
	"time"
)

const (
	TypeAppointmentCommitted    = "appointment.committed.v1"
	TypeAppointmentCommitFailed = "appointment.commit_failed.v1"
)

// VehicleSnapshot is the vehicle description carried by analytics events.
type VehicleSnapshot struct {
	Year     int    `json:"year"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Series   string `json:"series,omitempty"`
	Body     string `json:"body,omitempty"`
	Odometer int    `json:"odometer,omitempty"`
	Zip      string `json:"zip,omitempty"`
}

type StepViewedV1 struct {
	EventID   string          `json:"event_id"`
	JourneyID string          `json:"journey_id"`
	VisitorID string          `json:"visitor_id,omitempty"`
	Step      int             `json:"step"`
	Name      string          `json:"name"`
	Vehicle   VehicleSnapshot `json:"vehicle"`
	ViewedAt  time.Time       `json:"viewed_at"`
}

// ToastLevel is the severity of a user-facing notice.
type ToastLevel string

const (
	ToastInfo  ToastLevel = "info"
	ToastError ToastLevel = "error"
)

type Toast struct {
	JourneyID string     `json:"journey_id,omitempty"`
	Level     ToastLevel `json:"level"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
}

type AppointmentCommittedV1 struct {
	EventID       string    `json:"event_id"`
	JourneyID     string    `json:"journey_id"`
	AppointmentID string    `json:"appointment_id"`
	BranchID      string    `json:"branch_id"`
	Date          string    `json:"date"`
	SlotID        string    `json:"slot_id"`
	CommittedAt   time.Time `json:"committed_at"`
	Reconciled    bool      `json:"reconciled,omitempty"`
}

// AppointmentCommitFailedV1 carries the full appointment record so the
// reconciler can replay it.
type AppointmentCommitFailedV1 struct {
	EventID     string          `json:"event_id"`
	JourneyID   string          `json:"journey_id"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error"`
	FailedAt    time.Time       `json:"failed_at"`
	Appointment json.RawMessage `json:"appointment"`
}
