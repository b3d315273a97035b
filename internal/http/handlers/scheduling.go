package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appraisal-booking/internal/appointments"
	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/booking"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/otp"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
	"github.com/wolfman30/appraisal-booking/internal/visitor"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

type journeyReader interface {
	Get(ctx context.Context, id, visitorID string) (*journey.Journey, error)
}

type sessionStarter interface {
	Begin(ctx context.Context, j *journey.Journey) (*booking.Session, error)
}

// OTPService is the server-side challenge store the handlers call.
type OTPService interface {
	RequestCode(ctx context.Context, vehicleID, branchID, phone string) (*otp.Challenge, error)
	Verify(ctx context.Context, vehicleID, code string) (otp.Verification, error)
	VerifiedPhone(ctx context.Context, vehicleID string) (string, bool, error)
	Consume(ctx context.Context, vehicleID string) error
}

// SchedulingHandler serves the schedule step: availability, OTP and commit.
type SchedulingHandler struct {
	journeys journeyReader
	flow     sessionStarter
	otp      OTPService
	logger   *logging.Logger
}

func NewSchedulingHandler(journeys journeyReader, flow sessionStarter, otpSvc OTPService, logger *logging.Logger) *SchedulingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulingHandler{journeys: journeys, flow: flow, otp: otpSvc, logger: logger}
}

// AvailabilityResponse is the schedule page's data.
type AvailabilityResponse struct {
	JourneyID      string                  `json:"journey_id"`
	Locations      []availability.Location `json:"locations"`
	Slots          []availability.TimeSlot `json:"slots"`
	SupportPhone   string                  `json:"support_phone,omitempty"`
	NoAvailability bool                    `json:"no_availability,omitempty"`
}

// Availability handles GET /journeys/{journeyID}/availability.
func (h *SchedulingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	session, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer session.Close()

	resp := AvailabilityResponse{
		JourneyID:    session.Journey().ID,
		Locations:    session.Locations(),
		SupportPhone: session.SupportPhone(),
	}
	m := session.Matrix()
	for _, loc := range resp.Locations {
		for _, day := range loc.Availability {
			for _, part := range availability.DayParts {
				resp.Slots = append(resp.Slots, m.Slots(loc.ID, day.Date, part)...)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type otpRequest struct {
	BranchID string `json:"branch_id"`
	Phone    string `json:"phone"`
}

// RequestCode handles POST /journeys/{journeyID}/otp.
func (h *SchedulingHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	j, ok := h.journey(w, r)
	if !ok {
		return
	}
	challenge, err := h.otp.RequestCode(r.Context(), j.ID, req.BranchID, req.Phone)
	if err != nil {
		h.writeOTPError(w, j.ID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, challenge)
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyCode handles POST /journeys/{journeyID}/otp/verify.
func (h *SchedulingHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	j, ok := h.journey(w, r)
	if !ok {
		return
	}
	result, err := h.otp.Verify(r.Context(), j.ID, req.Code)
	if err != nil {
		h.writeOTPError(w, j.ID, err)
		return
	}
	if !result.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Commit handles POST /journeys/{journeyID}/appointments. The form is
// replayed against fresh availability and the phone must match the one the
// journey verified.
func (h *SchedulingHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var form booking.Form
	if err := decodeJSON(w, r, &form); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	session, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer session.Close()
	journeyID := session.Journey().ID

	draft, err := session.Apply(form)
	if err != nil {
		h.writeSchedulingError(w, journeyID, err)
		return
	}

	phone, verified, err := h.otp.VerifiedPhone(r.Context(), journeyID)
	if err != nil {
		h.logger.Warn("otp verification lookup failed", "journey_id", journeyID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable", Retry: true})
		return
	}
	if !verified {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "Verify your phone number to book."})
		return
	}
	if err := session.Attest(draft, phone); err != nil {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "The verified phone does not match the contact phone."})
		return
	}

	conf, err := session.Complete(r.Context())
	if err != nil {
		h.writeSchedulingError(w, journeyID, err)
		return
	}
	if err := h.otp.Consume(r.Context(), journeyID); err != nil {
		h.logger.Warn("failed to consume otp verification", "journey_id", journeyID, "error", err)
	}
	writeJSON(w, http.StatusCreated, conf)
}

func (h *SchedulingHandler) journey(w http.ResponseWriter, r *http.Request) (*journey.Journey, bool) {
	visitorID, _ := visitor.IDFromContext(r.Context())
	j, err := h.journeys.Get(r.Context(), chi.URLParam(r, "journeyID"), visitorID)
	if err != nil {
		h.writeSchedulingError(w, chi.URLParam(r, "journeyID"), err)
		return nil, false
	}
	return j, true
}

func (h *SchedulingHandler) begin(w http.ResponseWriter, r *http.Request) (*booking.Session, bool) {
	j, ok := h.journey(w, r)
	if !ok {
		return nil, false
	}
	session, err := h.flow.Begin(r.Context(), j)
	if errors.Is(err, availability.ErrNoAvailability) {
		writeJSON(w, http.StatusOK, AvailabilityResponse{JourneyID: j.ID, Locations: []availability.Location{}, NoAvailability: true})
		return nil, false
	}
	if err != nil {
		h.writeSchedulingError(w, j.ID, err)
		return nil, false
	}
	return session, true
}

func (h *SchedulingHandler) writeSchedulingError(w http.ResponseWriter, journeyID string, err error) {
	var verr *scheduling.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Please fix the highlighted fields.", Fields: verr.Fields})
	case errors.Is(err, journey.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Redirect: journey.EntryPath})
	case errors.Is(err, journey.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Redirect: journey.EntryPath})
	case errors.Is(err, booking.ErrNotSchedulable), errors.Is(err, appointments.ErrIncompleteDraft):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, appointments.ErrNotVerified):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "Verify your phone number to book."})
	case retry.IsTransient(err) || errors.Is(err, retry.ErrExhausted):
		h.logger.Warn("scheduling dependency unavailable", "journey_id", journeyID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable", Retry: true})
	default:
		h.logger.Error("scheduling request failed", "journey_id", journeyID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *SchedulingHandler) writeOTPError(w http.ResponseWriter, journeyID string, err error) {
	var cooldown *otp.CooldownError
	var transport *otp.TransportError
	switch {
	case errors.As(err, &cooldown):
		secs := int(math.Ceil(cooldown.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Please wait before requesting another code.", RetryAfter: secs})
	case errors.Is(err, otp.ErrTooManySends):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many codes requested. Please try again later."})
	case errors.Is(err, otp.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: otp.LockedMessage})
	case errors.Is(err, otp.ErrInvalidPhone):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Enter a 10-digit phone number", Fields: map[string]string{"phone": "Enter a 10-digit phone number"}})
	case errors.Is(err, otp.ErrExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: "That code has expired. Request a new one."})
	case errors.Is(err, otp.ErrInvalidCode):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: otp.FailureMessage})
	case errors.As(err, &transport):
		h.logger.Warn("otp transport failed", "journey_id", journeyID, "error", err)
		msg := transport.Message
		if msg == "" {
			msg = "We couldn't send a code. Please try again."
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: msg, Retry: true})
	default:
		h.writeSchedulingError(w, journeyID, err)
	}
}
