package journey

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/internal/visitor"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// Handler handles HTTP requests for journeys.
type Handler struct {
	machine *Machine
	toasts  *events.ToastInbox
	logger  *logging.Logger
}

// NewHandler creates a new journeys handler.
func NewHandler(machine *Machine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{machine: machine, logger: logger}
}

// WithToasts attaches pending toasts to resume responses.
func (h *Handler) WithToasts(inbox *events.ToastInbox) *Handler {
	h.toasts = inbox
	return h
}

// Create handles POST /journeys.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.VisitorID, _ = visitor.IDFromContext(r.Context())

	state, err := h.machine.Start(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// Resume handles GET /journeys/resume?path=&journey_id=.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	visitorID, _ := visitor.IDFromContext(r.Context())
	entry := Entry{
		Path:      r.URL.Query().Get("path"),
		StoredID:  r.URL.Query().Get("journey_id"),
		VisitorID: visitorID,
	}
	state, err := h.machine.Resume(r.Context(), entry)
	state.Toasts = h.toasts.Drain(entry.JourneyID())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, state)
	case state.Redirect != "":
		// Fatal journey errors are answered with the redirect target, not an error page.
		writeJSON(w, http.StatusOK, state)
	default:
		h.logger.Warn("journey resume degraded", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, state)
	}
}

// Get handles GET /journeys/{journeyID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	visitorID, _ := visitor.IDFromContext(r.Context())
	j, err := h.machine.Get(r.Context(), chi.URLParam(r, "journeyID"), visitorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	phase := Derive(j)
	writeJSON(w, http.StatusOK, State{Journey: j, Phase: phase, Step: phase.Step(), Path: phase.Path(j.ID)})
}

// UpdateVehicle handles PATCH /journeys/{journeyID}/vehicle.
func (h *Handler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	var patch VehicleDetailsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	visitorID, _ := visitor.IDFromContext(r.Context())
	state, err := h.machine.SubmitSeriesBody(r.Context(), chi.URLParam(r, "journeyID"), visitorID, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// UpdateCondition handles PATCH /journeys/{journeyID}/condition.
func (h *Handler) UpdateCondition(w http.ResponseWriter, r *http.Request) {
	var patch ConditionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	visitorID, _ := visitor.IDFromContext(r.Context())
	state, err := h.machine.SubmitCondition(r.Context(), chi.URLParam(r, "journeyID"), visitorID, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type additionalRequest struct {
	Answers map[string]string `json:"answers"`
}

// UpdateAdditional handles PATCH /journeys/{journeyID}/additional.
func (h *Handler) UpdateAdditional(w http.ResponseWriter, r *http.Request) {
	var req additionalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	visitorID, _ := visitor.IDFromContext(r.Context())
	state, err := h.machine.SubmitAdditional(r.Context(), chi.URLParam(r, "journeyID"), visitorID, req.Answers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type errorBody struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Retry    bool   `json:"retry,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var fieldErr *FieldError
	switch {
	case errors.As(err, &fieldErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: fieldErr.Message, Field: fieldErr.Field})
	case errors.Is(err, ErrInvalidVehicle):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Redirect: EntryPath})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Redirect: EntryPath})
	case errors.Is(err, ErrOutOfOrder), errors.Is(err, ErrCompleted):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case retry.IsTransient(err) || errors.Is(err, retry.ErrExhausted):
		h.logger.Warn("journey store unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable", Retry: true})
	default:
		h.logger.Error("journey request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
