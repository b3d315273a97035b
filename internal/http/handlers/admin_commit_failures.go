package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wolfman30/appraisal-booking/internal/archive"
	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

const (
	defaultFailuresLimit = 50
	maxFailuresLimit     = 500
)

// AdminCommitFailuresHandler lists appointment commits that degraded and have
// not been reconciled yet.
type AdminCommitFailuresHandler struct {
	db      *sql.DB
	archive archiveReader
	logger  *logging.Logger
}

type archiveReader interface {
	LoadCommitFailure(ctx context.Context, key string) (*archive.CommitFailureRecord, error)
}

func NewAdminCommitFailuresHandler(db *sql.DB, logger *logging.Logger) *AdminCommitFailuresHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminCommitFailuresHandler{db: db, logger: logger}
}

// WithArchive enables lookups of records archived to S3.
func (h *AdminCommitFailuresHandler) WithArchive(a archiveReader) *AdminCommitFailuresHandler {
	h.archive = a
	return h
}

// CommitFailureItem is one undelivered outbox row.
type CommitFailureItem struct {
	ID          string          `json:"id"`
	JourneyID   string          `json:"journey_id"`
	Type        string          `json:"type"`
	Attempts    int             `json:"attempts"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	Appointment json.RawMessage `json:"appointment,omitempty"`
	CommitError string          `json:"commit_error,omitempty"`
}

type CommitFailuresResponse struct {
	Failures []CommitFailureItem `json:"failures"`
	Count    int                 `json:"count"`
}

// List handles GET /admin/commit-failures?limit=N.
func (h *AdminCommitFailuresHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailuresLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxFailuresLimit)
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, aggregate_id, type, payload, attempts, last_error, created_at
		FROM outbox
		WHERE type = ANY($1) AND delivered_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2`,
		pq.Array([]string{events.TypeAppointmentCommitFailed}), limit)
	if err != nil {
		h.logger.Error("failed to query commit failures", "error", err)
		jsonError(w, "Failed to load commit failures", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	resp := CommitFailuresResponse{Failures: []CommitFailureItem{}}
	for rows.Next() {
		var (
			item      CommitFailureItem
			payload   []byte
			lastError sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.JourneyID, &item.Type, &payload, &item.Attempts, &lastError, &createdAt); err != nil {
			h.logger.Error("failed to scan commit failure", "error", err)
			jsonError(w, "Failed to load commit failures", http.StatusInternalServerError)
			return
		}
		if lastError.Valid {
			item.LastError = &lastError.String
		}
		item.CreatedAt = createdAt.UTC().Format(time.RFC3339)

		var failed events.AppointmentCommitFailedV1
		if err := json.Unmarshal(payload, &failed); err == nil {
			item.Appointment = failed.Appointment
			item.CommitError = failed.Error
		} else {
			h.logger.Warn("undecodable commit failure payload", "id", item.ID, "error", err)
		}
		resp.Failures = append(resp.Failures, item)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("commit failure rows", "error", err)
		jsonError(w, "Failed to load commit failures", http.StatusInternalServerError)
		return
	}
	resp.Count = len(resp.Failures)
	writeJSON(w, http.StatusOK, resp)
}

// Archived handles GET /admin/commit-failures/archive?key=commit-failures/v1/...
func (h *AdminCommitFailuresHandler) Archived(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		jsonError(w, "Commit failure archive is not configured", http.StatusNotFound)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if !strings.HasPrefix(key, "commit-failures/") {
		jsonError(w, "key must be a commit-failures archive key", http.StatusBadRequest)
		return
	}
	record, err := h.archive.LoadCommitFailure(r.Context(), key)
	if err != nil {
		h.logger.Warn("failed to load archived commit failure", "key", key, "error", err)
		jsonError(w, "Archived record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
