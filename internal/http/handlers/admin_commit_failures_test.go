package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/internal/archive"
	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func TestListCommitFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	payload := `{"event_id":"e-1","journey_id":"j-1","attempts":3,"error":"store unavailable","appointment":{"mode":"branch"}}`
	created := time.Date(2026, 10, 21, 14, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "attempts", "last_error", "created_at"}).
		AddRow("o-1", "j-1", events.TypeAppointmentCommitFailed, []byte(payload), 2, "reconcile failed", created).
		AddRow("o-2", "j-2", events.TypeAppointmentCommitFailed, []byte(`not json`), 0, nil, created)
	mock.ExpectQuery("SELECT id, aggregate_id, type, payload, attempts, last_error, created_at FROM outbox").
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	rec := httptest.NewRecorder()
	NewAdminCommitFailuresHandler(db, logging.Discard()).List(rec, httptest.NewRequest(http.MethodGet, "/admin/commit-failures", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CommitFailuresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "j-1", resp.Failures[0].JourneyID)
	assert.Equal(t, "store unavailable", resp.Failures[0].CommitError)
	assert.JSONEq(t, `{"mode":"branch"}`, string(resp.Failures[0].Appointment))
	require.NotNil(t, resp.Failures[0].LastError)
	assert.Equal(t, "2026-10-21T14:00:00Z", resp.Failures[0].CreatedAt)
	assert.Nil(t, resp.Failures[1].LastError)
	assert.Empty(t, resp.Failures[1].CommitError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCommitFailures_LimitClamped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM outbox").
		WithArgs(sqlmock.AnyArg(), maxFailuresLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "attempts", "last_error", "created_at"}))

	rec := httptest.NewRecorder()
	NewAdminCommitFailuresHandler(db, logging.Discard()).List(rec, httptest.NewRequest(http.MethodGet, "/admin/commit-failures?limit=9999", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"failures":[],"count":0}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCommitFailures_BadLimit(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := httptest.NewRecorder()
	NewAdminCommitFailuresHandler(db, logging.Discard()).List(rec, httptest.NewRequest(http.MethodGet, "/admin/commit-failures?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCommitFailures_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM outbox").WillReturnError(errors.New("connection reset"))

	rec := httptest.NewRecorder()
	NewAdminCommitFailuresHandler(db, logging.Discard()).List(rec, httptest.NewRequest(http.MethodGet, "/admin/commit-failures", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubArchive map[string]*archive.CommitFailureRecord

func (s stubArchive) LoadCommitFailure(_ context.Context, key string) (*archive.CommitFailureRecord, error) {
	if rec, ok := s[key]; ok {
		return rec, nil
	}
	return nil, errors.New("NoSuchKey")
}

func TestArchivedCommitFailure(t *testing.T) {
	key := "commit-failures/v1/by-date/2026/10/21/j-1-e-1.json"
	h := NewAdminCommitFailuresHandler(nil, logging.Discard()).
		WithArchive(stubArchive{key: {EventID: "e-1", JourneyID: "j-1", PhoneHash: "abc"}})

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"found", "?key=" + key, http.StatusOK},
		{"missing", "?key=commit-failures/v1/by-date/2026/10/21/none.json", http.StatusNotFound},
		{"foreign prefix", "?key=manifests/2026-10.jsonl", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Archived(rec, httptest.NewRequest(http.MethodGet, "/admin/commit-failures/archive"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	NewAdminCommitFailuresHandler(nil, logging.Discard()).Archived(rec, httptest.NewRequest(http.MethodGet, "/admin/commit-failures/archive?key="+key, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
