package branches

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, "dir-key", logging.Discard())
}

const listingJSON = `{
  "physical": [{
    "id": "edison", "name": "Edison", "phone": "(732) 555-0100",
    "address": {"line1": "1 Main St", "city": "Edison", "state": "NJ", "zip": "07083"},
    "hours": [{"weekday": 3, "open": "10:00", "close": "19:00"}],
    "slots": {"2026-10-21": [{"id": "s-1", "time": "13:30"}]}
  }],
  "mobile": {"id": "mobile", "name": "At home", "slots": {"2026-10-22": [{"id": "m-1", "time": "09:00"}]}}
}`

func TestClient_ListAvailability(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/availability", r.URL.Path)
		assert.Equal(t, "07083", r.URL.Query().Get("zip"))
		assert.Equal(t, "journey-1", r.URL.Query().Get("vehicle_id"))
		assert.Equal(t, "2026-10-20", r.URL.Query().Get("from"))
		assert.Equal(t, "12", r.URL.Query().Get("days"))
		assert.Equal(t, "Bearer dir-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(listingJSON))
	})

	from := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	listing, err := client.ListAvailability(context.Background(), "07083", "journey-1", from, 12)
	require.NoError(t, err)

	require.Len(t, listing.Physical, 1)
	edison := listing.Physical[0]
	assert.Equal(t, availability.KindPhysical, edison.Kind)
	assert.Equal(t, "07083", edison.Address.Zip)
	require.Len(t, edison.Windows, 1)
	assert.Equal(t, time.Wednesday, edison.Windows[0].Weekday)
	assert.Equal(t, availability.At(10, 0), edison.Windows[0].Open)
	assert.Equal(t, availability.At(19, 0), edison.Windows[0].Close)
	assert.Equal(t, availability.At(13, 30), edison.Slots["2026-10-21"][0].Time)

	require.NotNil(t, listing.Mobile)
	assert.Equal(t, availability.KindMobile, listing.Mobile.Kind)
	assert.Len(t, listing.Branches(), 2)
}

func TestClient_NotFoundIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown zip", http.StatusNotFound)
	})
	listing, err := client.ListAvailability(context.Background(), "99999", "", time.Now(), 12)
	require.NoError(t, err)
	assert.Empty(t, listing.Branches())
}

func TestClient_ServerErrorsAreTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	})
	_, err := client.ListAvailability(context.Background(), "07083", "", time.Now(), 12)
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestClient_ClientErrorsAreNotTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad zip", http.StatusBadRequest)
	})
	_, err := client.ListAvailability(context.Background(), "0", "", time.Now(), 12)
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
	assert.Contains(t, err.Error(), "branch directory returned 400")
}

func TestClient_RejectsMalformedHours(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"physical":[{"id":"x","hours":[{"weekday":9,"open":"10:00","close":"12:00"}]}]}`))
	})
	_, err := client.ListAvailability(context.Background(), "07083", "", time.Now(), 12)
	assert.ErrorContains(t, err, "weekday 9 out of range")
}
