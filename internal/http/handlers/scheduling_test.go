package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/internal/appointments"
	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/booking"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/messaging"
	"github.com/wolfman30/appraisal-booking/internal/otp"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
	"github.com/wolfman30/appraisal-booking/internal/visitor"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

const testVisitor = "visitor-9"

var schedulingNow = time.Date(2026, time.October, 21, 8, 30, 0, 0, time.UTC)

type fixedDirectory struct {
	listing availability.Listing
}

func (d fixedDirectory) ListAvailability(context.Context, string, string, time.Time, int) (availability.Listing, error) {
	return d.listing, nil
}

var smsCodeRe = regexp.MustCompile(`\b(\d{6})\b`)

type smsOutbox struct {
	mu   sync.Mutex
	sent []messaging.OutboundSMS
}

func (s *smsOutbox) Send(_ context.Context, msg messaging.OutboundSMS) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *smsOutbox) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	m := smsCodeRe.FindStringSubmatch(s.sent[len(s.sent)-1].Body)
	require.Len(t, m, 2)
	return m[1]
}

type schedulingFixture struct {
	router  http.Handler
	machine *journey.Machine
	store   *journey.InMemoryStore
	sms     *smsOutbox
}

func newSchedulingFixture(t *testing.T, listing availability.Listing) *schedulingFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	logger := logging.Discard()
	f := &schedulingFixture{store: journey.NewInMemoryStore(), sms: &smsOutbox{}}
	f.machine = journey.NewMachine(f.store, nil, logger)

	cfg := otp.DefaultConfig()
	cfg.Secret = "handler-secret"
	otpSvc := otp.NewService(rdb, f.sms, cfg, logger)

	tokens, err := appointments.NewTokenSource("commit-secret")
	require.NoError(t, err)
	committer := appointments.NewCommitter(appointments.NewInMemoryStore(), tokens, f.machine, logger).
		WithRetryPolicy(retry.New(1, 0))
	loader := availability.NewLoader(fixedDirectory{listing: listing}, logger).
		WithClock(func() time.Time { return schedulingNow }).
		WithRetryPolicy(retry.New(1, 0))
	flow := booking.NewFlow(loader, otpSvc, committer, booking.Config{SupportPhone: "800-555-0100"}, logger)

	h := NewSchedulingHandler(f.machine, flow, otpSvc, logger)
	r := chi.NewRouter()
	r.Route("/journeys/{journeyID}", func(r chi.Router) {
		r.Use(visitor.Require)
		r.Get("/availability", h.Availability)
		r.Post("/otp", h.RequestCode)
		r.Post("/otp/verify", h.VerifyCode)
		r.Post("/appointments", h.Commit)
	})
	f.router = r
	return f
}

func boolPtr(v bool) *bool { return &v }
func strPtr(v string) *string { return &v }

func (f *schedulingFixture) schedulable(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	state, err := f.machine.Start(ctx, &journey.CreateRequest{VisitorID: testVisitor, Year: 2020, Make: "Toyota", Model: "Camry"})
	require.NoError(t, err)
	id := state.Journey.ID
	_, err = f.machine.SubmitSeriesBody(ctx, id, testVisitor, journey.VehicleDetailsPatch{Series: strPtr("LE"), Body: strPtr("Sedan")})
	require.NoError(t, err)
	state, err = f.machine.SubmitCondition(ctx, id, testVisitor, journey.ConditionPatch{
		Runs: boolPtr(true), Drivable: boolPtr(true), Damage: boolPtr(false), Accident: boolPtr(false),
		Zip: strPtr("07083"), Phone: strPtr("908-555-1234"), ConsentSMS: boolPtr(true),
	})
	require.NoError(t, err)
	require.Equal(t, journey.PhaseSchedule, state.Phase)
	return id
}

func (f *schedulingFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(visitor.Header, testVisitor)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func storeBranch() availability.Branch {
	return availability.Branch{
		ID:      "union",
		Name:    "Union",
		Kind:    availability.KindPhysical,
		Phone:   "9085550100",
		Windows: []availability.OperatingWindow{{Weekday: time.Wednesday, Open: availability.At(10, 0), Close: availability.At(19, 0)}},
	}
}

func TestAvailability_ListsLocations(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)

	rec := f.do(t, http.MethodGet, "/journeys/"+id+"/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.JourneyID)
	assert.Equal(t, "800-555-0100", resp.SupportPhone)
	require.Len(t, resp.Locations, 1)
	assert.Equal(t, "union", resp.Locations[0].ID)
	assert.Len(t, resp.Locations[0].Availability, availability.VisibleHorizonDays)
	assert.NotEmpty(t, resp.Slots)
	assert.False(t, resp.NoAvailability)
}

func TestAvailability_NoBranches(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{})
	id := f.schedulable(t)

	rec := f.do(t, http.MethodGet, "/journeys/"+id+"/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"no_availability":true`)
}

func TestAvailability_UnknownJourneyRedirects(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})

	rec := f.do(t, http.MethodGet, "/journeys/missing/availability", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redirect":"/"`)
}

func TestAvailability_NotYetSchedulable(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	state, err := f.machine.Start(context.Background(), &journey.CreateRequest{VisitorID: testVisitor, Year: 2020, Make: "Toyota", Model: "Camry"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/journeys/"+state.Journey.ID+"/availability", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestCode_CooldownAndInvalidPhone(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)

	rec := f.do(t, http.MethodPost, "/journeys/"+id+"/otp", map[string]string{"phone": "12345"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/journeys/"+id+"/otp", map[string]string{"phone": "908-555-1234", "branch_id": "union"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.sms.sent, 1)
	assert.Equal(t, "+19085551234", f.sms.sent[0].To)

	rec = f.do(t, http.MethodPost, "/journeys/"+id+"/otp", map[string]string{"phone": "908-555-1234", "branch_id": "union"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestVerifyCode_WrongCode(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/journeys/"+id+"/otp", map[string]string{"phone": "908-555-1234"}).Code)

	wrong := "000000"
	if f.sms.lastCode(t) == wrong {
		wrong = "111111"
	}
	rec := f.do(t, http.MethodPost, "/journeys/"+id+"/otp/verify", map[string]string{"code": wrong})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
}

func bookingForm() booking.Form {
	return booking.Form{
		LocationID: "union",
		Date:       "2026-10-21",
		DayPart:    availability.Afternoon,
		Contact:    schedulingContact("908-555-1234"),
	}
}

func TestCommit_RequiresVerification(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)

	rec := f.do(t, http.MethodPost, "/journeys/"+id+"/appointments", bookingForm())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCommit_ValidationErrorsListFields(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)

	form := bookingForm()
	form.DayPart = availability.Evening
	rec := f.do(t, http.MethodPost, "/journeys/"+id+"/appointments", form)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Fields, "slot")
}

func TestCommit_VerifiedFlowConfirms(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/journeys/"+id+"/otp", map[string]string{"phone": "908-555-1234"}).Code)
	rec := f.do(t, http.MethodPost, "/journeys/"+id+"/otp/verify", map[string]string{"code": f.sms.lastCode(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/journeys/"+id+"/appointments", bookingForm())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conf appointments.Confirmation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conf))
	assert.Equal(t, id, conf.JourneyID)
	assert.NotEmpty(t, conf.AppointmentID)
	assert.False(t, conf.Degraded)
	require.NotNil(t, conf.Branch)
	assert.Equal(t, "Union", conf.Branch.Name)

	stored, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, journey.PhaseConfirmed, journey.Derive(stored))

	// The verification is spent and the journey is no longer schedulable.
	rec = f.do(t, http.MethodPost, "/journeys/"+id+"/appointments", bookingForm())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommit_PhoneMismatch(t *testing.T) {
	f := newSchedulingFixture(t, availability.Listing{Physical: []availability.Branch{storeBranch()}})
	id := f.schedulable(t)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/journeys/"+id+"/otp", map[string]string{"phone": "908-555-1234"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/journeys/"+id+"/otp/verify", map[string]string{"code": f.sms.lastCode(t)}).Code)

	form := bookingForm()
	form.Contact = schedulingContact("973-555-0000")
	rec := f.do(t, http.MethodPost, "/journeys/"+id+"/appointments", form)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func schedulingContact(phone string) scheduling.Contact {
	return scheduling.Contact{FirstName: "Ari", LastName: "Moss", Phone: phone, ConsentSMS: true}
}
