package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/appraisal-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appraisal-booking/internal/http/middleware"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/visitor"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

const adminSecret = "router-admin-secret"

type missingJourneys struct{}

func (missingJourneys) Get(context.Context, string, string) (*journey.Journey, error) {
	return nil, journey.ErrNotFound
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()

	logger := logging.Discard()
	machine := journey.NewMachine(journey.NewInMemoryStore(), nil, logger)
	cfg := &Config{
		Logger:            logger,
		JourneyHandler:    journey.NewHandler(machine, logger),
		SchedulingHandler: handlers.NewSchedulingHandler(missingJourneys{}, nil, nil, logger),
		OTPLimiter:        httpmiddleware.NewRateLimiter(0.01, 1),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthReportsDegradedDependency(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.HealthChecks = map[string]Pinger{
			"redis":    pingFunc(func(context.Context) error { return nil }),
			"postgres": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		}
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"postgres":"unavailable"`) || !strings.Contains(body, `"redis":"ok"`) {
		t.Fatalf("unexpected health body: %s", body)
	}
}

func TestRouterJourneysRequireVisitor(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/journeys", strings.NewReader(`{"year":2019,"make":"Honda","model":"Civic"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d without visitor, got %d", http.StatusBadRequest, rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/journeys", strings.NewReader(`{"year":2019,"make":"Honda","model":"Civic"}`))
	req.Header.Set(visitor.Header, "visitor-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	var state journey.State
	if err := json.NewDecoder(rr.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Journey == nil || state.Step != 2 {
		t.Fatalf("expected step 2 with a journey, got %+v", state)
	}
}

func TestRouterOTPRateLimited(t *testing.T) {
	router := newTestRouter(t, nil)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/journeys/j-1/otp", strings.NewReader(`{"phone":"9085551234"}`))
		req.Header.Set(visitor.Header, "visitor-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(); rr.Code != http.StatusNotFound {
		t.Fatalf("expected first request to reach the handler, got %d", rr.Code)
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRouterAdminRoutes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("FROM outbox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "attempts", "last_error", "created_at"}))

	router := newTestRouter(t, func(cfg *Config) {
		cfg.AdminAuthSecret = adminSecret
		cfg.AdminFailures = handlers.NewAdminCommitFailuresHandler(db, logging.Discard())
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/commit-failures", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, rr.Code)
	}

	claims := httpmiddleware.AdminClaims{
		Scope: httpmiddleware.AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/admin/commit-failures", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRouterAdminNotMountedWithoutSecret(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/commit-failures", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}
