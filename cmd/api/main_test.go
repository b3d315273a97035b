package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/appraisal-booking/internal/appointments"
	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func TestSetupMetricsExposesFunnel(t *testing.T) {
	handler, funnel := setupMetrics()
	if handler == nil || funnel == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	funnel.ObserveStepView("schedule")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "appraisal_journey_step_views_total") {
		t.Fatalf("expected step view counter to be exported")
	}
}

func TestBuildStoresWithoutDatabase(t *testing.T) {
	journeys, appts, outbox := buildStores(nil)
	if _, ok := journeys.(*journey.InMemoryStore); !ok {
		t.Fatalf("expected in-memory journey store, got %T", journeys)
	}
	if _, ok := appts.(*appointments.InMemoryStore); !ok {
		t.Fatalf("expected in-memory appointment store, got %T", appts)
	}
	if outbox != nil {
		t.Fatalf("expected no outbox without a database")
	}
}

func TestBuildCommitterWithoutOptionalSinks(t *testing.T) {
	logger := logging.Discard()
	tokens, err := appointments.NewTokenSource("secret")
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	machine := journey.NewMachine(journey.NewInMemoryStore(), nil, logger)
	cfg := &appconfig.Config{CommitMaxAttempts: 2, EmailProvider: "sendgrid"}
	if c := buildCommitter(cfg, nil, appointments.NewInMemoryStore(), tokens, machine, nil, nil, nil, nil, logger); c == nil {
		t.Fatalf("expected committer")
	}
}
