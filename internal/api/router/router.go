package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/appraisal-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appraisal-booking/internal/http/middleware"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/visitor"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	JourneyHandler     *journey.Handler
	SchedulingHandler  *handlers.SchedulingHandler
	AdminFailures      *handlers.AdminCommitFailuresHandler
	OTPLimiter         *httpmiddleware.RateLimiter
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Health dependencies (optional); each is pinged by /health.
	HealthChecks map[string]Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.Recover(logger))
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/journeys", func(journeys chi.Router) {
		journeys.Use(visitor.Require)
		if h := cfg.JourneyHandler; h != nil {
			journeys.Post("/", h.Create)
			journeys.Get("/resume", h.Resume)
			journeys.Get("/{journeyID}", h.Get)
			journeys.Patch("/{journeyID}/vehicle", h.UpdateVehicle)
			journeys.Patch("/{journeyID}/condition", h.UpdateCondition)
			journeys.Patch("/{journeyID}/additional", h.UpdateAdditional)
		}
		if h := cfg.SchedulingHandler; h != nil {
			journeys.Get("/{journeyID}/availability", h.Availability)
			journeys.Group(func(otp chi.Router) {
				if cfg.OTPLimiter != nil {
					otp.Use(httpmiddleware.RateLimit(cfg.OTPLimiter))
				}
				otp.Post("/{journeyID}/otp", h.RequestCode)
				otp.Post("/{journeyID}/otp/verify", h.VerifyCode)
			})
			journeys.Post("/{journeyID}/appointments", h.Commit)
		}
	})

	// Admin routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && cfg.AdminFailures != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/commit-failures", cfg.AdminFailures.List)
			admin.Get("/commit-failures/archive", cfg.AdminFailures.Archived)
		})
	}

	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				resp[name] = "unavailable"
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
