package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/appraisal-booking/cmd/mainconfig"
	"github.com/wolfman30/appraisal-booking/internal/analytics"
	"github.com/wolfman30/appraisal-booking/internal/api/router"
	"github.com/wolfman30/appraisal-booking/internal/app/bootstrap"
	"github.com/wolfman30/appraisal-booking/internal/appointments"
	"github.com/wolfman30/appraisal-booking/internal/archive"
	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/booking"
	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appraisal-booking/internal/http/middleware"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/notify"
	"github.com/wolfman30/appraisal-booking/internal/observability/metrics"
	"github.com/wolfman30/appraisal-booking/internal/otp"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func main() {
	if err := mainconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appraisal-booking API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	metricsHandler, funnel := setupMetrics()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	db, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory journey and appointment stores")
	}

	rdb := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if rdb == nil {
		return errors.New("redis is required for otp challenges")
	}
	defer rdb.Close()

	messenger, provider, reason := bootstrap.BuildMessenger(cfg, funnel, logger)
	if messenger == nil {
		return fmt.Errorf("no sms provider: %s", reason)
	}
	logger.Info("sms provider selected", "provider", provider)

	directory, err := bootstrap.BuildDirectory(cfg, rdb, logger)
	if err != nil {
		return err
	}
	queue, err := bootstrap.BuildAnalyticsQueue(cfg, &awsCfg)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer bus.Close()
	analytics.NewPublisher(queue, logger).Attach(ctx, bus)
	if mem, ok := queue.(*analytics.MemoryQueue); ok {
		// Without SQS the recorder has to run here; cmd/worker cannot see this queue.
		recorder := analytics.NewDynamoRecorder(dynamodb.NewFromConfig(awsCfg), cfg.StepViewsTable, logger)
		worker := analytics.NewWorker(mem, recorder, logger)
		worker.Start(ctx)
		defer worker.Wait()
	}

	readPolicy := retry.New(cfg.ReadRetryAttempts, cfg.ReadRetryBackoff)
	journeyStore, apptStore, outbox := buildStores(db)
	machine := journey.NewMachine(journeyStore, bus, logger).
		WithRetryPolicy(readPolicy).
		WithMetrics(funnel)
	toasts := events.NewToastInbox(bus)
	defer toasts.Close()

	otpCfg := otp.DefaultConfig()
	otpCfg.Secret = cfg.OTPSecret
	otpCfg.CodeTTL = cfg.OTPCodeTTL
	otpCfg.Cooldown = cfg.OTPResendCooldown
	otpCfg.MaxAttempts = cfg.OTPMaxAttempts
	otpCfg.VerifiedTTL = cfg.OTPVerifiedTTL
	otpCfg.FromNumber = cfg.SMSFromNumber
	otpSvc := otp.NewService(rdb, messenger, otpCfg, logger).WithMetrics(funnel)

	tokens, err := appointments.NewTokenSource(cfg.AppointmentTokenSecret)
	if err != nil {
		return fmt.Errorf("appointment tokens: %w", err)
	}
	var failures *archive.Store
	if cfg.ReconciliationBucket != "" {
		failures = archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ReconciliationBucket, logger)
	}
	committer := buildCommitter(cfg, &awsCfg, apptStore, tokens, machine, outbox, failures, otpSvc, funnel, logger)

	loader := availability.NewLoader(directory, logger).
		WithRetryPolicy(readPolicy).
		WithHorizon(cfg.FetchHorizonDays).
		WithLocation(cfg.Location())
	flow := booking.NewFlow(loader, otpSvc, committer, booking.Config{
		VisibleDays:  cfg.VisibleHorizonDays,
		SupportPhone: cfg.SupportPhone,
		FailureDelay: cfg.OTPFailureDelay,
		Cooldown:     cfg.OTPResendCooldown,
	}, logger)

	limiter := httpmiddleware.NewRateLimiter(cfg.OTPRateLimitRPS, cfg.OTPRateLimitBurst)
	go limiter.Run(ctx)

	routerCfg := &router.Config{
		Logger:             logger,
		JourneyHandler:     journey.NewHandler(machine, logger).WithToasts(toasts),
		SchedulingHandler:  handlers.NewSchedulingHandler(machine, flow, otpSvc, logger),
		OTPLimiter:         limiter,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HealthChecks:       map[string]router.Pinger{"redis": bootstrap.RedisPinger{Client: rdb}},
	}
	if db != nil {
		routerCfg.AdminFailures = handlers.NewAdminCommitFailuresHandler(db.SQL, logger)
		if failures != nil {
			routerCfg.AdminFailures.WithArchive(failures)
		}
		routerCfg.HealthChecks["postgres"] = db
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, logger)
}

func serve(ctx context.Context, srv *http.Server, logger *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func setupMetrics() (http.Handler, *metrics.FunnelMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewFunnelMetrics(reg)
}

func buildStores(db *bootstrap.Database) (journey.Store, appointments.Store, *events.OutboxStore) {
	if db == nil {
		return journey.NewInMemoryStore(), appointments.NewInMemoryStore(), nil
	}
	return journey.NewPostgresStore(db.Pool), appointments.NewPostgresStore(db.Pool), events.NewOutboxStore(db.Pool)
}

func buildCommitter(
	cfg *appconfig.Config,
	awsCfg *aws.Config,
	store appointments.Store,
	tokens *appointments.TokenSource,
	machine *journey.Machine,
	outbox *events.OutboxStore,
	failures *archive.Store,
	texts notify.TextSender,
	funnel *metrics.FunnelMetrics,
	logger *logging.Logger,
) *appointments.Committer {
	committer := appointments.NewCommitter(store, tokens, machine, logger).
		WithRetryPolicy(retry.New(cfg.CommitMaxAttempts, cfg.CommitBackoff)).
		WithNotifier(notify.NewService(bootstrap.BuildEmailSender(cfg, awsCfg, logger), texts, logger).WithReplyTo(cfg.EmailReplyTo)).
		WithMetrics(funnel)
	if outbox != nil {
		committer.WithOutbox(outbox)
	}
	if failures != nil {
		committer.WithArchive(failures)
	}
	return committer
}
