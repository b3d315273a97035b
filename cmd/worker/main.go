package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/wolfman30/appraisal-booking/cmd/mainconfig"
	"github.com/wolfman30/appraisal-booking/internal/analytics"
	"github.com/wolfman30/appraisal-booking/internal/app/bootstrap"
	"github.com/wolfman30/appraisal-booking/internal/appointments"
	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/internal/journey"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// The worker records step views from SQS into DynamoDB and replays degraded
// appointment commits from the outbox.
func main() {
	_ = mainconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg.UseMemoryQueue {
		return errors.New("USE_MEMORY_QUEUE is set; step views are recorded by the api process")
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	db, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("DATABASE_URL is required")
	}
	defer db.Close()

	queue, err := bootstrap.BuildAnalyticsQueue(cfg, &awsCfg)
	if err != nil {
		return err
	}
	recorder := analytics.NewDynamoRecorder(dynamodb.NewFromConfig(awsCfg), cfg.StepViewsTable, logger)
	processed := events.NewProcessedStore(db.Pool)
	worker := analytics.NewWorker(queue, recorder, logger,
		analytics.WithProcessedStore(processed),
	)

	deliverer := buildReconciliation(cfg, db, logger)

	logger.Info("worker started", "queue", cfg.AnalyticsQueueURL, "table", cfg.StepViewsTable, "reconcile_interval", cfg.ReconcileInterval)
	worker.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		deliverer.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		processed.RunPruner(ctx, time.Hour, cfg.ProcessedRetention, logger)
	}()

	<-ctx.Done()
	worker.Wait()
	wg.Wait()
	return nil
}

// buildReconciliation drains commit-failure events from the outbox into the
// appointment store and links the journeys.
func buildReconciliation(cfg *appconfig.Config, db *bootstrap.Database, logger *logging.Logger) *events.Deliverer {
	machine := journey.NewMachine(journey.NewPostgresStore(db.Pool), nil, logger).
		WithRetryPolicy(retry.New(cfg.ReadRetryAttempts, cfg.ReadRetryBackoff))
	reconciler := appointments.NewReconciler(appointments.NewPostgresStore(db.Pool), machine, logger)
	deliverer := events.NewDeliverer(events.NewOutboxStore(db.Pool), reconciler, logger)
	if cfg.ReconcileInterval > 0 {
		deliverer.WithInterval(cfg.ReconcileInterval)
	}
	if cfg.ReconcileBatchSize > 0 {
		deliverer.WithBatchSize(int32(cfg.ReconcileBatchSize))
	}
	return deliverer
}
