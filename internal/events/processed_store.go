package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var processedTracer = otel.Tracer("appraisal.internal.events.processed")

type processedExec interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore is the consumer-side dedupe ledger. Queues deliver at least
// once; a (consumer, event id) pair is recorded after its side effect lands.
type ProcessedStore struct {
	db processedExec
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(exec processedExec) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: exec}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	ctx, span := processedTracer.Start(ctx, "processed.lookup")
	defer span.End()
	span.SetAttributes(attribute.String("consumer", consumer))

	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2)`,
		consumer, eventID,
	).Scan(&seen)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("events: check processed: %w", classify(err))
	}
	return seen, nil
}

// MarkProcessed reports whether this call recorded the pair; false means a
// concurrent consumer got there first.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_events (consumer, event_id) VALUES ($1, $2) ON CONFLICT (consumer, event_id) DO NOTHING`,
		consumer, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", classify(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Prune forgets pairs recorded before cutoff. Queue retention bounds how late
// a redelivery can arrive, so older rows can never match again.
func (s *ProcessedStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}

// RunPruner calls Prune every interval with a cutoff of now minus retention
// until ctx is done.
func (s *ProcessedStore) RunPruner(ctx context.Context, interval, retention time.Duration, logger *logging.Logger) {
	if interval <= 0 || retention <= 0 {
		return
	}
	if logger == nil {
		logger = logging.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Prune(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("processed events prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned processed events", "rows", n)
			}
		}
	}
}
