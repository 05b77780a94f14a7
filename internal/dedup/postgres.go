package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps reservations in the processed_events table.
type PostgresStore struct {
	pool      rowQuerier
	retention time.Duration
	now       func() time.Time
	tracer    trace.Tracer
}

// NewPostgresStore creates a store over the processed_events table.
func NewPostgresStore(pool *pgxpool.Pool, retention time.Duration) *PostgresStore {
	if pool == nil {
		panic("dedup: pgx pool required")
	}
	return newPostgresStoreWithExec(pool, retention)
}

func newPostgresStoreWithExec(exec rowQuerier, retention time.Duration) *PostgresStore {
	if exec == nil {
		panic("dedup: exec required")
	}
	if retention <= 0 {
		panic("dedup: retention must be positive")
	}
	return &PostgresStore{
		pool:      exec,
		retention: retention,
		now:       time.Now,
		tracer:    otel.Tracer("thread-relay.internal.dedup.postgres"),
	}
}

// Reserve inserts a pending row, or takes over a row older than the retention window.
func (s *PostgresStore) Reserve(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	ctx, span := s.tracer.Start(ctx, "dedup.reserve")
	defer span.End()

	now := s.now().UTC()
	query := `
		INSERT INTO processed_events (event_id, outcome, created_at)
		VALUES ($1, 'pending', $2)
		ON CONFLICT (event_id) DO UPDATE
			SET outcome = 'pending', created_at = EXCLUDED.created_at, processed_at = NULL
			WHERE processed_events.created_at < $3
	`
	ct, err := s.pool.Exec(ctx, query, id, now, now.Add(-s.retention))
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("dedup: reserve: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkProcessed upserts the terminal outcome for id.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id, outcome string) error {
	if id == "" {
		return ErrEmptyID
	}
	ctx, span := s.tracer.Start(ctx, "dedup.mark_processed")
	defer span.End()

	query := `
		INSERT INTO processed_events (event_id, outcome, created_at, processed_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (event_id) DO UPDATE
			SET outcome = EXCLUDED.outcome, processed_at = EXCLUDED.processed_at
	`
	if _, err := s.pool.Exec(ctx, query, id, outcome, s.now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("dedup: mark processed: %w", err)
	}
	return nil
}

// Outcome reads the recorded outcome for id, if any.
func (s *PostgresStore) Outcome(ctx context.Context, id string) (string, bool, error) {
	var outcome string
	err := s.pool.QueryRow(ctx, `SELECT outcome FROM processed_events WHERE event_id = $1`, id).Scan(&outcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("dedup: load outcome: %w", err)
	}
	return outcome, true, nil
}

// Purge deletes rows older than the retention window.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE created_at < $1`, s.now().UTC().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("dedup: purge: %w", err)
	}
	return ct.RowsAffected(), nil
}

// RunPurger calls Purge every interval until ctx is done.
func (s *PostgresStore) RunPurger(ctx context.Context, interval time.Duration, onErr func(error)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Purge(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
