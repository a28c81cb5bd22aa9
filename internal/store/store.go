// Package store is the pgx-backed persistence layer for the pipeline's four
// tables: video_metadata, audio_metadata, score_metadata, and
// stream_metadata. It owns connection retry, schema migration, and the
// repository layer the stages read and write through.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Store wraps a pgxpool.Pool with the repository methods the pipeline stages
// need. Stages receive narrower reader/writer interfaces (see e.g.
// sampler.FrameWriter, chunker.AudioWriter) rather than *Store directly.
type Store struct {
	pool *pgxpool.Pool
}

//go:embed sql/migrations/*.sql
var embedMigrations embed.FS

// Connect builds a pool from dsn and pings it with retries, grounded on
// ThirdCoastInteractive-Rewind's golden-ratio backoff connect loop but
// reimplemented against the real backoff/v5 dependency now in go.mod instead
// of a hand-rolled sleep loop.
func Connect(ctx context.Context, dsn string, maxRetries int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return struct{}{}, pingErr
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxRetries)))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database after %d retries: %w", maxRetries, err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the embedded goose migrations up to the latest version.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	return goose.UpContext(ctx, db, "sql/migrations")
}

// Close closes the underlying pool. The lifecycle controller closes it last,
// after every stage has returned.
func (s *Store) Close() {
	s.pool.Close()
}
