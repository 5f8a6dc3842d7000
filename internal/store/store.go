// Package store is the Postgres access layer shared by the ingestor,
// locator and api-server. It wraps a pooled *sqlx.DB and exposes the
// parameterized queries each stage needs; DDL for the tables it reads and
// writes is provided externally (spec §1, §6).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store wraps a connection pool to the RTLS Postgres database.
type Store struct {
	DB *sqlx.DB
}

// pingMaxElapsed bounds how long Open will keep retrying the initial ping.
// Postgres and the three services are typically brought up by the same
// orchestrator at once, so a cold start commonly sees "connection refused"
// for the first few seconds.
const pingMaxElapsed = 30 * time.Second

// Open connects to dsn and sizes the pool per spec §5 (min 1 connection is
// implicit in database/sql; MaxOpen/MaxIdle bound the working set). The
// initial ping retries with exponential backoff so a service started
// slightly ahead of its database doesn't fail permanently.
func Open(dsn string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = pingMaxElapsed

	pingErr := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}, bo)
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", pingErr)
	}
	return &Store{DB: db}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
