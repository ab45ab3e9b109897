// Package postgres implements a PostgreSQL-backed graph.DeadLetterSink, with a DBPool seam
// narrow enough for pgxmock-based tests.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nodestream/flowline/graph"
)

// DBPool is the subset of *pgxpool.Pool this sink needs, narrowed so tests can substitute
// pgxmock without a real database.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// DeadLetterSink implements graph.DeadLetterSink using PostgreSQL.
type DeadLetterSink struct {
	pool      DBPool
	tableName string
}

// Options configures the Postgres connection and table layout.
type Options struct {
	ConnString string
	// TableName defaults to "dead_letters".
	TableName string
}

// New opens a connection pool and returns a DeadLetterSink backed by it.
func New(ctx context.Context, opts Options) (*DeadLetterSink, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("sink/postgres: unable to create connection pool: %w", err)
	}
	return NewWithPool(pool, opts.TableName), nil
}

// NewWithPool wraps an existing pool (or mock) as a DeadLetterSink, for tests.
func NewWithPool(pool DBPool, tableName string) *DeadLetterSink {
	if tableName == "" {
		tableName = "dead_letters"
	}
	return &DeadLetterSink{pool: pool, tableName: tableName}
}

// InitSchema creates the backing table if it doesn't already exist.
func (s *DeadLetterSink) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			reason TEXT NOT NULL,
			item JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		);
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("sink/postgres: failed to create schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *DeadLetterSink) Close() {
	s.pool.Close()
}

// Send implements graph.DeadLetterSink by inserting one row per dead-lettered item.
func (s *DeadLetterSink) Send(ctx context.Context, item any, reason string) error {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("sink/postgres: failed to marshal item: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (reason, item, received_at)
		VALUES ($1, $2, $3)
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query, reason, itemJSON, time.Now()); err != nil {
		return fmt.Errorf("sink/postgres: failed to insert dead letter: %w", err)
	}
	return nil
}

var _ graph.DeadLetterSink = (*DeadLetterSink)(nil)
