// Package sqlite implements a SQLite-backed graph.DeadLetterSink.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nodestream/flowline/graph"
)

// DeadLetterSink implements graph.DeadLetterSink using SQLite.
type DeadLetterSink struct {
	db        *sql.DB
	tableName string
}

// Options configures the SQLite connection and table layout.
type Options struct {
	Path string
	// TableName defaults to "dead_letters".
	TableName string
}

// New opens path and returns a DeadLetterSink backed by it, creating the table if needed.
func New(opts Options) (*DeadLetterSink, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sink/sqlite: unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "dead_letters"
	}

	sink := &DeadLetterSink{db: db, tableName: tableName}
	if err := sink.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// InitSchema creates the backing table if it doesn't already exist.
func (s *DeadLetterSink) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reason TEXT NOT NULL,
			item TEXT NOT NULL,
			received_at DATETIME NOT NULL
		);
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sink/sqlite: failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *DeadLetterSink) Close() error {
	return s.db.Close()
}

// Send implements graph.DeadLetterSink by inserting one row per dead-lettered item.
func (s *DeadLetterSink) Send(ctx context.Context, item any, reason string) error {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("sink/sqlite: failed to marshal item: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (reason, item, received_at) VALUES (?, ?, ?)
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, reason, string(itemJSON), time.Now()); err != nil {
		return fmt.Errorf("sink/sqlite: failed to insert dead letter: %w", err)
	}
	return nil
}

var _ graph.DeadLetterSink = (*DeadLetterSink)(nil)
