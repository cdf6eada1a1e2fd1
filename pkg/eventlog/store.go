package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"rovers/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// OpenDB opens a SQLite database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout. It also calls
// db.PingContext to verify the connection is usable before returning.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

// Store appends dispatcher events for one run. It implements
// dispatcher.EventSink.
type Store struct {
	db    *sql.DB
	runID string
}

// NewStore applies the schema to db and starts a new run tagged with
// scenario. The caller keeps ownership of db.
func NewStore(ctx context.Context, db *sql.DB, scenario string) (*Store, error) {
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	runID := uuid.NewString()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario) VALUES (?, ?)`, runID, nullString(scenario),
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Store{db: db, runID: runID}, nil
}

// RunID returns the id stamped on every event this store writes.
func (s *Store) RunID() string { return s.runID }

// Record inserts ev into the events table.
func (s *Store) Record(ctx context.Context, ev protocol.Event) error {
	var taskID sql.NullInt64
	if ev.TaskID != 0 {
		taskID = sql.NullInt64{Int64: ev.TaskID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, type, source, agent_id, task_id, worksite, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.runID, ev.Type, ev.Source, nullString(ev.AgentID), taskID, nullString(ev.Worksite), nullString(ev.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
