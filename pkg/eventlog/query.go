// Package eventlog persists dispatcher lifecycle events to SQLite and reads
// them back for the CLI.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"
)

// Event represents a single event from the fleet log.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Source    string
	AgentID   string
	TaskID    int64
	Worksite  string
	Payload   string
	CreatedAt time.Time
}

// Run is one row of the runs table.
type Run struct {
	ID        string
	Scenario  string
	StartedAt time.Time
	Events    int
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// RunID restricts to one run
	RunID string

	// AgentID filters events to a specific agent
	AgentID string

	// EventType filters to a specific event type (e.g., "assign", "discovery")
	EventType string

	// Worksite filters to events about one worksite
	Worksite string

	// After filters events created after this time (inclusive)
	After *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the SQLite database in read-only mode.
// Returns an error if the database doesn't exist or cannot be opened.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Reader{db: db}, nil
}

// Close releases the database connection.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// Query retrieves events matching opts, newest first.
// Returns an empty slice if no events match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                          Event
			agentID, worksite, payload sql.NullString
			taskID                     sql.NullInt64
			createdAtStr               string
		)
		err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Source, &agentID, &taskID, &worksite, &payload, &createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.AgentID, e.Worksite, e.Payload = agentID.String, worksite.String, payload.String
		e.TaskID = taskID.Int64

		if e.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// Runs lists recorded runs, newest first, with their event counts.
func (r *Reader) Runs(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, COALESCE(r.scenario, ''), r.started_at, COUNT(e.id)
		FROM runs r LEFT JOIN events e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt string
		if err := rows.Scan(&run.ID, &run.Scenario, &startedAt, &run.Events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// parseTimestamp parses SQLite's datetime('now') format, falling back to
// RFC 3339.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateTime, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, run_id, type, source, agent_id, task_id, worksite, payload, created_at FROM events WHERE 1=1"

	if opts.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}
	if opts.Worksite != "" {
		conditions = append(conditions, "worksite = ?")
		args = append(args, opts.Worksite)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(time.DateTime))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	// Order by newest first
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
