package protocol

// SchemaDDL defines the SQLite schema for the fleet event log.
// Tables: runs, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- One row per simulation run; events reference it by run_id
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scenario TEXT,
    started_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Dispatcher lifecycle events: registration, assignment, completion, discovery
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    agent_id TEXT,
    task_id INTEGER,
    worksite TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS events_run_type ON events(run_id, type);
CREATE INDEX IF NOT EXISTS events_agent ON events(agent_id);
`
