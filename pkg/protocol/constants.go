package protocol

// Directory and file names used throughout rovers.
const (
	// RoversDir is the user-level state directory (e.g., ~/.rovers).
	RoversDir = ".rovers"

	// DBFile is the event log database inside RoversDir.
	DBFile = "events.db"

	// ConfigFile is the TOML configuration inside RoversDir.
	ConfigFile = "config.toml"

	// ScenariosDir holds worksite scenario files watched during a run.
	ScenariosDir = "scenarios"
)

// Event types written to the events table.
const (
	EventAgentRegistered = "agent_registered"
	EventAssign          = "assign"
	EventRequeue         = "requeue"
	EventComplete        = "complete"
	EventFailed          = "failed"
	EventStaleReport     = "stale_report"
	EventDiscovery       = "discovery"
	EventTaskGenerated   = "task_generated"
	EventModeChange      = "mode_change"
	EventLeaseExpired    = "lease_expired"
	EventUnknownAgent    = "unknown_agent"
	EventWorksiteAdded   = "worksite_added"
)
