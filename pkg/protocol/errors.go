package protocol

import "fmt"

// UnknownAgentError is returned by lookups that reference an agent id the
// dispatcher has never registered.
type UnknownAgentError struct {
	AgentID string
	Op      string // operation that referenced the agent
}

func (e *UnknownAgentError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("agent %s not registered", e.AgentID)
	}
	return fmt.Sprintf("%s: agent %s not registered", e.Op, e.AgentID)
}

// WorksiteNotFoundError represents a worksite lookup failure. It is raised
// when a queued task outlives its worksite (dangling reference).
type WorksiteNotFoundError struct {
	Worksite string
	TaskID   int64
}

func (e *WorksiteNotFoundError) Error() string {
	if e.TaskID == 0 {
		return fmt.Sprintf("worksite %s not found", e.Worksite)
	}
	return fmt.Sprintf("worksite %s not found (task %d)", e.Worksite, e.TaskID)
}

// DuplicateAgentError reports a second registration of the same agent id.
type DuplicateAgentError struct {
	AgentID string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %s already registered", e.AgentID)
}
