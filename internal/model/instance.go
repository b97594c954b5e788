package model

import "time"

// Job instance status constants.
const (
	StatusQueued    = "queued"
	StatusInProcess = "inprocess"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// validTransitions maps each status to the set of statuses it may transition to.
// An instance moves forward exactly once: queued → inprocess → completed|error.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusInProcess: true,
	},
	StatusInProcess: {
		StatusCompleted: true,
		StatusError:     true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a status is terminal.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusError
}

// JobInstance is one execution attempt of a job. Rows are created by a trigger
// producer before its message is enqueued, mutated only by the coordinator,
// and never deleted.
type JobInstance struct {
	ID          int64      `json:"id"`
	JobID       int64      `json:"job_id"`
	Status      string     `json:"status"`
	AgentID     string     `json:"agent_id,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
