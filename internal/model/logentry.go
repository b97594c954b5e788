package model

import (
	"time"

	"github.com/google/uuid"
)

// Log entry levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Log entry actions written by the coordinator. Executed job code logs
// through the JobProgress action.
const (
	ActionJobClaimed         = "JobClaimed"
	ActionJobProgress        = "JobProgress"
	ActionJobCompleted       = "JobCompleted"
	ActionJobError           = "JobError"
	ActionDependencySkipped  = "DependencySkipped"
	ActionLeaseRenewalFailed = "LeaseRenewalFailed"
)

// LogEntry is a single append-only log row for a job instance. The UI reads
// entries filtered by instance id, ordered by timestamp descending.
type LogEntry struct {
	ID         string    `json:"id"`
	InstanceID int64     `json:"instance_id"`
	JobID      int64     `json:"job_id"`
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
}

// NewLogEntry creates a log entry stamped with the current time and a fresh
// row key.
func NewLogEntry(instanceID, jobID int64, level, action, details string) *LogEntry {
	return &LogEntry{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		JobID:      jobID,
		Timestamp:  time.Now().UTC(),
		Level:      level,
		Action:     action,
		Details:    details,
	}
}
