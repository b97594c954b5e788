package store

import (
	"context"
	"errors"
	"time"

	"github.com/rdelgatto/jobagent/internal/model"
)

// ErrNotFound is returned when a job instance is not found.
var ErrNotFound = errors.New("job instance not found")

// ErrInvalidTransition is returned when an instance status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store defines the persistence operations for job instances and their logs.
// Instances are an append-only audit trail: created by trigger producers,
// mutated only by the coordinator, never deleted.
type Store interface {
	CreateInstance(ctx context.Context, inst *model.JobInstance) error
	GetInstance(ctx context.Context, id int64) (*model.JobInstance, error)

	// MarkInProcess claims a queued instance for the given agent. It fails
	// with ErrInvalidTransition when the instance is not queued, which is how
	// a redelivered message for an already-finished instance is detected.
	MarkInProcess(ctx context.Context, id int64, agentID string, startedAt time.Time) error

	// Finalize moves an inprocess instance to completed or error.
	Finalize(ctx context.Context, id int64, status, errorDetail string, completedAt time.Time) error

	AppendLogEntry(ctx context.Context, e *model.LogEntry) error

	// ListLogEntries returns the instance's log ordered by timestamp descending.
	ListLogEntries(ctx context.Context, instanceID int64) ([]model.LogEntry, error)

	Close() error
}
