// Package worker polls the queue and hands messages to the coordinator, one
// at a time.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/rdelgatto/jobagent/internal/coordinator"
	"github.com/rdelgatto/jobagent/internal/metrics"
	"github.com/rdelgatto/jobagent/internal/queue"
)

// Processor handles one received message to completion.
type Processor interface {
	Process(ctx context.Context, msg *queue.Message) coordinator.Outcome
}

// Worker is the poll loop for one queue. It keeps exactly one message in
// flight; cancellation is only observed between messages, so in-flight work
// always finishes.
type Worker struct {
	Queue       queue.Queue
	Coordinator Processor
	QueueName   string
	Lease       time.Duration
	IdleBackoff time.Duration
	Logger      *slog.Logger
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.Logger.Info("worker started",
		"queue", w.QueueName,
		"lease", w.Lease,
	)

	for {
		if ctx.Err() != nil {
			w.Logger.Info("worker stopped", "queue", w.QueueName)
			return
		}

		msg, err := w.Queue.Receive(ctx, w.QueueName, w.Lease)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.PollErrors.Inc()
			w.Logger.Error("queue receive failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if msg == nil {
			w.sleep(ctx)
			continue
		}

		w.Coordinator.Process(ctx, msg)
	}
}

// sleep waits out the idle backoff, returning early on cancellation.
func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.IdleBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
