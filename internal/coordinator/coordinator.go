// Package coordinator drives one job instance from received queue message to
// terminal state: claim, fetch, resolve, execute, finalize, delete.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rdelgatto/jobagent/internal/config"
	"github.com/rdelgatto/jobagent/internal/deps"
	"github.com/rdelgatto/jobagent/internal/jobpkg"
	"github.com/rdelgatto/jobagent/internal/lease"
	"github.com/rdelgatto/jobagent/internal/metrics"
	"github.com/rdelgatto/jobagent/internal/model"
	"github.com/rdelgatto/jobagent/internal/queue"
	"github.com/rdelgatto/jobagent/internal/runner"
	"github.com/rdelgatto/jobagent/internal/store"
)

// Outcome is how a message's processing ended.
type Outcome string

const (
	// OutcomeCompleted: the job ran to completion.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed: a stage failed; the instance carries the error detail.
	OutcomeFailed Outcome = "failed"
	// OutcomeDiscarded: the message was dropped without executing anything —
	// malformed body or an instance some other worker already finished.
	OutcomeDiscarded Outcome = "discarded"
)

// Coordinator processes one message at a time on behalf of a worker.
type Coordinator struct {
	Queue    queue.Queue
	Store    store.Store
	Fetcher  *jobpkg.Fetcher
	Resolver *deps.Resolver
	Runners  *runner.Registry
	Cfg      config.Config
	Logger   *slog.Logger
	AgentID  string
}

// Process drives the message to a terminal state. Whatever happens, the
// message is deleted at the end: failures are recorded on the instance, not
// retried by redelivery.
func (c *Coordinator) Process(ctx context.Context, msg *queue.Message) Outcome {
	started := time.Now()

	wire, err := model.DecodeBody(msg.Body)
	if err != nil {
		c.Logger.Warn("discarding malformed message",
			"queue", msg.Queue,
			"error", err,
		)
		c.deleteMessage(ctx, msg.Receipt, 0)
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		return OutcomeDiscarded
	}

	logger := c.Logger.With(
		"instance_id", wire.JobInstanceID,
		"job_id", wire.JobID,
	)

	renewer := lease.NewRenewer(c.Queue, msg.Receipt, c.Cfg.Lease, c.Cfg.RenewalInterval(), logger, func(renewErr error) {
		c.appendLog(ctx, wire, model.LevelWarning, model.ActionLeaseRenewalFailed,
			fmt.Sprintf("lease renewal failed: %v", renewErr))
	})
	renewer.Start(ctx)

	if err := c.Store.MarkInProcess(ctx, wire.JobInstanceID, c.AgentID, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			logger.Info("instance not claimable; discarding message", "error", err)
		} else {
			logger.Error("claim failed; discarding message", "error", err)
		}
		c.deleteMessage(ctx, renewer.Stop(), wire.JobInstanceID)
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		return OutcomeDiscarded
	}
	c.appendLog(ctx, wire, model.LevelInfo, model.ActionJobClaimed,
		fmt.Sprintf("claimed by agent %s", c.AgentID))
	logger.Info("job claimed")

	runErr := c.execute(ctx, wire)

	outcome := OutcomeCompleted
	if runErr != nil {
		outcome = OutcomeFailed
		detail := classify(runErr)
		c.appendLog(ctx, wire, model.LevelError, model.ActionJobError, detail)
		if err := c.Store.Finalize(ctx, wire.JobInstanceID, model.StatusError, detail, time.Now().UTC()); err != nil {
			logger.Error("finalize failed", "error", err)
		}
		logger.Error("job failed", "detail", detail)
	} else {
		c.appendLog(ctx, wire, model.LevelInfo, model.ActionJobCompleted, "job completed")
		if err := c.Store.Finalize(ctx, wire.JobInstanceID, model.StatusCompleted, "", time.Now().UTC()); err != nil {
			logger.Error("finalize failed", "error", err)
		}
		logger.Info("job completed", "duration", time.Since(started))
	}

	c.deleteMessage(ctx, renewer.Stop(), wire.JobInstanceID)

	metrics.JobsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.JobDuration.Observe(time.Since(started).Seconds())
	return outcome
}

// execute runs the fetch, resolve, and run stages. Any error is a stage
// failure the caller finalizes onto the instance.
func (c *Coordinator) execute(ctx context.Context, wire *model.QueueMessage) error {
	pkg, err := c.Fetcher.Fetch(ctx, wire.JobID, wire.JobInstanceID)
	if err != nil {
		return err
	}
	defer func() {
		if cleanErr := pkg.Cleanup(); cleanErr != nil {
			c.Logger.Warn("extraction dir cleanup failed",
				"instance_id", wire.JobInstanceID,
				"error", cleanErr,
			)
		}
	}()

	declared := pkg.Manifest.RuntimeDependencies(pkg.Runtime())
	artifacts, skipped, err := c.Resolver.Resolve(ctx, pkg.Runtime(), declared)
	if err != nil {
		return err
	}
	for _, d := range skipped {
		c.appendLog(ctx, wire, model.LevelWarning, model.ActionDependencySkipped,
			fmt.Sprintf("dependency %s %s could not be resolved; continuing without it", d.Name, d.Version))
	}

	rn, err := c.Runners.Resolve(pkg.Language)
	if err != nil {
		return err
	}

	settings, err := runner.LoadSettings(pkg, wire.JobEnvironment, c.Cfg.ConnectionStrings)
	if err != nil {
		return err
	}

	_, err = rn.Run(ctx, runner.RunSpec{
		Pkg: pkg,
		Context: runner.ExecutionContext{
			AgentID:           c.AgentID,
			JobID:             wire.JobID,
			InstanceID:        wire.JobInstanceID,
			Environment:       wire.JobEnvironment,
			WebhookParameters: wire.WebhookParameters,
		},
		Artifacts: artifacts,
		Settings:  settings,
		LogLine: func(line string) {
			c.appendLog(ctx, wire, model.LevelInfo, model.ActionJobProgress, line)
		},
	})
	return err
}

// deleteMessage removes the message under its final receipt. A stale receipt
// means the lease was lost and the message may run again elsewhere; that is
// the at-least-once trade-off, logged and accepted.
func (c *Coordinator) deleteMessage(ctx context.Context, receipt string, instanceID int64) {
	err := c.Queue.Delete(ctx, receipt)
	if err == nil {
		return
	}
	if errors.Is(err, queue.ErrStaleReceipt) {
		c.Logger.Warn("message delete raced a lost lease; duplicate delivery possible",
			"instance_id", instanceID,
		)
		return
	}
	c.Logger.Error("message delete failed",
		"instance_id", instanceID,
		"error", err,
	)
}

// appendLog writes an instance log entry, downgrading a store failure to a
// process-level warning so logging never fails a job.
func (c *Coordinator) appendLog(ctx context.Context, wire *model.QueueMessage, level, action, details string) {
	e := model.NewLogEntry(wire.JobInstanceID, wire.JobID, level, action, details)
	if err := c.Store.AppendLogEntry(ctx, e); err != nil {
		c.Logger.Warn("append log entry failed",
			"instance_id", wire.JobInstanceID,
			"action", action,
			"error", err,
		)
	}
}

// classify maps a stage error to the detail string stored on the instance:
// a stable code naming the failed stage, then the message.
func classify(err error) string {
	code := "InternalError"
	switch {
	case errors.Is(err, jobpkg.ErrPackageNotFound):
		code = "PackageNotFound"
	case errors.Is(err, jobpkg.ErrInvalidStructure):
		code = "InvalidPackageStructure"
	case errors.Is(err, deps.ErrResolutionFailed):
		code = "DependencyResolutionFailed"
	case errors.Is(err, runner.ErrMissingConfiguration):
		code = "MissingConfiguration"
	case errors.Is(err, runner.ErrCompilationFailed):
		code = "CompilationFailed"
	case errors.Is(err, runner.ErrExecutionFailed):
		code = "ExecutionFailed"
	}
	return fmt.Sprintf("%s: %v", code, err)
}
