// Package lease keeps a queue message invisible while its job executes.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rdelgatto/jobagent/internal/metrics"
	"github.com/rdelgatto/jobagent/internal/queue"
)

// Renewer periodically extends the lease on a queue message while the
// coordinator works. Each successful renewal invalidates the prior receipt,
// so the coordinator must Stop the renewer and use the receipt it returns for
// the final delete — the original receipt is worthless by then.
//
// A failed renewal never aborts the job: losing the lease risks duplicate
// execution by another worker, which the design accepts, so the loop logs a
// warning and keeps trying with the receipt it still holds.
type Renewer struct {
	queue     queue.Queue
	lease     time.Duration
	interval  time.Duration
	logger    *slog.Logger
	onFailure func(error)

	mu      sync.Mutex
	receipt string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRenewer creates a renewer for the lease currently held under receipt.
// interval must be strictly shorter than lease; onFailure (optional) is
// invoked for each failed renewal attempt.
func NewRenewer(q queue.Queue, receipt string, lease, interval time.Duration, logger *slog.Logger, onFailure func(error)) *Renewer {
	return &Renewer{
		queue:     q,
		lease:     lease,
		interval:  interval,
		logger:    logger,
		onFailure: onFailure,
		receipt:   receipt,
	}
}

// Start launches the renewal loop. It returns immediately.
func (r *Renewer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)
}

// Stop cancels the renewal loop, waits for it to finish, and returns the most
// recently issued receipt. After Stop returns, no further renewal call is in
// flight, so the returned receipt is safe to use for the final delete.
func (r *Renewer) Stop() string {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return r.Receipt()
}

// Receipt returns the most recently issued receipt.
func (r *Renewer) Receipt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receipt
}

func (r *Renewer) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.renew(ctx)
		}
	}
}

func (r *Renewer) renew(ctx context.Context) {
	current := r.Receipt()

	newReceipt, err := r.queue.Renew(ctx, current, r.lease)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.LeaseRenewals.WithLabelValues(metrics.RenewalFailed).Inc()
		r.logger.Warn("lease renewal failed; continuing",
			"error", err,
		)
		if r.onFailure != nil {
			r.onFailure(err)
		}
		return
	}

	metrics.LeaseRenewals.WithLabelValues(metrics.RenewalOK).Inc()
	r.mu.Lock()
	r.receipt = newReceipt
	r.mu.Unlock()
}
