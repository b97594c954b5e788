package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rdelgatto/jobagent/internal/coordinator"
	"github.com/rdelgatto/jobagent/internal/queue"
)

// scriptedQueue returns queued responses in order, then empties.
type scriptedQueue struct {
	mu       sync.Mutex
	messages []*queue.Message
	errs     []error
	receives int
}

func (s *scriptedQueue) Receive(context.Context, string, time.Duration) (*queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.receives
	s.receives++
	var msg *queue.Message
	if i < len(s.messages) {
		msg = s.messages[i]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return msg, err
}

func (s *scriptedQueue) receiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receives
}

func (s *scriptedQueue) Enqueue(context.Context, string, string) error { return nil }
func (s *scriptedQueue) Renew(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (s *scriptedQueue) Delete(context.Context, string) error { return nil }
func (s *scriptedQueue) Close() error                         { return nil }

// countingProcessor records processed messages.
type countingProcessor struct {
	mu        sync.Mutex
	processed []*queue.Message
	block     chan struct{}
}

func (p *countingProcessor) Process(_ context.Context, msg *queue.Message) coordinator.Outcome {
	p.mu.Lock()
	p.processed = append(p.processed, msg)
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
	return coordinator.OutcomeCompleted
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func newWorker(q queue.Queue, p Processor) *Worker {
	return &Worker{
		Queue:       q,
		Coordinator: p,
		QueueName:   "default",
		Lease:       time.Minute,
		IdleBackoff: time.Millisecond,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorkerProcessesMessages(t *testing.T) {
	q := &scriptedQueue{messages: []*queue.Message{
		{ID: 1, Receipt: "r1"},
		{ID: 2, Receipt: "r2"},
	}}
	p := &countingProcessor{}
	w := newWorker(q, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return p.count() == 2 }, time.Second)
	cancel()
	<-done

	if p.processed[0].ID != 1 || p.processed[1].ID != 2 {
		t.Errorf("processed order = %v", p.processed)
	}
}

func TestWorkerBacksOffWhenIdle(t *testing.T) {
	q := &scriptedQueue{}
	w := newWorker(q, &countingProcessor{})
	w.IdleBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()
	<-done

	// Roughly one poll per backoff period, not a tight loop.
	if got := q.receiveCount(); got > 6 {
		t.Errorf("receive called %d times in 70ms with 20ms backoff", got)
	}
}

func TestWorkerSurvivesReceiveErrors(t *testing.T) {
	q := &scriptedQueue{
		errs:     []error{errors.New("db locked"), nil},
		messages: []*queue.Message{nil, {ID: 5, Receipt: "r5"}},
	}
	p := &countingProcessor{}
	w := newWorker(q, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return p.count() == 1 }, time.Second)
	cancel()
	<-done

	if p.processed[0].ID != 5 {
		t.Errorf("processed %v after the transient error", p.processed[0])
	}
}

func TestWorkerFinishesInFlightWorkOnCancel(t *testing.T) {
	q := &scriptedQueue{messages: []*queue.Message{{ID: 1, Receipt: "r1"}}}
	p := &countingProcessor{block: make(chan struct{})}
	w := newWorker(q, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return p.count() == 1 }, time.Second)
	cancel()

	// Cancellation must not interrupt the in-flight message.
	select {
	case <-done:
		t.Fatal("worker returned while a message was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(p.block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after the in-flight message finished")
	}
}
