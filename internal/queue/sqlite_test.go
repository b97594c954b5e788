package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	q, err := NewSQLiteQueue(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestReceiveEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	msg, err := q.Receive(context.Background(), "default", time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg != nil {
		t.Errorf("Receive on empty queue = %+v, want nil", msg)
	}
}

func TestReceiveHidesMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "default", "body-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg, err := q.Receive(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg == nil || msg.Body != "body-1" {
		t.Fatalf("Receive = %+v, want body-1", msg)
	}
	if msg.Receipt == "" {
		t.Fatal("Receive issued no receipt")
	}

	// Message is invisible while the lease holds.
	again, err := q.Receive(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if again != nil {
		t.Errorf("second Receive = %+v, want nil while leased", again)
	}
}

func TestReceiveOrdersByEnqueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		if err := q.Enqueue(ctx, "default", body); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	msg, err := q.Receive(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.Body != "first" {
		t.Errorf("body = %q, want first", msg.Body)
	}
}

func TestReceiveScopedToQueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "reports", "report-job"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg, err := q.Receive(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg != nil {
		t.Errorf("Receive from wrong queue = %+v, want nil", msg)
	}
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	if err := q.Enqueue(ctx, "default", "body-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := q.Receive(ctx, "default", 5*time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	// Past the lease, the message becomes visible again with a new receipt.
	now = now.Add(6 * time.Minute)
	second, err := q.Receive(ctx, "default", 5*time.Minute)
	if err != nil {
		t.Fatalf("Receive after expiry: %v", err)
	}
	if second == nil {
		t.Fatal("message not redelivered after lease expiry")
	}
	if second.Receipt == first.Receipt {
		t.Error("redelivery reused the old receipt")
	}

	// The original worker's receipt is now stale.
	if err := q.Delete(ctx, first.Receipt); !errors.Is(err, ErrStaleReceipt) {
		t.Errorf("Delete with expired receipt err = %v, want ErrStaleReceipt", err)
	}
}

func TestRenewSwapsReceipt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "default", "body-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msg, err := q.Receive(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	renewed, err := q.Renew(ctx, msg.Receipt, time.Minute)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed == msg.Receipt {
		t.Error("Renew did not issue a fresh receipt")
	}

	// The prior receipt no longer works for anything.
	if _, err := q.Renew(ctx, msg.Receipt, time.Minute); !errors.Is(err, ErrStaleReceipt) {
		t.Errorf("Renew with old receipt err = %v, want ErrStaleReceipt", err)
	}
	if err := q.Delete(ctx, msg.Receipt); !errors.Is(err, ErrStaleReceipt) {
		t.Errorf("Delete with old receipt err = %v, want ErrStaleReceipt", err)
	}

	// The fresh receipt does.
	if err := q.Delete(ctx, renewed); err != nil {
		t.Fatalf("Delete with renewed receipt: %v", err)
	}
}

func TestDeleteRemovesMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "default", "body-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msg, err := q.Receive(ctx, "default", time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := q.Delete(ctx, msg.Receipt); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Even after the lease would have lapsed, the message is gone.
	time.Sleep(5 * time.Millisecond)
	again, err := q.Receive(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if again != nil {
		t.Errorf("deleted message redelivered: %+v", again)
	}
}
