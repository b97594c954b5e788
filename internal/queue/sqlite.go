package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS queue_messages (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    queue          TEXT NOT NULL,
    body           TEXT NOT NULL,
    receipt        TEXT,
    visible_at     DATETIME NOT NULL,
    enqueued_at    DATETIME NOT NULL,
    delivery_count INTEGER NOT NULL DEFAULT 0
)`

const createMessagesIndex = `
CREATE INDEX IF NOT EXISTS idx_queue_messages_visibility
    ON queue_messages (queue, visible_at)`

// Compile-time interface satisfaction check.
var _ Queue = (*SQLiteQueue)(nil)

// SQLiteQueue implements Queue using SQLite. A message is invisible while
// its visible_at lies in the future; a crashed worker's message reappears
// when the lease expires, which is what gives at-least-once delivery.
type SQLiteQueue struct {
	db *sql.DB

	// now is swappable in tests to control lease expiry.
	now func() time.Time
}

// NewSQLiteQueue opens the SQLite database at dbPath and runs migrations.
func NewSQLiteQueue(dbPath string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createMessagesTable, createMessagesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteQueue{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Enqueue adds a message to the named queue, immediately visible.
func (q *SQLiteQueue) Enqueue(ctx context.Context, queueName, body string) error {
	now := q.now().UTC()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (queue, body, visible_at, enqueued_at)
		 VALUES (?, ?, ?, ?)`,
		queueName, body, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// Receive claims the oldest visible message. The select and the claim run in
// one transaction so two workers sharing the database cannot claim the same
// message.
func (q *SQLiteQueue) Receive(ctx context.Context, queueName string, lease time.Duration) (*Message, error) {
	now := q.now().UTC()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	msg := &Message{Queue: queueName}
	err = tx.QueryRowContext(ctx,
		`SELECT id, body, enqueued_at FROM queue_messages
		 WHERE queue = ? AND visible_at <= ?
		 ORDER BY id LIMIT 1`,
		queueName, now,
	).Scan(&msg.ID, &msg.Body, &msg.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}

	msg.Receipt = uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`UPDATE queue_messages
		 SET receipt = ?, visible_at = ?, delivery_count = delivery_count + 1
		 WHERE id = ?`,
		msg.Receipt, now.Add(lease), msg.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return msg, nil
}

// Renew extends the lease held under receipt and issues a fresh receipt.
func (q *SQLiteQueue) Renew(ctx context.Context, receipt string, lease time.Duration) (string, error) {
	newReceipt := uuid.NewString()
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_messages SET receipt = ?, visible_at = ?
		 WHERE receipt = ?`,
		newReceipt, q.now().UTC().Add(lease), receipt,
	)
	if err != nil {
		return "", fmt.Errorf("renew lease: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return "", ErrStaleReceipt
	}
	return newReceipt, nil
}

// Delete removes the message held under receipt.
func (q *SQLiteQueue) Delete(ctx context.Context, receipt string) error {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM queue_messages WHERE receipt = ?", receipt,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrStaleReceipt
	}
	return nil
}
