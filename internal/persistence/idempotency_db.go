package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker is the durable tier of message deduplication.
// The in-memory LRU in ingestion catches recent redeliveries; this catches
// the ones far enough apart to have been evicted.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db: db,
	}
}

// IsDuplicate reports whether the message ID has already been processed.
func (pic *PostgresIdempotencyChecker) IsDuplicate(subject string, messageID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM burrow.processed_messages
        WHERE subject = $1 AND message_id = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, subject, messageID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// MarkProcessed records a message ID. Safe to call twice; the second
// insert is a no-op.
func (pic *PostgresIdempotencyChecker) MarkProcessed(ctx context.Context, subject string, messageID string) error {
	_, err := pic.db.ExecContext(ctx, `
        INSERT INTO burrow.processed_messages (subject, message_id, processed_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (subject, message_id) DO NOTHING
    `, subject, messageID)
	return err
}
