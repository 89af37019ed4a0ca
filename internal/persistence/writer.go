package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CallRow is one committed core call in burrow.calls. The payload is the
// JSON-encoded inbound request, sufficient to replay the call.
type CallRow struct {
	Sequence    int64
	CallType    string
	AccountID   string
	Payload     []byte
	TimestampMs int64
}

// CallLogWriter batch-writes committed calls to Postgres. Multi-row INSERT
// keeps the writer portable; the conflict clause makes redelivered batches
// idempotent.
type CallLogWriter struct {
	db *sql.DB
}

func NewCallLogWriter(db *sql.DB) *CallLogWriter {
	return &CallLogWriter{db: db}
}

// WriteCallBatch inserts a batch of calls inside the given transaction.
func (w *CallLogWriter) WriteCallBatch(ctx context.Context, tx *sql.Tx, calls []CallRow) error {
	if len(calls) == 0 {
		return nil
	}

	query := `INSERT INTO burrow.calls
		(sequence, call_type, account_id, payload, timestamp_ms)
		VALUES `

	values := make([]string, 0, len(calls))
	args := make([]interface{}, 0, len(calls)*5)
	for i, c := range calls {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, c.Sequence, c.CallType, c.AccountID, c.Payload, c.TimestampMs)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadCallsFrom loads calls from a given sequence for replay, in order.
func (w *CallLogWriter) LoadCallsFrom(ctx context.Context, fromSequence int64, limit int) ([]CallRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, call_type, account_id, payload, timestamp_ms
		FROM burrow.calls
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []CallRow
	for rows.Next() {
		var c CallRow
		if err := rows.Scan(&c.Sequence, &c.CallType, &c.AccountID, &c.Payload, &c.TimestampMs); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// LatestSequence returns the highest sequence in the call log, or -1 when
// the log is empty.
func (w *CallLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM burrow.calls`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
