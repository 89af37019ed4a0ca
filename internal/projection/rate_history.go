package projection

import (
	"context"
	"database/sql"
)

// RateSample is one observation of an asset's rate curve position.
// Balances are decimal strings; rates and utilization are parts per 10000.
type RateSample struct {
	TokenID        string `json:"token_id"`
	TimestampMs    int64  `json:"timestamp_ms"`
	BorrowAPRBps   uint64 `json:"borrow_apr_bps"`
	SupplyAPRBps   uint64 `json:"supply_apr_bps"`
	UtilizationBps uint64 `json:"utilization_bps"`
	Supplied       string `json:"supplied"`
	Borrowed       string `json:"borrowed"`
	Reserved       string `json:"reserved"`
}

// History returns samples for one token, newest first, optionally bounded
// below by sinceMs.
func History(ctx context.Context, db *sql.DB, tokenID string, sinceMs int64, limit int) ([]RateSample, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT token_id, sampled_at_ms, borrow_apr_bps, supply_apr_bps,
		       utilization_bps, supplied, borrowed, reserved
		FROM burrow.rate_history
		WHERE token_id = $1 AND sampled_at_ms >= $2
		ORDER BY sampled_at_ms DESC
		LIMIT $3
	`, tokenID, sinceMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []RateSample
	for rows.Next() {
		var s RateSample
		if err := rows.Scan(&s.TokenID, &s.TimestampMs, &s.BorrowAPRBps, &s.SupplyAPRBps,
			&s.UtilizationBps, &s.Supplied, &s.Borrowed, &s.Reserved); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
