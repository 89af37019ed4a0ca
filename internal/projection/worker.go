package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Worker persists rate samples into burrow.rate_history. The feed is
// lossy on purpose: samples describe a continuous curve, so a dropped
// point costs resolution, not correctness.
type Worker struct {
	db        *sql.DB
	inputChan <-chan RateSample
	logger    zerolog.Logger
	lastMs    int64
}

func NewWorker(db *sql.DB, inputChan <-chan RateSample, logger zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		logger:    logger.With().Str("component", "rate_history_worker").Logger(),
	}
}

// Run consumes samples until the context ends or the channel closes. A
// failed insert is logged and skipped; the projection is rebuildable by
// sampling again.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sample, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if err := w.store(ctx, sample); err != nil {
				w.logger.Warn().
					Err(err).
					Str("token_id", sample.TokenID).
					Int64("sampled_at_ms", sample.TimestampMs).
					Msg("rate sample insert failed")
				continue
			}
			w.lastMs = sample.TimestampMs
		}
	}
}

func (w *Worker) store(ctx context.Context, s RateSample) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO burrow.rate_history
			(token_id, sampled_at_ms, borrow_apr_bps, supply_apr_bps,
			 utilization_bps, supplied, borrowed, reserved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id, sampled_at_ms) DO NOTHING
	`, s.TokenID, s.TimestampMs, s.BorrowAPRBps, s.SupplyAPRBps,
		s.UtilizationBps, s.Supplied, s.Borrowed, s.Reserved); err != nil {
		return fmt.Errorf("rate history insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO burrow.projection_watermark (worker_id, last_timestamp_ms, updated_at)
		VALUES ('rate_history', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_timestamp_ms = GREATEST(burrow.projection_watermark.last_timestamp_ms, $1),
			    updated_at = NOW()
	`, s.TimestampMs); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Prune deletes samples older than the cutoff. Intended for a periodic
// housekeeping call, not the hot path.
func Prune(ctx context.Context, db *sql.DB, beforeMs int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM burrow.rate_history WHERE sampled_at_ms < $1`, beforeMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
