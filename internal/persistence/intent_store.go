package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/transfer"
)

// PostgresIntentStore keeps open withdrawal intents durable so a restart
// can resume waiting for their settlement results.
type PostgresIntentStore struct {
	db *sql.DB
}

func NewPostgresIntentStore(db *sql.DB) *PostgresIntentStore {
	return &PostgresIntentStore{db: db}
}

func (s *PostgresIntentStore) SaveIntent(ctx context.Context, intent transfer.Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO burrow.transfer_intents
			(intent_id, account_id, token_id, amount, opened_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (intent_id) DO NOTHING
	`, intent.ID, intent.AccountID, intent.TokenID, intent.Amount.String(), intent.OpenedAtMs)
	if err != nil {
		return fmt.Errorf("save intent %s: %w", intent.ID, err)
	}
	return nil
}

func (s *PostgresIntentStore) DeleteIntent(ctx context.Context, intentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM burrow.transfer_intents WHERE intent_id = $1`, intentID)
	if err != nil {
		return fmt.Errorf("delete intent %s: %w", intentID, err)
	}
	return nil
}

func (s *PostgresIntentStore) LoadIntents(ctx context.Context) ([]transfer.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, account_id, token_id, amount, opened_at_ms
		FROM burrow.transfer_intents
		ORDER BY opened_at_ms
	`)
	if err != nil {
		return nil, fmt.Errorf("load intents: %w", err)
	}
	defer rows.Close()

	var intents []transfer.Intent
	for rows.Next() {
		var intent transfer.Intent
		var amount string
		if err := rows.Scan(&intent.ID, &intent.AccountID, &intent.TokenID, &amount, &intent.OpenedAtMs); err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("intent %s: invalid amount %q", intent.ID, amount)
		}
		intent.Amount = v
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}
