package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/state"
)

// Executor runs a read closure on the processor goroutine, so views observe
// committed core state without locking.
type Executor interface {
	Do(ctx context.Context, f func()) error
}

// Service answers read queries. Live state (assets, accounts, farms) is
// viewed straight from the core through the executor; call history comes
// from the Postgres call log.
type Service struct {
	core *core.Core
	exec Executor
	db   *sql.DB
}

func NewService(c *core.Core, exec Executor, db *sql.DB) *Service {
	return &Service{core: c, exec: exec, db: db}
}

// GetConfig returns the protocol configuration.
func (s *Service) GetConfig(ctx context.Context) (core.Config, error) {
	var cfg core.Config
	err := s.exec.Do(ctx, func() {
		cfg = s.core.Config()
	})
	return cfg, err
}

// GetAsset returns one asset view with interest accrued to now.
func (s *Service) GetAsset(ctx context.Context, tokenID string) (*AssetView, error) {
	nowMs := time.Now().UnixMilli()
	var view *AssetView
	err := s.exec.Do(ctx, func() {
		a, ok := s.core.GetAsset(tokenID)
		if !ok {
			return
		}
		view = buildAssetView(tokenID, a, nowMs)
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, core.ErrAssetNotFound
	}
	return view, nil
}

// GetAssets returns a page of asset views, ordered by listing.
func (s *Service) GetAssets(ctx context.Context, cursor string, limit int) (*Paged[AssetView], error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	nowMs := time.Now().UnixMilli()
	page := &Paged[AssetView]{}
	err := s.exec.Do(ctx, func() {
		ids := s.core.AssetIDs()
		start := 0
		if cursor != "" {
			for i, id := range ids {
				if id == cursor {
					start = i + 1
					break
				}
			}
		}
		for i := start; i < len(ids) && len(page.Items) < limit; i++ {
			a, ok := s.core.GetAsset(ids[i])
			if !ok {
				continue
			}
			page.Items = append(page.Items, *buildAssetView(ids[i], a, nowMs))
		}
		if start+len(page.Items) < len(ids) && len(page.Items) > 0 {
			page.NextCursor = page.Items[len(page.Items)-1].TokenID
		}
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetAccount returns the full account view: balances converted from shares,
// per-farm unclaimed rewards, booster lock, and the current risk discount
// when prices are known.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*AccountView, error) {
	nowMs := time.Now().UnixMilli()
	var view *AccountView
	err := s.exec.Do(ctx, func() {
		account, ok := s.core.GetAccount(accountID)
		if !ok {
			return
		}
		view = s.buildAccountView(account, nowMs)
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, core.ErrAccountNotFound
	}
	return view, nil
}

// GetAccounts returns a page of account views, ordered by account ID.
func (s *Service) GetAccounts(ctx context.Context, cursor string, limit int) (*Paged[AccountView], error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	nowMs := time.Now().UnixMilli()
	page := &Paged[AccountView]{}
	err := s.exec.Do(ctx, func() {
		ids := s.core.AccountIDs()
		start := sort.SearchStrings(ids, cursor)
		if cursor != "" && start < len(ids) && ids[start] == cursor {
			start++
		}
		for i := start; i < len(ids) && len(page.Items) < limit; i++ {
			account, ok := s.core.GetAccount(ids[i])
			if !ok {
				continue
			}
			page.Items = append(page.Items, *s.buildAccountView(account, nowMs))
		}
		if start+len(page.Items) < len(ids) && len(page.Items) > 0 {
			page.NextCursor = page.Items[len(page.Items)-1].AccountID
		}
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetCallHistory returns an account's committed calls, newest first, with
// cursor-based pagination on the sequence number.
func (s *Service) GetCallHistory(ctx context.Context, accountID string, limit int, beforeSequence *int64) ([]CallRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT sequence, call_type, account_id, payload, timestamp_ms
		FROM burrow.calls
		WHERE account_id = $1
	`
	args := []interface{}{accountID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(&r.Sequence, &r.CallType, &r.AccountID, &r.Payload, &r.TimestampMs); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// buildAccountView runs on the processor goroutine.
func (s *Service) buildAccountView(account *state.Account, nowMs int64) *AccountView {
	view := &AccountView{AccountID: account.AccountID}

	for _, tokenID := range account.SuppliedTokens() {
		view.Supplied = append(view.Supplied,
			s.balanceView(tokenID, account.GetSuppliedShares(tokenID), nowMs, false))
	}
	for _, tokenID := range account.CollateralTokens() {
		view.Collateral = append(view.Collateral,
			s.balanceView(tokenID, account.GetCollateralShares(tokenID), nowMs, false))
	}
	for _, tokenID := range account.BorrowedTokens() {
		view.Borrowed = append(view.Borrowed,
			s.balanceView(tokenID, account.GetBorrowedShares(tokenID), nowMs, true))
	}

	view.Farms = s.farmViews(account, nowMs)

	if bs := account.BoosterStaking; bs != nil {
		view.BoosterStaking = &BoosterStakingView{
			StakedBoosterAmount: bs.StakedBoosterAmount.String(),
			XBoosterAmount:      bs.XBoosterAmount.String(),
			UnlockTimestampMs:   bs.UnlockTimestamp,
		}
	}

	if prices := s.core.LastPrices(); prices != nil {
		tx := s.core.Begin(nowMs)
		if discount, err := tx.MaxDiscount(account, prices); err == nil {
			bps := uint32(discount.MulRatio(10000).RoundBalance(false).Int64())
			view.MaxDiscountBps = &bps
		}
	}

	return view
}
