package ledger

import (
	"math/big"
	"testing"

	"github.com/NearDeFi/burrowland/internal/state"
)

func makeAsset(supplied, borrowed, reserved int64) *state.Asset {
	a := state.NewAsset(0, state.AssetConfig{})
	a.Supplied.Shares = big.NewInt(supplied)
	a.Supplied.Balance = big.NewInt(supplied)
	a.Borrowed.Shares = big.NewInt(borrowed)
	a.Borrowed.Balance = big.NewInt(borrowed)
	a.Reserved = big.NewInt(reserved)
	return a
}

func TestAuditBalancedBook(t *testing.T) {
	alice := state.NewAccount("alice.near")
	alice.DepositSupplied("usdc.token", big.NewInt(600))
	alice.IncreaseCollateral("usdc.token", big.NewInt(300))

	bob := state.NewAccount("bob.near")
	bob.DepositSupplied("usdc.token", big.NewInt(100))
	bob.IncreaseBorrowed("usdc.token", big.NewInt(400))

	view := AuditView{
		Assets:   map[string]*state.Asset{"usdc.token": makeAsset(1000, 400, 50)},
		Accounts: []*state.Account{alice, bob},
	}

	if got := AuditState(view); len(got) != 0 {
		t.Fatalf("expected clean audit, got %v", got)
	}
}

func TestAuditDetectsSuppliedShareMismatch(t *testing.T) {
	alice := state.NewAccount("alice.near")
	alice.DepositSupplied("usdc.token", big.NewInt(900))

	view := AuditView{
		Assets:   map[string]*state.Asset{"usdc.token": makeAsset(1000, 0, 0)},
		Accounts: []*state.Account{alice},
	}

	got := AuditState(view)
	if len(got) != 1 {
		t.Fatalf("expected one violation, got %v", got)
	}
	if got[0].Check != "supplied_shares_conserved" {
		t.Errorf("check = %q, want supplied_shares_conserved", got[0].Check)
	}
	if got[0].Subject != "usdc.token" {
		t.Errorf("subject = %q, want usdc.token", got[0].Subject)
	}
}

func TestAuditDetectsUnfundedBorrow(t *testing.T) {
	alice := state.NewAccount("alice.near")
	alice.DepositSupplied("usdc.token", big.NewInt(100))
	alice.IncreaseBorrowed("usdc.token", big.NewInt(200))

	view := AuditView{
		Assets:   map[string]*state.Asset{"usdc.token": makeAsset(100, 200, 0)},
		Accounts: []*state.Account{alice},
	}

	got := AuditState(view)
	if len(got) != 1 {
		t.Fatalf("expected one violation, got %v", got)
	}
	if got[0].Check != "borrow_funded" {
		t.Errorf("check = %q, want borrow_funded", got[0].Check)
	}
}

func TestAuditDetectsOrphanPoolBalance(t *testing.T) {
	a := makeAsset(0, 0, 0)
	a.Supplied.Balance = big.NewInt(500)

	got := AuditState(AuditView{Assets: map[string]*state.Asset{"usdc.token": a}})
	if len(got) != 1 {
		t.Fatalf("expected one violation, got %v", got)
	}
	if got[0].Check != "pool_orphan_balance" {
		t.Errorf("check = %q, want pool_orphan_balance", got[0].Check)
	}
}

func TestAuditDetectsUnlistedAsset(t *testing.T) {
	alice := state.NewAccount("alice.near")
	alice.DepositSupplied("ghost.token", big.NewInt(10))

	got := AuditState(AuditView{
		Assets:   map[string]*state.Asset{},
		Accounts: []*state.Account{alice},
	})
	if len(got) != 1 {
		t.Fatalf("expected one violation, got %v", got)
	}
	if got[0].Check != "asset_listed" {
		t.Errorf("check = %q, want asset_listed", got[0].Check)
	}
}

func TestAuditFarmShares(t *testing.T) {
	farmID := state.FarmID{Kind: state.FarmKindSupplied, TokenID: "usdc.token"}

	farm := state.NewAssetFarm(0)
	farm.Rewards["rewards.token"] = &state.AssetFarmReward{
		RewardPerDay:     big.NewInt(1000),
		RemainingRewards: big.NewInt(100000),
		BoostedShares:    big.NewInt(500),
		BoosterLogBase:   big.NewInt(0),
	}

	alice := state.NewAccount("alice.near")
	alice.Farms[farmID] = state.NewAccountFarm()
	alice.Farms[farmID].Rewards["rewards.token"] = &state.AccountFarmReward{
		BoostedShares: big.NewInt(500),
	}

	view := AuditView{
		Assets:   map[string]*state.Asset{},
		Accounts: []*state.Account{alice},
		Farms:    map[state.FarmID]*state.AssetFarm{farmID: farm},
	}
	if got := AuditState(view); len(got) != 0 {
		t.Fatalf("expected clean audit, got %v", got)
	}

	// An account stake the farm does not know about must surface.
	alice.Farms[farmID].Rewards["rewards.token"].BoostedShares = big.NewInt(900)
	got := AuditState(view)
	if len(got) != 1 {
		t.Fatalf("expected one violation, got %v", got)
	}
	if got[0].Check != "farm_shares_conserved" {
		t.Errorf("check = %q, want farm_shares_conserved", got[0].Check)
	}
}
