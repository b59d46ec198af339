package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/native/staking"
	"stakepool/native/token"
)

func TestStakingStoreRoundTripsCheckpoints(t *testing.T) {
	store := NewStakingStore(NewMemDB())
	pool, err := store.LoadPool()
	if err != nil || pool != nil {
		t.Fatalf("empty store should return nil pool, got %v %v", pool, err)
	}

	written := &staking.Pool{
		Owner:                common.HexToAddress("0x01"),
		TotalSupply:          uint256.NewInt(150),
		RewardPerTokenStored: uint256.MustFromDecimal("15000000000000000000"),
		RewardRate:           uint256.NewInt(10),
		Duration:             100,
		FinishAt:             1100,
		UpdatedAt:            1050,
		Emitted:              uint256.NewInt(500),
		Paid:                 uint256.NewInt(0),
	}
	account := &staking.Account{
		Address:            common.HexToAddress("0xa1"),
		Balance:            uint256.NewInt(50),
		RewardPerTokenPaid: uint256.MustFromDecimal("10000000000000000000"),
		Rewards:            uint256.NewInt(500),
	}
	if err := store.Commit(written, []*staking.Account{account}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loaded, err := store.LoadPool()
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	if loaded.Owner != written.Owner || loaded.FinishAt != 1100 || !loaded.RewardPerTokenStored.Eq(written.RewardPerTokenStored) {
		t.Fatalf("pool mismatch: %+v", loaded)
	}
	var accounts []*staking.Account
	if err := store.LoadAccounts(func(a *staking.Account) error {
		accounts = append(accounts, a)
		return nil
	}); err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Address != account.Address || !accounts[0].Rewards.Eq(account.Rewards) {
		t.Fatalf("account mismatch: %+v", accounts)
	}
}

func TestEngineSurvivesRestartOnLevelDB(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "staking")
	engineAddr := common.HexToAddress("0xee")
	owner := common.HexToAddress("0x01")
	alice := common.HexToAddress("0xa1")

	now := time.Unix(1_000, 0)
	clock := func() time.Time { return now }
	stake := token.NewLedger("STK")
	reward := token.NewLedger("RWD")
	if err := stake.Mint(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	stake.Approve(alice, engineAddr, uint256.NewInt(100))
	if err := reward.Mint(engineAddr, uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint reward: %v", err)
	}

	open := func() (*LevelDB, *staking.Engine) {
		db, err := NewLevelDB(dir)
		if err != nil {
			t.Fatalf("open leveldb: %v", err)
		}
		engine, err := staking.NewEngine(engineAddr, owner, stake.As(engineAddr), reward.As(engineAddr),
			staking.WithStore(NewStakingStore(db)),
			staking.WithClock(clock),
			staking.WithRewardsDuration(100),
		)
		if err != nil {
			t.Fatalf("engine: %v", err)
		}
		return db, engine
	}

	db, engine := open()
	if err := engine.NotifyRewardAmount(ctx, owner, uint256.NewInt(1000)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := engine.Stake(ctx, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	now = now.Add(30 * time.Second)
	if err := engine.Healthy(); err != nil {
		t.Fatalf("unexpected persistence error: %v", err)
	}
	db.Close()

	db, engine = open()
	defer db.Close()
	if got := engine.StakedBalanceOf(alice); got.Uint64() != 100 {
		t.Fatalf("restored stake %s", got)
	}
	earned, err := engine.Earned(alice)
	if err != nil {
		t.Fatalf("earned: %v", err)
	}
	if earned.Uint64() != 300 {
		t.Fatalf("restored earned %s, want 300", earned)
	}
	if status := engine.GetRewardCycleStatus(); !status.IsActive || status.RemainingTime != 70 {
		t.Fatalf("restored cycle status %+v", status)
	}
}
