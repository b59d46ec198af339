package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// lastTimeRewardApplicable clamps now to the end of the current cycle.
func lastTimeRewardApplicable(p *Pool, now uint64) uint64 {
	return minUint64(now, p.FinishAt)
}

// elapsedSince returns the accrual window since the last update. The window
// saturates at zero if the clock ever reads behind updatedAt.
func elapsedSince(p *Pool, now uint64) uint64 {
	applicable := lastTimeRewardApplicable(p, now)
	if applicable <= p.UpdatedAt {
		return 0
	}
	return applicable - p.UpdatedAt
}

// emittedSince is the reward released to the accumulator since the last update.
func emittedSince(p *Pool, now uint64) (*uint256.Int, error) {
	if p.TotalSupply.IsZero() {
		return zero(), nil
	}
	return checkedMul(p.RewardRate, uint256.NewInt(elapsedSince(p, now)))
}

// rewardPerToken projects the accumulator to now without mutating p.
func rewardPerToken(p *Pool, now uint64) (*uint256.Int, error) {
	if p.TotalSupply.IsZero() {
		return p.RewardPerTokenStored.Clone(), nil
	}
	released, err := emittedSince(p, now)
	if err != nil {
		return nil, err
	}
	delta, err := mulDiv(released, Precision, p.TotalSupply)
	if err != nil {
		return nil, err
	}
	return checkedAdd(p.RewardPerTokenStored, delta)
}

// earned returns the account's claimable reward against the accumulator value
// rpt.
func earned(a *Account, rpt *uint256.Int) (*uint256.Int, error) {
	growth, err := checkedSub(rpt, a.RewardPerTokenPaid)
	if err != nil {
		return nil, err
	}
	accrued, err := mulDiv(a.Balance, growth, Precision)
	if err != nil {
		return nil, err
	}
	return checkedAdd(a.Rewards, accrued)
}

// updateReward brings the batch's accumulator current and, when account is
// non-nil, checkpoints that account against it. It must run before any
// balance mutation.
func (b *batch) updateReward(account *common.Address) error {
	rpt, err := rewardPerToken(b.pool, b.now)
	if err != nil {
		return err
	}
	released, err := emittedSince(b.pool, b.now)
	if err != nil {
		return err
	}
	emitted, err := checkedAdd(b.pool.Emitted, released)
	if err != nil {
		return err
	}
	b.pool.RewardPerTokenStored = rpt
	b.pool.Emitted = emitted
	if applicable := lastTimeRewardApplicable(b.pool, b.now); applicable > b.pool.UpdatedAt {
		b.pool.UpdatedAt = applicable
	}
	if account == nil {
		return nil
	}
	acct := b.account(*account)
	rewards, err := earned(acct, rpt)
	if err != nil {
		return err
	}
	acct.Rewards = rewards
	acct.RewardPerTokenPaid = rpt.Clone()
	return nil
}
