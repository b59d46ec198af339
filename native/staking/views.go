package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "stakepool/native/common"
)

// Earned returns the reward claimable by addr right now. It reads the same
// snapshot a mutating call would checkpoint against, so calling GetReward at
// the same instant pays exactly this amount.
func (e *Engine) Earned(addr common.Address) (*uint256.Int, error) {
	now := e.now()
	v, acct := e.read(addr)
	rpt, err := rewardPerToken(v.pool, now)
	if err != nil {
		return nil, err
	}
	return earned(acct, rpt)
}

// RewardPerToken projects the accumulator to the current time.
func (e *Engine) RewardPerToken() (*uint256.Int, error) {
	return rewardPerToken(e.snapshot().pool, e.now())
}

// LastTimeRewardApplicable is min(now, finishAt).
func (e *Engine) LastTimeRewardApplicable() uint64 {
	return lastTimeRewardApplicable(e.snapshot().pool, e.now())
}

// RewardRate returns the reward distributed per second.
func (e *Engine) RewardRate() *uint256.Int { return e.snapshot().pool.RewardRate.Clone() }

// Duration returns the configured cycle length in seconds.
func (e *Engine) Duration() uint64 { return e.snapshot().pool.Duration }

// FinishAt returns the unix time the current cycle ends.
func (e *Engine) FinishAt() uint64 { return e.snapshot().pool.FinishAt }

// Owner returns the pool administrator.
func (e *Engine) Owner() common.Address { return e.snapshot().pool.Owner }

// RewardForDuration is the total reward a full cycle at the current rate pays.
func (e *Engine) RewardForDuration() *uint256.Int {
	return rewardForDuration(e.snapshot().pool)
}

func rewardForDuration(p *Pool) *uint256.Int {
	total, overflow := new(uint256.Int).MulOverflow(p.RewardRate, uint256.NewInt(p.Duration))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return total
}

// EstimatedAPRBps annualises the current rate over the staked supply, in basis
// points. It assumes stake and reward units are of equal value and reports
// zero for an empty pool or an idle cycle.
func (e *Engine) EstimatedAPRBps() *uint256.Int {
	return estimatedAPR(e.snapshot().pool, e.now())
}

func estimatedAPR(p *Pool, now uint64) *uint256.Int {
	if p.TotalSupply.IsZero() || now >= p.FinishAt {
		return zero()
	}
	yearly, overflow := new(uint256.Int).MulOverflow(p.RewardRate, uint256.NewInt(secondsPerYear))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	apr, overflow := new(uint256.Int).MulDivOverflow(yearly, basisPoints, p.TotalSupply)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return apr
}

// Paused reports whether new stakes are currently rejected.
func (e *Engine) Paused() bool {
	return nativecommon.Guard(e.pauses, moduleName) != nil
}

// Account returns a consistent view of addr's checkpoint and claimable reward.
func (e *Engine) Account(addr common.Address) (AccountView, error) {
	now := e.now()
	v, acct := e.read(addr)
	rpt, err := rewardPerToken(v.pool, now)
	if err != nil {
		return AccountView{}, err
	}
	pending, err := earned(acct, rpt)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		Address:            addr,
		Staked:             acct.Balance.Clone(),
		Earned:             pending,
		Rewards:            acct.Rewards.Clone(),
		RewardPerTokenPaid: acct.RewardPerTokenPaid.Clone(),
	}, nil
}

// Pool returns a consistent view of the pool and its derived figures.
func (e *Engine) Pool() (PoolView, error) {
	now := e.now()
	p := e.snapshot().pool
	rpt, err := rewardPerToken(p, now)
	if err != nil {
		return PoolView{}, err
	}
	return PoolView{
		Owner:                    p.Owner,
		TotalSupply:              p.TotalSupply.Clone(),
		RewardRate:               p.RewardRate.Clone(),
		Duration:                 p.Duration,
		FinishAt:                 p.FinishAt,
		UpdatedAt:                p.UpdatedAt,
		RewardPerToken:           rpt,
		RewardPerTokenStored:     p.RewardPerTokenStored.Clone(),
		LastTimeRewardApplicable: lastTimeRewardApplicable(p, now),
		RewardForDuration:        rewardForDuration(p),
		EstimatedAPRBps:          estimatedAPR(p, now),
		Cycle:                    cycleStatus(p, now),
		Paused:                   e.Paused(),
		Now:                      now,
	}, nil
}

// State returns deep copies of the committed pool, for diagnostics and tests.
func (e *Engine) State() *Pool { return e.snapshot().pool.Clone() }
