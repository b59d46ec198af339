package staking

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/core/events"
)

func (b *batch) requireOwner(caller common.Address) error {
	if caller != b.pool.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (b *batch) cycleActive() bool { return b.now < b.pool.FinishAt }

// NotifyRewardAmount starts a reward cycle distributing amount over the
// configured duration. While a cycle is active the unaccrued remainder is
// rolled into the new cycle.
func (e *Engine) NotifyRewardAmount(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = zero()
	}
	return e.execute(ctx, "notifyRewardAmount", caller, func(ctx context.Context, b *batch) error {
		if err := b.requireOwner(caller); err != nil {
			return err
		}
		duration := b.pool.Duration
		if duration == 0 {
			return ErrZeroDuration
		}
		if err := b.updateReward(nil); err != nil {
			return err
		}
		total := amount.Clone()
		leftover := zero()
		if b.cycleActive() {
			remaining, err := checkedMul(uint256.NewInt(b.pool.FinishAt-b.now), b.pool.RewardRate)
			if err != nil {
				return err
			}
			leftover = remaining
			if total, err = checkedAdd(amount, remaining); err != nil {
				return err
			}
		}
		rate := new(uint256.Int).Div(total, uint256.NewInt(duration))
		if rate.IsZero() {
			return ErrZeroRewardRate
		}
		finishAt := b.now + duration
		if finishAt < b.now {
			return ErrOverflow
		}
		committed, err := checkedMul(rate, uint256.NewInt(duration))
		if err != nil {
			return err
		}
		available, err := e.rewardAvailable(ctx, b.pool)
		if err != nil {
			return err
		}
		if committed.Gt(available) {
			return fmt.Errorf("%w: need %s have %s", ErrInsufficientRewardBalance, committed.Dec(), available.Dec())
		}
		b.pool.RewardRate = rate
		b.pool.FinishAt = finishAt
		b.pool.UpdatedAt = b.now
		b.emit(events.RewardAdded{
			Amount:    amount.Clone(),
			Leftover:  leftover,
			Rate:      rate.Clone(),
			FinishAt:  finishAt,
			Timestamp: b.now,
		})
		return nil
	})
}

// rewardAvailable is the escrowed reward not yet owed to stakers. Staked
// principal is excluded when both tokens are the same asset.
func (e *Engine) rewardAvailable(ctx context.Context, pool *Pool) (*uint256.Int, error) {
	balance, err := e.rewardToken.BalanceOf(ctx, e.address)
	if err != nil {
		return nil, fmt.Errorf("%w: query reward escrow: %w", ErrTransferFailed, err)
	}
	available := balance.Clone()
	if e.sharedToken {
		available = saturatingSub(available, pool.TotalSupply)
	}
	owed := saturatingSub(pool.Emitted, pool.Paid)
	return saturatingSub(available, owed), nil
}

func saturatingSub(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return zero()
	}
	return new(uint256.Int).Sub(x, y)
}

// SetRewardsDuration changes the cycle length. It is rejected while a cycle is
// running so that an in-flight rate keeps its denominator.
func (e *Engine) SetRewardsDuration(ctx context.Context, caller common.Address, seconds uint64) error {
	return e.execute(ctx, "setRewardsDuration", caller, func(_ context.Context, b *batch) error {
		if err := b.requireOwner(caller); err != nil {
			return err
		}
		if b.cycleActive() {
			return ErrCycleActive
		}
		b.pool.Duration = seconds
		b.emit(events.RewardsDurationUpdated{Duration: seconds, Timestamp: b.now})
		return nil
	})
}

// ResetRewardsCycle ends an active cycle now. Reward for the cancelled
// remainder stays in escrow, unreserved, and can fund a later cycle. Resetting
// an idle pool is a no-op.
func (e *Engine) ResetRewardsCycle(ctx context.Context, caller common.Address) error {
	return e.execute(ctx, "resetRewardsCycle", caller, func(_ context.Context, b *batch) error {
		if err := b.requireOwner(caller); err != nil {
			return err
		}
		if !b.cycleActive() {
			return nil
		}
		if err := b.updateReward(nil); err != nil {
			return err
		}
		forfeited, err := checkedMul(uint256.NewInt(b.pool.FinishAt-b.now), b.pool.RewardRate)
		if err != nil {
			return err
		}
		b.pool.FinishAt = b.now
		b.pool.UpdatedAt = b.now
		b.emit(events.RewardsCycleReset{FinishAt: b.now, Forfeited: forfeited, Timestamp: b.now})
		return nil
	})
}

// FundRewards pulls amount of the reward token from the owner into escrow.
func (e *Engine) FundRewards(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.execute(ctx, "fundRewards", caller, func(ctx context.Context, b *batch) error {
		if err := b.requireOwner(caller); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := e.pull(ctx, e.rewardToken, caller, amount); err != nil {
			return err
		}
		b.emit(events.RewardsFunded{From: caller, Amount: amount.Clone(), Timestamp: b.now})
		return nil
	})
}

// TransferOwnership hands the admin role to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return e.execute(ctx, "transferOwnership", caller, func(_ context.Context, b *batch) error {
		if err := b.requireOwner(caller); err != nil {
			return err
		}
		if (newOwner == common.Address{}) {
			return ErrInvalidAccount
		}
		previous := b.pool.Owner
		b.pool.Owner = newOwner
		b.emit(events.OwnershipTransferred{Previous: previous, Owner: newOwner, Timestamp: b.now})
		return nil
	})
}

func cycleStatus(p *Pool, now uint64) CycleStatus {
	status := CycleStatus{EndTime: p.FinishAt}
	if now < p.FinishAt {
		status.IsActive = true
		status.RemainingTime = p.FinishAt - now
	}
	return status
}

// GetRewardCycleStatus projects the cycle state at the current time.
func (e *Engine) GetRewardCycleStatus() CycleStatus {
	return cycleStatus(e.snapshot().pool, e.now())
}
