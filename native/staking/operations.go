package staking

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/core/events"
	nativecommon "stakepool/native/common"
	"stakepool/native/token"
)

// Stake pulls amount of the stake token from caller and credits it to the
// caller's staked balance.
func (e *Engine) Stake(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.execute(ctx, "stake", caller, func(ctx context.Context, b *batch) error {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
		if err := validateCaller(caller); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := b.updateReward(&caller); err != nil {
			return err
		}
		if err := b.increase(caller, amount); err != nil {
			return err
		}
		if err := e.pull(ctx, e.stakeToken, caller, amount); err != nil {
			return err
		}
		acct := b.account(caller)
		b.emit(events.Staked{
			Account:     caller,
			Amount:      amount.Clone(),
			Balance:     acct.Balance.Clone(),
			TotalSupply: b.pool.TotalSupply.Clone(),
			Timestamp:   b.now,
		})
		return nil
	})
}

// Withdraw returns amount of the stake token to caller.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.execute(ctx, "withdraw", caller, func(ctx context.Context, b *batch) error {
		return e.withdraw(ctx, b, caller, amount)
	})
}

// GetReward transfers the caller's accrued reward. Nothing happens when the
// caller has no reward.
func (e *Engine) GetReward(ctx context.Context, caller common.Address) error {
	return e.execute(ctx, "getReward", caller, func(ctx context.Context, b *batch) error {
		return e.claim(ctx, b, caller)
	})
}

// Exit withdraws the caller's full balance and then claims. The withdrawal is
// committed before the claim runs, so a failed reward transfer leaves the
// withdrawal in place and the reward claimable later.
func (e *Engine) Exit(ctx context.Context, caller common.Address) error {
	return e.execute(ctx, "exit", caller,
		func(ctx context.Context, b *batch) error {
			if err := validateCaller(caller); err != nil {
				return err
			}
			balance := b.account(caller).Balance.Clone()
			if balance.IsZero() {
				return nil
			}
			return e.withdraw(ctx, b, caller, balance)
		},
		func(ctx context.Context, b *batch) error {
			return e.claim(ctx, b, caller)
		},
	)
}

func (e *Engine) withdraw(ctx context.Context, b *batch, caller common.Address, amount *uint256.Int) error {
	if err := validateCaller(caller); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if b.account(caller).Balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	if err := b.updateReward(&caller); err != nil {
		return err
	}
	if err := b.decrease(caller, amount); err != nil {
		return err
	}
	if err := e.push(ctx, e.stakeToken, caller, amount); err != nil {
		return err
	}
	acct := b.account(caller)
	b.emit(events.Withdrawn{
		Account:     caller,
		Amount:      amount.Clone(),
		Balance:     acct.Balance.Clone(),
		TotalSupply: b.pool.TotalSupply.Clone(),
		Timestamp:   b.now,
	})
	return nil
}

func (e *Engine) claim(ctx context.Context, b *batch, caller common.Address) error {
	if err := validateCaller(caller); err != nil {
		return err
	}
	if err := b.updateReward(&caller); err != nil {
		return err
	}
	acct := b.account(caller)
	reward := acct.Rewards.Clone()
	if reward.IsZero() {
		return nil
	}
	paid, err := checkedAdd(b.pool.Paid, reward)
	if err != nil {
		return err
	}
	acct.Rewards = zero()
	b.pool.Paid = paid
	if err := e.push(ctx, e.rewardToken, caller, reward); err != nil {
		return err
	}
	b.emit(events.RewardPaid{Account: caller, Amount: reward, Timestamp: b.now})
	return nil
}

// pull moves amount from an external holder into escrow using the allowance
// granted to the engine.
func (e *Engine) pull(ctx context.Context, tok token.Token, from common.Address, amount *uint256.Int) error {
	if err := tok.TransferFrom(ctx, from, e.address, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientAllowance) {
			return fmt.Errorf("%w: %w", ErrInsufficientAllowance, err)
		}
		return fmt.Errorf("%w: pull %s %s from %s: %w", ErrTransferFailed, amount.Dec(), tok.Symbol(), from.Hex(), err)
	}
	return nil
}

// push pays amount out of escrow.
func (e *Engine) push(ctx context.Context, tok token.Token, to common.Address, amount *uint256.Int) error {
	if err := tok.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("%w: push %s %s to %s: %w", ErrTransferFailed, amount.Dec(), tok.Symbol(), to.Hex(), err)
	}
	return nil
}

func validateCaller(caller common.Address) error {
	if (caller == common.Address{}) {
		return ErrInvalidAccount
	}
	return nil
}
