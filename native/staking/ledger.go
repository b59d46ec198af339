package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// increase credits amount to the account and the pool total in one step.
func (b *batch) increase(addr common.Address, amount *uint256.Int) error {
	acct := b.account(addr)
	balance, err := checkedAdd(acct.Balance, amount)
	if err != nil {
		return err
	}
	total, err := checkedAdd(b.pool.TotalSupply, amount)
	if err != nil {
		return err
	}
	acct.Balance = balance
	b.pool.TotalSupply = total
	return nil
}

// decrease debits amount from the account and the pool total in one step.
func (b *batch) decrease(addr common.Address, amount *uint256.Int) error {
	acct := b.account(addr)
	if acct.Balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	total, err := checkedSub(b.pool.TotalSupply, amount)
	if err != nil {
		return err
	}
	acct.Balance = new(uint256.Int).Sub(acct.Balance, amount)
	b.pool.TotalSupply = total
	return nil
}

// StakedBalanceOf returns the amount currently staked by addr.
func (e *Engine) StakedBalanceOf(addr common.Address) *uint256.Int {
	_, acct := e.read(addr)
	return acct.Balance.Clone()
}

// TotalStaked returns the pool's total staked supply.
func (e *Engine) TotalStaked() *uint256.Int {
	return e.snapshot().pool.TotalSupply.Clone()
}
