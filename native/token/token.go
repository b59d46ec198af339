package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance is returned when the debited holder lacks funds.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a spender pulls more than the
	// owner approved.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrInvalidRecipient rejects transfers to the zero address.
	ErrInvalidRecipient = errors.New("token: invalid recipient")
	// ErrReverted reports a transaction that was mined but failed.
	ErrReverted = errors.New("token: transaction reverted")
)

// Token is the fungible-token capability consumed by the staking engine. A
// handle acts on behalf of a single principal: Transfer debits the principal and
// TransferFrom spends the principal's allowance over from.
type Token interface {
	Symbol() string
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}
