package token

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory ERC-20 style balance sheet. It backs local
// deployments, the faucet and tests. Handles returned by As share the ledger.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
}

// NewLedger constructs an empty ledger for the provided symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     strings.TrimSpace(symbol),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

// Symbol returns the ticker configured for the ledger.
func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits amount to the recipient and grows the total supply.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if (to == common.Address{}) {
		return ErrInvalidRecipient
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return fmt.Errorf("token: %s supply overflow", l.symbol)
	}
	l.supply = supply
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}

// Approve sets the allowance spender may pull from owner.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{owner: owner, spender: spender}
	if amount == nil || amount.IsZero() {
		delete(l.allowances, key)
		return
	}
	l.allowances[key] = amount.Clone()
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

// Holders lists every address with a non-zero balance in byte order.
func (l *Ledger) Holders() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]common.Address, 0, len(l.balances))
	for addr, bal := range l.balances {
		if !bal.IsZero() {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// As returns a Token handle acting on behalf of principal.
func (l *Ledger) As(principal common.Address) Token {
	return &ledgerHandle{ledger: l, principal: principal}
}

func (l *Ledger) balanceLocked(addr common.Address) *uint256.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (l *Ledger) balanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(addr).Clone()
}

func (l *Ledger) allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if value, ok := l.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return value.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int, spender *common.Address) error {
	if (to == common.Address{}) {
		return ErrInvalidRecipient
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var key allowanceKey
	if spender != nil && *spender != from {
		key = allowanceKey{owner: from, spender: *spender}
		allowed, ok := l.allowances[key]
		if !ok || allowed.Lt(amount) {
			return fmt.Errorf("%w: %s", ErrInsufficientAllowance, l.symbol)
		}
	}
	balance := l.balanceLocked(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, l.symbol)
	}
	if spender != nil && *spender != from {
		remaining := new(uint256.Int).Sub(l.allowances[key], amount)
		if remaining.IsZero() {
			delete(l.allowances, key)
		} else {
			l.allowances[key] = remaining
		}
	}
	l.balances[from] = new(uint256.Int).Sub(balance, amount)
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}

type ledgerHandle struct {
	ledger    *Ledger
	principal common.Address
}

func (h *ledgerHandle) Symbol() string { return h.ledger.symbol }

func (h *ledgerHandle) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	return h.ledger.balanceOf(account), nil
}

func (h *ledgerHandle) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return h.ledger.allowance(owner, spender), nil
}

func (h *ledgerHandle) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	return h.ledger.move(h.principal, to, amount, nil)
}

func (h *ledgerHandle) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	return h.ledger.move(from, to, amount, &h.principal)
}
