package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"stakepool/crypto"
)

// ERC20ABI covers the subset of the ERC-20 interface used by the engine.
const ERC20ABI = `[
{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// Backend is the JSON-RPC surface required to call and transact against an
// ERC-20 contract and wait for receipts.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// EVMToken adapts an on-chain ERC-20 contract to the Token interface. The
// signer is the engine escrow key; reads work without one.
type EVMToken struct {
	symbol   string
	address  common.Address
	contract *bind.BoundContract
	backend  Backend
	signer   *bind.TransactOpts
}

// DialBackend connects to an EVM JSON-RPC endpoint.
func DialBackend(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("token: evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// NewEVMToken binds the ERC-20 contract deployed at address.
func NewEVMToken(symbol string, address common.Address, backend Backend, signer *bind.TransactOpts) (*EVMToken, error) {
	if (address == common.Address{}) {
		return nil, fmt.Errorf("token: %s contract address required", symbol)
	}
	if backend == nil {
		return nil, fmt.Errorf("token: %s backend required", symbol)
	}
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("token: parse erc20 abi: %w", err)
	}
	return &EVMToken{
		symbol:   strings.TrimSpace(symbol),
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		signer:   signer,
	}, nil
}

// KeystoreSigner decrypts an Ethereum v3 keystore file and returns transaction
// options for the requested chain.
func KeystoreSigner(path, passphrase string, chainID *big.Int) (*bind.TransactOpts, common.Address, error) {
	key, err := crypto.LoadFromKeystore(path, passphrase)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("token: load signer: %w", err)
	}
	return KeySigner(key.PrivateKey, chainID)
}

// KeySigner wraps a raw private key as transaction options.
func KeySigner(key *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, common.Address, error) {
	if key == nil {
		return nil, common.Address{}, errors.New("token: nil signing key")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, common.Address{}, errors.New("token: chain id required")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("token: build transactor: %w", err)
	}
	return opts, opts.From, nil
}

// Symbol returns the configured ticker.
func (t *EVMToken) Symbol() string { return t.symbol }

// Address returns the bound contract address.
func (t *EVMToken) Address() common.Address { return t.address }

func (t *EVMToken) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return t.callAmount(ctx, "balanceOf", account)
}

func (t *EVMToken) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return t.callAmount(ctx, "allowance", owner, spender)
}

func (t *EVMToken) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if (to == common.Address{}) {
		return ErrInvalidRecipient
	}
	from, err := t.principal()
	if err != nil {
		return err
	}
	balance, err := t.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, t.symbol)
	}
	return t.transact(ctx, "transfer", to, amount.ToBig())
}

func (t *EVMToken) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if (to == common.Address{}) {
		return ErrInvalidRecipient
	}
	spender, err := t.principal()
	if err != nil {
		return err
	}
	allowed, err := t.Allowance(ctx, from, spender)
	if err != nil {
		return err
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientAllowance, t.symbol)
	}
	balance, err := t.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, t.symbol)
	}
	return t.transact(ctx, "transferFrom", from, to, amount.ToBig())
}

func (t *EVMToken) principal() (common.Address, error) {
	if t.signer == nil {
		return common.Address{}, fmt.Errorf("token: %s signer not configured", t.symbol)
	}
	return t.signer.From, nil
}

func (t *EVMToken) callAmount(ctx context.Context, method string, args ...interface{}) (*uint256.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("token: %s %s: %w", t.symbol, method, err)
	}
	return decodeAmount(out)
}

func (t *EVMToken) transact(ctx context.Context, method string, args ...interface{}) error {
	opts := *t.signer
	opts.Context = ctx
	tx, err := t.contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("token: %s %s: %w", t.symbol, method, err)
	}
	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return fmt.Errorf("token: wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt == nil || receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}
	return nil
}

func decodeAmount(out []interface{}) (*uint256.Int, error) {
	if len(out) == 0 {
		return nil, errors.New("token: empty call result")
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("token: unexpected result type %T", out[0])
	}
	amount, overflow := uint256.FromBig(value)
	if overflow {
		return nil, errors.New("token: amount exceeds 256 bits")
	}
	return amount, nil
}
