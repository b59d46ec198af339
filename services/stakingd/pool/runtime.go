// Package pool assembles a staking engine and its collaborators from the
// TOML pool configuration.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/config"
	"stakepool/core/events"
	"stakepool/crypto"
	nativecommon "stakepool/native/common"
	"stakepool/native/staking"
	"stakepool/native/token"
	"stakepool/storage"
)

const stakingModule = "staking"

// Options tune how the runtime is built.
type Options struct {
	Logger *slog.Logger
	Clock  func() time.Time
	// HistoryLimit overrides the pool config's in-memory fact window.
	HistoryLimit int
	// ResumeSequence and ResumeHash continue the fact chain from the archive tip.
	ResumeSequence uint64
	ResumeHash     string
	// Passphrase unlocks the escrow keystore for the evm backend.
	Passphrase func() (string, error)
}

// Runtime owns the engine and everything it was built from.
type Runtime struct {
	Config  *config.Config
	Engine  *staking.Engine
	Facts   *events.Log
	Pauses  *nativecommon.PauseSet
	ledgers map[string]*token.Ledger
	closers []func()
}

// Open builds the runtime described by cfg. The memory backend keeps engine
// state in memory alongside its token ledgers; the evm backend persists engine
// state in LevelDB under DataDir.
func Open(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("pool: config required")
	}
	addrs, err := cfg.ParsedAddresses()
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.HistoryLimit
	if opts.HistoryLimit > 0 {
		limit = opts.HistoryLimit
	}

	rt := &Runtime{
		Config:  cfg,
		Facts:   events.NewLog(limit),
		Pauses:  nativecommon.NewPauseSet(),
		ledgers: make(map[string]*token.Ledger),
	}
	if opts.ResumeSequence > 0 {
		if err := rt.Facts.Resume(opts.ResumeSequence, opts.ResumeHash); err != nil {
			return nil, fmt.Errorf("pool: %w", err)
		}
	}
	rt.Pauses.Set(stakingModule, cfg.Paused)

	var (
		stake, reward token.Token
		db            storage.Database
	)
	switch cfg.Tokens.Backend {
	case config.BackendMemory:
		stake, reward, err = rt.openMemory(addrs.Engine)
		db = storage.NewMemDB()
	case config.BackendEVM:
		stake, reward, db, err = rt.openEVM(addrs.Engine, opts.Passphrase)
	default:
		err = fmt.Errorf("unknown token backend %q", cfg.Tokens.Backend)
	}
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("pool: %w", err)
	}
	rt.closers = append(rt.closers, db.Close)

	engineOpts := []staking.Option{
		staking.WithStore(storage.NewStakingStore(db)),
		staking.WithEmitter(rt.Facts),
		staking.WithLogger(logger),
		staking.WithPauses(rt.Pauses),
		staking.WithRewardsDuration(cfg.RewardsDuration),
		staking.WithSharedToken(cfg.Tokens.SharedToken()),
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, staking.WithClock(opts.Clock))
	}
	engine, err := staking.NewEngine(addrs.Engine, addrs.Owner, stake, reward, engineOpts...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("pool: %w", err)
	}
	rt.Engine = engine
	return rt, nil
}

func (rt *Runtime) openMemory(engine common.Address) (token.Token, token.Token, error) {
	cfg := rt.Config
	stakeLedger := token.NewLedger(cfg.Tokens.StakeSymbol)
	rewardLedger := stakeLedger
	if !cfg.Tokens.SharedToken() {
		rewardLedger = token.NewLedger(cfg.Tokens.RewardSymbol)
	}
	rt.ledgers[config.MintStake] = stakeLedger
	rt.ledgers[config.MintReward] = rewardLedger

	for i, mint := range cfg.Genesis {
		account, err := crypto.ParseAddress(mint.Account)
		if err != nil {
			return nil, nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := uint256.FromDecimal(mint.Amount)
		if err != nil {
			return nil, nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		ledger, ok := rt.ledgers[mint.Token]
		if !ok {
			return nil, nil, fmt.Errorf("genesis[%d]: unknown token %q", i, mint.Token)
		}
		if err := ledger.Mint(account, amount); err != nil {
			return nil, nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	return stakeLedger.As(engine), rewardLedger.As(engine), nil
}

func (rt *Runtime) openEVM(engine common.Address, passphrase func() (string, error)) (token.Token, token.Token, storage.Database, error) {
	cfg := rt.Config
	if passphrase == nil {
		return nil, nil, nil, errors.New("escrow passphrase source required for the evm backend")
	}
	secret, err := passphrase()
	if err != nil {
		return nil, nil, nil, err
	}
	signer, signerAddr, err := token.KeystoreSigner(cfg.Tokens.KeystorePath, secret, new(big.Int).SetUint64(cfg.Tokens.ChainID))
	if err != nil {
		return nil, nil, nil, err
	}
	if signerAddr != engine {
		return nil, nil, nil, fmt.Errorf("keystore address %s does not match EngineAddress %s", signerAddr.Hex(), engine.Hex())
	}
	backend, err := token.DialBackend(cfg.Tokens.RPCURL)
	if err != nil {
		return nil, nil, nil, err
	}
	rt.closers = append(rt.closers, backend.Close)

	stakeAddr, err := crypto.ParseAddress(cfg.Tokens.StakeTokenAddress)
	if err != nil {
		return nil, nil, nil, err
	}
	rewardAddr, err := crypto.ParseAddress(cfg.Tokens.RewardTokenAddress)
	if err != nil {
		return nil, nil, nil, err
	}
	stake, err := token.NewEVMToken(cfg.Tokens.StakeSymbol, stakeAddr, backend, signer)
	if err != nil {
		return nil, nil, nil, err
	}
	reward, err := token.NewEVMToken(cfg.Tokens.RewardSymbol, rewardAddr, backend, signer)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, nil, nil, err
	}
	return stake, reward, db, nil
}

// Ledger returns the in-memory ledger for kind (stake or reward). It reports
// false for chain-backed pools.
func (rt *Runtime) Ledger(kind string) (*token.Ledger, bool) {
	ledger, ok := rt.ledgers[kind]
	return ledger, ok
}

// SetPaused toggles the staking pause switch.
func (rt *Runtime) SetPaused(paused bool) {
	rt.Pauses.Set(stakingModule, paused)
}

// Close releases the state store and any RPC connection.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
