package staking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"stakepool/core/events"
	nativecommon "stakepool/native/common"
	"stakepool/native/token"
)

const moduleName = "staking"

// Store persists the pool and account checkpoints. LoadPool returns nil when
// nothing has been stored yet.
type Store interface {
	LoadPool() (*Pool, error)
	LoadAccounts(fn func(*Account) error) error
	Commit(pool *Pool, accounts []*Account) error
}

// view is an immutable snapshot of the pool published after each commit.
type view struct {
	seq  uint64
	pool *Pool
}

type accountEntry struct {
	seq     uint64
	account *Account
}

// Engine serialises every mutation behind a single writer lock and publishes
// immutable snapshots so that queries never block on writers.
type Engine struct {
	mu       sync.Mutex
	seq      uint64
	current  atomic.Pointer[view]
	accounts sync.Map

	address     common.Address
	stakeToken  token.Token
	rewardToken token.Token
	sharedToken bool
	duration    uint64

	store   Store
	emitter events.Emitter
	pauses  nativecommon.PauseView
	clock   func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	ops     metric.Int64Counter

	persistErr atomic.Pointer[error]
	// unsynced holds accounts published in memory whose last commit failed.
	// Guarded by mu.
	unsynced map[common.Address]struct{}
}

// Option customises the engine.
type Option func(*Engine)

// WithStore wires the persistence layer. Existing state is restored from it.
func WithStore(store Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithEmitter sets the sink receiving staking facts.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithClock sets the time source. It is read exactly once per operation.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPauses wires the module pause switch.
func WithPauses(p nativecommon.PauseView) Option {
	return func(e *Engine) { e.pauses = p }
}

// WithRewardsDuration sets the cycle length used when no state is restored.
func WithRewardsDuration(seconds uint64) Option {
	return func(e *Engine) { e.duration = seconds }
}

// WithSharedToken declares that stake and reward token are the same asset, so
// staked principal held in escrow is never counted as reward funding.
func WithSharedToken(shared bool) Option {
	return func(e *Engine) { e.sharedToken = shared }
}

// NewEngine constructs the staking engine. address is the escrow account the
// engine receives tokens into and pays out from.
func NewEngine(address, owner common.Address, stakeToken, rewardToken token.Token, opts ...Option) (*Engine, error) {
	if (address == common.Address{}) {
		return nil, fmt.Errorf("%w: engine address required", ErrInvalidAccount)
	}
	if stakeToken == nil || rewardToken == nil {
		return nil, errors.New("staking: stake and reward tokens required")
	}
	e := &Engine{
		address:     address,
		stakeToken:  stakeToken,
		rewardToken: rewardToken,
		emitter:     events.NoopEmitter{},
		clock:       time.Now,
		tracer:      otel.Tracer("stakepool/native/staking"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("module", moduleName)
	if e.emitter == nil {
		e.emitter = events.NoopEmitter{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	e.ops = operationsCounter()

	pool, err := e.restore()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		if (owner == common.Address{}) {
			return nil, fmt.Errorf("%w: owner required", ErrInvalidAccount)
		}
		pool = newPool(owner, e.duration)
		if e.store != nil {
			if err := e.store.Commit(pool, nil); err != nil {
				return nil, fmt.Errorf("staking: initialise store: %w", err)
			}
		}
	} else if (owner != common.Address{}) && owner != pool.Owner {
		e.logger.Warn("configured owner differs from restored owner; keeping restored",
			"configured", owner.Hex(), "restored", pool.Owner.Hex())
	}
	e.current.Store(&view{seq: 0, pool: pool})
	return e, nil
}

func (e *Engine) restore() (*Pool, error) {
	if e.store == nil {
		return nil, nil
	}
	pool, err := e.store.LoadPool()
	if err != nil {
		return nil, fmt.Errorf("staking: load pool: %w", err)
	}
	if pool == nil {
		return nil, nil
	}
	pool.normalize()
	restored := 0
	err = e.store.LoadAccounts(func(acct *Account) error {
		if acct == nil {
			return nil
		}
		acct.normalize()
		e.accounts.Store(acct.Address, &accountEntry{seq: 0, account: acct.Clone()})
		restored++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("staking: load accounts: %w", err)
	}
	e.logger.Info("restored staking state", "accounts", restored, "totalSupply", pool.TotalSupply.Dec())
	return pool, nil
}

var (
	opsCounterOnce sync.Once
	opsCounter     metric.Int64Counter
)

func operationsCounter() metric.Int64Counter {
	opsCounterOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("stakepool/native/staking")
		counter, err := meter.Int64Counter("stakepool.staking.operations")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("stakepool/native/staking")
			counter, _ = fallback.Int64Counter("stakepool.staking.operations")
		}
		opsCounter = counter
	})
	return opsCounter
}

// Address returns the escrow address of the engine.
func (e *Engine) Address() common.Address { return e.address }

// StakeToken returns the stake token collaborator.
func (e *Engine) StakeToken() token.Token { return e.stakeToken }

// RewardToken returns the reward token collaborator.
func (e *Engine) RewardToken() token.Token { return e.rewardToken }

// Healthy reports the last persistence failure, if any. Operations keep being
// served from memory while the store is failing.
func (e *Engine) Healthy() error {
	if p := e.persistErr.Load(); p != nil {
		return *p
	}
	return nil
}

// batch is the working copy a single operation mutates. It is discarded on
// failure and published on success.
type batch struct {
	engine   *Engine
	now      uint64
	pool     *Pool
	accounts map[common.Address]*Account
	order    []common.Address
	facts    []events.Event
}

func (b *batch) account(addr common.Address) *Account {
	if acct, ok := b.accounts[addr]; ok {
		return acct
	}
	acct := b.engine.latestAccount(addr).Clone()
	b.accounts[addr] = acct
	b.order = append(b.order, addr)
	return acct
}

func (b *batch) emit(evt events.Event) { b.facts = append(b.facts, evt) }

type step func(ctx context.Context, b *batch) error

// execute runs steps under the writer lock. Each step works on a fresh batch
// and is committed before the next one runs; the first failing step aborts
// the remainder and its own batch is discarded. Time is read once and shared
// by all steps.
func (e *Engine) execute(ctx context.Context, op string, caller common.Address, steps ...step) error {
	ctx, span := e.tracer.Start(ctx, "staking."+op, trace.WithAttributes(
		attribute.String("staking.caller", caller.Hex()),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, fn := range steps {
		b := &batch{
			engine:   e,
			now:      now,
			pool:     e.current.Load().pool.Clone(),
			accounts: make(map[common.Address]*Account),
		}
		if err := fn(ctx, b); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.ops.Add(ctx, 1, metric.WithAttributes(
				attribute.String("op", op),
				attribute.String("outcome", Classify(err).String()),
			))
			e.logger.Info("staking operation rejected", "op", op, "caller", caller.Hex(), "error", err)
			return err
		}
		e.commitLocked(b)
	}
	e.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", "ok"),
	))
	e.logger.Info("staking operation applied", "op", op, "caller", caller.Hex(), "now", now)
	return nil
}

func (e *Engine) now() uint64 {
	ts := e.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) commitLocked(b *batch) {
	e.seq++
	seq := e.seq
	touched := make([]*Account, 0, len(b.order)+len(e.unsynced))
	for _, addr := range b.order {
		acct := b.accounts[addr]
		touched = append(touched, acct)
		e.accounts.Store(addr, &accountEntry{seq: seq, account: acct})
	}
	e.current.Store(&view{seq: seq, pool: b.pool})

	if e.store != nil {
		touched = e.withUnsynced(touched, b)
		if err := e.store.Commit(b.pool, touched); err != nil {
			wrapped := fmt.Errorf("staking: persist commit %d: %w", seq, err)
			e.persistErr.Store(&wrapped)
			if e.unsynced == nil {
				e.unsynced = make(map[common.Address]struct{}, len(touched))
			}
			for _, acct := range touched {
				e.unsynced[acct.Address] = struct{}{}
			}
			e.logger.Error("failed to persist staking state", "seq", seq,
				"pending_accounts", len(e.unsynced), "error", err)
		} else {
			if len(e.unsynced) > 0 {
				e.logger.Info("flushed pending staking accounts", "seq", seq, "accounts", len(e.unsynced))
				e.unsynced = nil
			}
			if e.persistErr.Load() != nil {
				e.persistErr.Store(nil)
			}
		}
	}
	for _, evt := range b.facts {
		e.emitter.Emit(evt)
	}
}

// withUnsynced appends the latest record of every account a previous failed
// commit left out of the store. Output order is deterministic.
func (e *Engine) withUnsynced(touched []*Account, b *batch) []*Account {
	if len(e.unsynced) == 0 {
		return touched
	}
	pending := make([]common.Address, 0, len(e.unsynced))
	for addr := range e.unsynced {
		if _, ok := b.accounts[addr]; ok {
			continue
		}
		pending = append(pending, addr)
	}
	sort.Slice(pending, func(i, j int) bool {
		return bytes.Compare(pending[i][:], pending[j][:]) < 0
	})
	for _, addr := range pending {
		touched = append(touched, e.latestAccount(addr))
	}
	return touched
}

// latestAccount returns the newest committed record. Callers must hold mu or
// tolerate reading a record newer than their pool snapshot.
func (e *Engine) latestAccount(addr common.Address) *Account {
	if entry, ok := e.accounts.Load(addr); ok {
		return entry.(*accountEntry).account
	}
	return newAccount(addr)
}

func (e *Engine) snapshot() *view { return e.current.Load() }

// read returns a pool snapshot together with the account record as of that
// snapshot. It never blocks; a record committed after the loaded snapshot
// triggers a reload of the snapshot.
func (e *Engine) read(addr common.Address) (*view, *Account) {
	for {
		v := e.current.Load()
		entry, ok := e.accounts.Load(addr)
		if !ok {
			return v, newAccount(addr)
		}
		rec := entry.(*accountEntry)
		if rec.seq <= v.seq {
			return v, rec.account
		}
		runtime.Gosched()
	}
}
