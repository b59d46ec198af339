package staking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/core/events"
	"stakepool/native/token"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(unix int64) *manualClock {
	return &manualClock{now: time.Unix(unix, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(unix int64) {
	c.mu.Lock()
	c.now = time.Unix(unix, 0)
	c.mu.Unlock()
}

func (c *manualClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now = c.now.Add(time.Duration(seconds) * time.Second)
	c.mu.Unlock()
}

// failingToken wraps a token handle and fails transfers on demand.
type failingToken struct {
	token.Token
	failTransfer     bool
	failTransferFrom bool
}

var errInjected = errors.New("injected transfer failure")

func (f *failingToken) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if f.failTransfer {
		return errInjected
	}
	return f.Token.Transfer(ctx, to, amount)
}

func (f *failingToken) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if f.failTransferFrom {
		return errInjected
	}
	return f.Token.TransferFrom(ctx, from, to, amount)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

type mockStore struct {
	pool     *Pool
	accounts map[common.Address]*Account
	commits  int
	fail     error
}

func newMockStore() *mockStore {
	return &mockStore{accounts: make(map[common.Address]*Account)}
}

func (m *mockStore) LoadPool() (*Pool, error) {
	return m.pool.Clone(), nil
}

func (m *mockStore) LoadAccounts(fn func(*Account) error) error {
	for _, acct := range m.accounts {
		if err := fn(acct.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockStore) Commit(pool *Pool, accounts []*Account) error {
	if m.fail != nil {
		return m.fail
	}
	m.commits++
	m.pool = pool.Clone()
	for _, acct := range accounts {
		m.accounts[acct.Address] = acct.Clone()
	}
	return nil
}

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

var (
	engineAddr = makeAddress(0xEE)
	ownerAddr  = makeAddress(0x01)
	aliceAddr  = makeAddress(0xA1)
	bobAddr    = makeAddress(0xB2)
)

type fixture struct {
	engine  *Engine
	clock   *manualClock
	stake   *token.Ledger
	reward  *token.Ledger
	stakeH  *failingToken
	rewardH *failingToken
	events  *recordingEmitter
	store   *mockStore
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newFixture(t *testing.T, duration uint64, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:  newManualClock(1_000),
		stake:  token.NewLedger("STK"),
		reward: token.NewLedger("RWD"),
		events: &recordingEmitter{},
		store:  newMockStore(),
	}
	f.stakeH = &failingToken{Token: f.stake.As(engineAddr)}
	f.rewardH = &failingToken{Token: f.reward.As(engineAddr)}
	base := []Option{
		WithClock(f.clock.Now),
		WithEmitter(f.events),
		WithStore(f.store),
		WithRewardsDuration(duration),
	}
	engine, err := NewEngine(engineAddr, ownerAddr, f.stakeH, f.rewardH, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine
	return f
}

// fund mints reward tokens straight into escrow.
func (f *fixture) fund(t *testing.T, amount uint64) {
	t.Helper()
	if err := f.reward.Mint(engineAddr, amt(amount)); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
}

// give mints stake tokens to addr and approves the engine for all of them.
func (f *fixture) give(t *testing.T, addr common.Address, amount uint64) {
	t.Helper()
	if err := f.stake.Mint(addr, amt(amount)); err != nil {
		t.Fatalf("mint stake: %v", err)
	}
	f.stake.Approve(addr, engineAddr, amt(amount))
}

func (f *fixture) earned(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	value, err := f.engine.Earned(addr)
	if err != nil {
		t.Fatalf("earned: %v", err)
	}
	return value.Uint64()
}

func balanceOf(t *testing.T, ledger *token.Ledger, addr common.Address) uint64 {
	t.Helper()
	bal, err := ledger.As(addr).BalanceOf(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}
