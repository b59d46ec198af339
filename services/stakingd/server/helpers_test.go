package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakepool/config"
	"stakepool/core/events"
	"stakepool/services/stakingd/pool"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testClock struct {
	mu  sync.Mutex
	now int64
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *testClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

type stubHistory struct {
	mu    sync.Mutex
	facts []events.Fact
}

func (s *stubHistory) set(facts []events.Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = facts
}

func (s *stubHistory) History(context.Context, common.Address, int) ([]events.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facts, nil
}

type harness struct {
	t       *testing.T
	clock   *testClock
	runtime *pool.Runtime
	auth    *Authenticator
	server  *Server
	history *stubHistory
	http    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: 10_000}
	cfg := &config.Config{
		Owner:           ownerAddr.Hex(),
		EngineAddress:   engineAddr.Hex(),
		RewardsDuration: 100,
		Tokens: config.Tokens{
			Backend:      config.BackendMemory,
			StakeSymbol:  "STK",
			RewardSymbol: "RWD",
		},
		Genesis: []config.Mint{
			{Token: config.MintReward, Account: ownerAddr.Hex(), Amount: "5000"},
		},
	}
	rt, err := pool.Open(cfg, pool.Options{Clock: clock.Now, HistoryLimit: 64})
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "stakepool"}, nil)
	require.NoError(t, err)

	history := &stubHistory{}
	srv, err := New(Config{Faucet: FaucetConfig{Enabled: true, MaxAmount: uint256.NewInt(10_000)}}, rt, history, auth, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{t: t, clock: clock, runtime: rt, auth: auth, server: srv, history: history, http: ts}
}

func (h *harness) token(account common.Address) string {
	h.t.Helper()
	tok, err := h.auth.Issue(account, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path string, account *common.Address, body interface{}) (*http.Response, []byte) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	require.NoError(h.t, err)
	if account != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(*account))
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(h.t, err)
	return resp, buf.Bytes()
}

func (h *harness) expect(status int, method, path string, account *common.Address, body interface{}) []byte {
	h.t.Helper()
	resp, data := h.do(method, path, account, body)
	require.Equalf(h.t, status, resp.StatusCode, "%s %s: %s", method, path, data)
	return data
}

// fundCycle approves, funds and notifies amount for a cycle.
func (h *harness) fundCycle(amount string) {
	h.t.Helper()
	owner := ownerAddr
	h.expect(http.StatusOK, http.MethodPost, "/v1/tokens/reward/approve", &owner, amountRequest{Amount: amount})
	h.expect(http.StatusOK, http.MethodPost, "/v1/admin/fund", &owner, amountRequest{Amount: amount})
	h.expect(http.StatusOK, http.MethodPost, "/v1/admin/notify", &owner, amountRequest{Amount: amount})
}

func (h *harness) stake(account common.Address, amount string) {
	h.t.Helper()
	h.expect(http.StatusOK, http.MethodPost, "/v1/faucet/mint", &account, faucetRequest{Token: "stake", Amount: amount})
	h.expect(http.StatusOK, http.MethodPost, "/v1/tokens/stake/approve", &account, amountRequest{Amount: amount})
	h.expect(http.StatusOK, http.MethodPost, "/v1/stake", &account, amountRequest{Amount: amount})
}
