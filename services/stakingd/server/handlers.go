package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"stakepool/config"
	"stakepool/core/events"
	"stakepool/crypto"
	"stakepool/native/staking"
)

const maxBodyBytes = 1 << 16

type amountRequest struct {
	Amount string `json:"amount"`
}

type durationRequest struct {
	Seconds uint64 `json:"seconds"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type faucetRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type eventsResponse struct {
	Facts     []events.Fact `json:"facts"`
	Truncated bool          `json:"truncated"`
	Latest    uint64        `json:"latest"`
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount required")
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Healthy(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Pool()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := s.engine.Account(addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// mutate runs op for the authenticated caller and renders the result.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, caller common.Address) error, render func(caller common.Address) (interface{}, error)) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errMissingToken)
		return
	}
	started := time.Now()
	err := fn(r.Context(), caller)
	s.observe(op, started, err)
	if err != nil {
		s.logger.Info("request rejected", "operation", op, "account", caller.Hex(), "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	body, err := render(caller)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) accountView(caller common.Address) (interface{}, error) {
	return s.engine.Account(caller)
}

func (s *Server) poolView(common.Address) (interface{}, error) {
	return s.engine.Pool()
}

func (s *Server) withAmount(w http.ResponseWriter, r *http.Request) (*uint256.Int, bool) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return amount, true
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, "stake", func(ctx context.Context, caller common.Address) error {
		return s.engine.Stake(ctx, caller, amount)
	}, s.accountView)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, "withdraw", func(ctx context.Context, caller common.Address) error {
		return s.engine.Withdraw(ctx, caller, amount)
	}, s.accountView)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "getReward", s.engine.GetReward, s.accountView)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "exit", s.engine.Exit, s.accountView)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, "notifyRewardAmount", func(ctx context.Context, caller common.Address) error {
		return s.engine.NotifyRewardAmount(ctx, caller, amount)
	}, s.poolView)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, "fundRewards", func(ctx context.Context, caller common.Address) error {
		return s.engine.FundRewards(ctx, caller, amount)
	}, s.poolView)
}

func (s *Server) handleDuration(w http.ResponseWriter, r *http.Request) {
	var req durationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "setRewardsDuration", func(ctx context.Context, caller common.Address) error {
		return s.engine.SetRewardsDuration(ctx, caller, req.Seconds)
	}, s.poolView)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "resetRewardsCycle", s.engine.ResetRewardsCycle, s.poolView)
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := crypto.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "transferOwnership", func(ctx context.Context, caller common.Address) error {
		return s.engine.TransferOwnership(ctx, caller, owner)
	}, s.poolView)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "setPaused", func(_ context.Context, caller common.Address) error {
		if caller != s.engine.Owner() {
			return staking.ErrUnauthorized
		}
		s.runtime.SetPaused(req.Paused)
		s.logger.Info("staking pause toggled", "account", caller.Hex(), "paused", req.Paused)
		return nil
	}, s.poolView)
}

func (s *Server) handleFaucetMint(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Faucet.Enabled {
		writeError(w, http.StatusNotFound, errors.New("faucet disabled"))
		return
	}
	var req faucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit := s.cfg.Faucet.MaxAmount; limit != nil && amount.Gt(limit) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("amount exceeds faucet limit %s", limit.Dec()))
		return
	}
	ledger, ok := s.runtime.Ledger(strings.ToLower(strings.TrimSpace(req.Token)))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown token %q", req.Token))
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if err := ledger.Mint(caller, amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := ledger.As(caller).BalanceOf(r.Context(), caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": ledger.Symbol(), "balance": balance.Dec()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	kind := strings.ToLower(chi.URLParam(r, "kind"))
	if kind != config.MintStake && kind != config.MintReward {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown token %q", kind))
		return
	}
	ledger, ok := s.runtime.Ledger(kind)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("approve on-chain for evm-backed pools"))
		return
	}
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	ledger.Approve(caller, s.engine.Address(), amount)
	allowance, err := ledger.As(caller).Allowance(r.Context(), caller, s.engine.Address())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": ledger.Symbol(), "allowance": allowance.Dec()})
}

func parseCursor(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q", raw)
	}
	return cursor, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	facts, truncated := s.runtime.Facts.Since(cursor)
	writeJSON(w, http.StatusOK, eventsResponse{Facts: facts, Truncated: truncated, Latest: s.runtime.Facts.Latest()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history archive unavailable"))
		return
	}
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
	}
	facts, err := s.history.History(r.Context(), addr, limit)
	if err != nil {
		s.logger.Error("history query failed", "account", addr.Hex(), "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("history query failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": addr.Hex(), "facts": facts})
}
