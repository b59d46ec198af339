package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakepool/core/events"
	"stakepool/native/staking"
	"stakepool/observability"
	"stakepool/services/stakingd/pool"
)

// HistoryStore serves archived facts.
type HistoryStore interface {
	History(ctx context.Context, account common.Address, limit int) ([]events.Fact, error)
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
	Faucet        FaucetConfig
}

// FaucetConfig enables test-token minting for memory-backed pools.
type FaucetConfig struct {
	Enabled   bool
	MaxAmount *uint256.Int
}

// Server exposes the staking engine over HTTP.
type Server struct {
	cfg     Config
	runtime *pool.Runtime
	engine  *staking.Engine
	history HistoryStore
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

// New constructs the HTTP server.
func New(cfg Config, rt *pool.Runtime, history HistoryStore, auth *Authenticator, logger *slog.Logger) (*Server, error) {
	if rt == nil || rt.Engine == nil {
		return nil, fmt.Errorf("pool runtime required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		runtime: rt,
		engine:  rt.Engine,
		history: history,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "http"),
	}, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.handlePool)
		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventsWS)
		r.Get("/history/{address}", s.handleHistory)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/stake", s.handleStake)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/claim", s.handleClaim)
			r.Post("/exit", s.handleExit)
			r.Post("/faucet/mint", s.handleFaucetMint)
			r.Post("/tokens/{kind}/approve", s.handleApprove)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/notify", s.handleNotify)
				r.Post("/duration", s.handleDuration)
				r.Post("/reset", s.handleReset)
				r.Post("/fund", s.handleFund)
				r.Post("/owner", s.handleOwner)
				r.Post("/pause", s.handlePause)
			})
		})
	})
	return otelhttp.NewHandler(r, "stakingd.http")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(op string, started time.Time, err error) {
	observeEngine(s.engine, op, started, err)
}

// observeEngine records metrics for an engine call and refreshes the pool gauges.
func observeEngine(engine *staking.Engine, op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = staking.Classify(err).String()
	}
	metrics := observability.Staking()
	metrics.Observe(op, outcome, time.Since(started))
	if err == nil {
		state := engine.State()
		metrics.RecordPool(state.TotalSupply, state.RewardRate, state.FinishAt, engine.Healthy() != nil)
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, staking.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, staking.ErrTransferFailed):
		return http.StatusBadGateway
	}
	switch staking.Classify(err) {
	case staking.ClassCaller:
		return http.StatusBadRequest
	case staking.ClassState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
