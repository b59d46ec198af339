package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	poolconfig "stakepool/config"
	"stakepool/integrations/webhooks"
	"stakepool/internal/passphrase"
	"stakepool/observability/logging"
	telemetry "stakepool/observability/otel"
	"stakepool/services/stakingd/config"
	"stakepool/services/stakingd/indexer"
	"stakepool/services/stakingd/pool"
	"stakepool/services/stakingd/server"
	"stakepool/services/stakingd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/stakingd/config.yaml", "path to stakingd configuration file")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Printf("stakingd: %v", err)
		os.Exit(1)
	}
}

// run owns every resource stakingd opens so that each exit path, including
// failures, releases them through its deferred closers.
func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("STAKEPOOL_ENV"))
	logger := logging.Setup("stakingd", env,
		logging.WithLevel(cfg.Log.Level),
		logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays),
	)

	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stakingd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	poolCfg, err := poolconfig.Load(cfg.PoolConfig)
	if err != nil {
		return fmt.Errorf("load pool config: %w", err)
	}

	archive, err := storage.Open(cfg.Archive.DSN)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tipSeq, tipHash, err := archive.LatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read archive tip: %w", err)
	}
	secret := passphrase.NewSource(poolCfg.Tokens.PassphraseEnv, passphrase.WithKeystore(poolCfg.Tokens.KeystorePath))
	rt, err := pool.Open(poolCfg, pool.Options{
		Logger:         logger,
		HistoryLimit:   cfg.Events.History,
		ResumeSequence: tipSeq,
		ResumeHash:     tipHash,
		Passphrase:     secret.Get,
	})
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	defer rt.Close()
	logger.Info("staking pool ready",
		"engine", rt.Engine.Address().Hex(),
		"owner", rt.Engine.Owner().Hex(),
		"backend", poolCfg.Tokens.Backend,
		"sequence", tipSeq,
	)

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}

	faucetEnabled := cfg.Faucet.Enabled && poolCfg.Tokens.Backend == poolconfig.BackendMemory
	if cfg.Faucet.Enabled && !faucetEnabled {
		logger.Warn("faucet requested but pool is chain-backed; disabling")
	}
	httpSrv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Faucet: server.FaucetConfig{Enabled: faucetEnabled, MaxAmount: cfg.FaucetCap()},
	}, rt, archive, auth, logger)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	grpcSvc, err := server.NewGRPCService(rt.Engine, auth, logger)
	if err != nil {
		return fmt.Errorf("grpc service: %w", err)
	}

	var dispatcher *webhooks.Dispatcher
	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		dispatcher, err = webhooks.NewDispatcher(url, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithTypes(cfg.Webhook.Types...),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
		)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		defer dispatcher.Close()
		logger.Info("webhook relay enabled", "types", cfg.Webhook.Types)
	}

	grpcSrv := server.NewGRPCServer(grpcSvc)
	listener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return indexer.New(rt.Facts, archive, logger).Run(groupCtx)
	})
	group.Go(func() error {
		return httpSrv.Run(groupCtx)
	})
	if dispatcher != nil {
		group.Go(func() error {
			return dispatcher.Relay(groupCtx, rt.Facts)
		})
	}
	group.Go(func() error {
		logger.Info("grpc server listening", "address", cfg.GRPCAddress)
		return grpcSrv.Serve(listener)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			grpcSrv.Stop()
		}
		return nil
	})

	err = group.Wait()
	if healthErr := rt.Engine.Healthy(); healthErr != nil {
		logger.Error("state store degraded at shutdown", "error", healthErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stakingd exited", "error", err)
		return err
	}
	logger.Info("stakingd stopped")
	return nil
}
