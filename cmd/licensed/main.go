package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"licensestake/config"
	"licensestake/core/engine"
	"licensestake/core/events"
	"licensestake/core/state"
	"licensestake/indexer"
	"licensestake/native/bank"
	"licensestake/native/license"
	"licensestake/native/system"
	"licensestake/observability"
	"licensestake/observability/logging"
	telemetry "licensestake/observability/otel"
	"licensestake/rpc"
	"licensestake/storage"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	if err := run(*configFile, *allowMigrateFlag); err != nil {
		fmt.Fprintf(os.Stderr, "licensed: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, allowMigrate bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("LICENSESTAKE_ENV"))
	if env == "" {
		env = cfg.Logging.Environment
	}
	logger, logCloser := logging.Setup("licensed", env, logging.Options{File: cfg.Logging.File})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "licensed",
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	secret := strings.TrimSpace(os.Getenv(cfg.RPC.JWTSecretEnv))
	if secret == "" {
		return fmt.Errorf("environment variable %s must hold the API token secret", cfg.RPC.JWTSecretEnv)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		return err
	}
	if err := manager.EnsureStateVersion(allowMigrate); err != nil {
		return err
	}

	admin, err := cfg.Admin()
	if err != nil {
		return err
	}
	gate, err := system.NewGate(manager, admin)
	if err != nil {
		return err
	}
	if gate.Admin() != admin {
		logger.Warn("stored administrator differs from configuration, keeping stored value",
			"stored", gate.Admin().Hex(), "configured", admin.Hex())
	}
	licenses := license.NewRegistry(manager, gate)
	token := bank.NewToken(manager)

	stream := events.NewStream(0)
	emitters := events.Fanout{stream, observability.EventCounter{}}
	var archive *indexer.Archive
	if dsn := strings.TrimSpace(cfg.Indexer.DSN); dsn != "" {
		gdb, err := indexer.Open(dsn)
		if err != nil {
			return err
		}
		archive, err = indexer.NewArchive(gdb, logger)
		if err != nil {
			return err
		}
		emitters = append(emitters, archive)
	}

	params, err := cfg.EngineParams()
	if err != nil {
		return err
	}
	snap, err := manager.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("load staking state: %w", err)
	}
	fresh := snap.Meta == nil
	eng, err := engine.Restore(params, engine.Dependencies{
		Licenses: licenses,
		Rewards:  token,
		Gate:     gate.Module(system.ModuleStaking),
		Store:    manager,
		Emitter:  emitters,
		Logger:   logger,
	}, snap)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if !fresh {
		if err := eng.Verify(); err != nil {
			return fmt.Errorf("stored staking state is inconsistent: %w", err)
		}
	}
	if fresh && cfg.Staking.FundCustody && !params.InitialPool.IsZero() {
		amount, complete, err := cfg.CustodyFunding()
		if err != nil {
			return fmt.Errorf("fund custody: %w", err)
		}
		if err := token.Mint(params.Address, amount); err != nil {
			return fmt.Errorf("fund custody: %w", err)
		}
		logger.Info("custody funded", "custody", params.Address.Hex(), "amount", amount.Dec(), "covers_schedule", complete)
		if !complete {
			logger.Warn("reward pool never decays, top up custody with /v1/admin/fund before claims exhaust it")
		}
	}
	logger.Info("engine ready",
		"epoch", eng.CurrentEpoch(),
		"total_staked", eng.TotalStaked(),
		"pool", eng.Pool().Dec(),
		"state_root", manager.Root().Hex())

	service := rpc.NewService(eng, licenses, token, gate)
	server, err := rpc.NewServer(rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.RPC.JWTIssuer,
		},
		RateLimitPerSecond:  cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:      cfg.RPC.RateLimitBurst,
		TrustProxyHeaders:   cfg.RPC.TrustProxyHeaders,
		TrustedProxies:      cfg.RPC.TrustedProxies,
		MaxRequestBodyBytes: cfg.RPC.MaxRequestBodyBytes,
		ReadHeaderTimeout:   time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		WriteTimeout:        time.Duration(cfg.RPC.WriteTimeout) * time.Second,
	}, service, stream, archive, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go serveMetrics(ctx, addr, logger)
	}

	if err := server.Serve(ctx, cfg.RPCAddress); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shutdown complete", "state_root", manager.Root().Hex())
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}
