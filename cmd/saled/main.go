package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"salechain/config"
	"salechain/core"
	"salechain/core/events"
	"salechain/core/genesis"
	"salechain/core/runtime"
	"salechain/indexer"
	"salechain/native/sale"
	"salechain/observability/logging"
	telemetry "salechain/observability/otel"
	"salechain/rpc"
	"salechain/storage"
)

const (
	serviceName    = "saled"
	genesisPathEnv = "SALE_GENESIS"
	envNameEnv     = "SALE_ENV"
)

type envLookupFunc func(string) (string, bool)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides SALE_GENESIS and config GenesisFile)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *genesisFlag); err != nil {
		slog.Error("saled exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile, genesisFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Log.Environment
	if value, ok := os.LookupEnv(envNameEnv); ok && strings.TrimSpace(value) != "" {
		env = strings.TrimSpace(value)
	}
	logger := logging.Setup(serviceName, env, cfg.LoggingOptions())

	telemetryCfg := cfg.TelemetryConfig(serviceName)
	telemetryCfg.Environment = env
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	programID, err := cfg.ProgramID(sale.DefaultProgramID)
	if err != nil {
		return fmt.Errorf("sale program id: %w", err)
	}

	db, err := storage.Open(cfg.DatabaseBackend, cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	purchases, err := indexer.Open(cfg.IndexerPath(), logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("open purchase index: %w", err)
	}
	defer func() {
		if err := purchases.Close(); err != nil {
			logger.Warn("close purchase index", slog.Any("error", err))
		}
	}()

	broker := events.NewBroker()
	health := newHealthServer()
	node, err := core.NewNode(db, core.Options{
		ProgramID: programID,
		Rent:      runtime.Rent{LamportsPerByte: cfg.LamportsPerByte},
		Logger:    logger,
		Emitters:  []events.Emitter{purchases, broker, health},
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	if err := ensureGenesis(node, genesisFlag, cfg.GenesisFile, os.LookupEnv, logger); err != nil {
		return err
	}
	health.markReady(node)

	server := rpc.NewServer(node, purchases, rpc.ServerConfig{
		AuthToken: cfg.RPCToken(),
		JWT: rpc.JWTConfig{
			Enable:     cfg.JWT.Enable,
			HMACSecret: cfg.JWTSecret(),
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
			Scope:      cfg.JWT.Scope,
			ClockSkew:  time.Duration(cfg.JWT.ClockSkewSeconds) * time.Second,
		},
		RateLimit:      cfg.RPCRateLimit,
		RateBurst:      cfg.RPCRateBurst,
		ReadTimeout:    time.Duration(cfg.RPCReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.RPCWriteTimeout) * time.Second,
		Logger:         logger,
		Events:         broker,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthListener, err := net.Listen("tcp", cfg.HealthAddress)
	if err != nil {
		return fmt.Errorf("listen health %s: %w", cfg.HealthAddress, err)
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("grpc health listening", slog.String("addr", cfg.HealthAddress))
		if err := health.serve(healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		if err := server.Start(cfg.RPCAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.Any("error", err))
	}
	health.stop()
	return runErr
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ensureGenesis applies the configured genesis to an empty ledger. A ledger
// that already holds one needs no genesis source.
func ensureGenesis(node *core.Node, cliPath, cfgPath string, lookup envLookupFunc, logger *slog.Logger) error {
	rec, applied, err := node.Genesis()
	if err != nil {
		return fmt.Errorf("read genesis record: %w", err)
	}
	path := resolveGenesisPath(cliPath, cfgPath, lookup)
	if applied {
		if path != "" {
			logger.Info("ledger already initialised; ignoring genesis file", slog.String("network", rec.Network), slog.String("path", path))
		}
		return nil
	}
	if path == "" {
		return fmt.Errorf("no genesis file provided for an empty ledger; supply one via --genesis, %s, or config GenesisFile", genesisPathEnv)
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	if _, err := node.ApplyGenesis(spec); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	return nil
}

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}
