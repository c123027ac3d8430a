// Command ledger launches the wallet Ledger service: the wallet API, its
// choreography event handlers, the outbox publisher, and the dead-letter
// queue admin surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	appledger "github.com/moneysaga/engine/internal/app/ledger"
	"github.com/moneysaga/engine/internal/infra/broker"
	"github.com/moneysaga/engine/internal/infra/config"
	"github.com/moneysaga/engine/internal/infra/persistence"
	"github.com/moneysaga/engine/internal/infra/persistence/postgres"
	httpserver "github.com/moneysaga/engine/internal/infra/server/http/ledger"
	"github.com/moneysaga/engine/internal/infra/telemetry"

	ledgermigrations "github.com/moneysaga/engine/db/migrations/ledger"
	"github.com/moneysaga/engine/internal/infra/persistence/migrations"
)

const (
	defaultConfigPath        = "config/ledger.yaml"
	loggerPrefix             = "ledger "
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	poolShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()

	cfg, err := config.LoadLedgerOrDefault(resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s", cfg.Environment)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	if cfg.Database.RunMigrations {
		logger.Print("applying database migrations")
		if err := migrations.Apply(ctx, cfg.Database.DSN, ledgermigrations.Files, logger); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
	}

	pool, err := persistence.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}
	postgres.ObservePoolMetrics(pool, "ledger")

	store := postgres.New(pool)
	ledgerStore := store.Ledger()
	dlqStore := store.DeadLetters()

	bus := broker.NewMemoryBus(broker.MemoryConfig{
		Partitions: cfg.Broker.Partitions,
		QueueSize:  cfg.Broker.QueueSize,
	})

	refundHandler := appledger.NewRefundHandler(ledgerStore, dlqStore, cfg.RefundRetry, logger)
	service := appledger.NewService(ledgerStore)
	admin := appledger.NewAdmin(dlqStore, refundHandler)
	handlers := appledger.NewHandlers(ledgerStore, refundHandler)
	handlers.Subscribe(bus)

	publisher := appledger.NewPublisher(store.Outbox(), bus, cfg.Outbox, logger)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { publisher.Run(ctx) })
	lifecycle.Go(func() {
		if err := bus.Run(ctx); err != nil {
			logger.Printf("broker: %v", err)
		}
	})

	apiServer := &http.Server{
		Addr:              cfg.APIServer.Addr,
		Handler:           httpserver.NewHandler(service, admin),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
	logger.Printf("ledger listening on %s", apiServer.Addr)

	logger.Print("ledger started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		bus:        bus,
		pool:       pool,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to ledger configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.LedgerConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	telemetryCfg.Environment = string(cfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.Telemetry.EnableMetrics
	telemetryCfg.ServiceName = "moneysaga-ledger"

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Print("telemetry disabled")
	}
	return provider, nil
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	bus        broker.Broker
	pool       interface{ Close() }
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.bus != nil {
		shutdownStep("closing broker", poolShutdownTimeout, func(stepCtx context.Context) error {
			cfg.bus.Close()
			return nil
		})
	}

	if cfg.pool != nil {
		shutdownStep("closing database pool", poolShutdownTimeout, func(stepCtx context.Context) error {
			cfg.pool.Close()
			return nil
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
