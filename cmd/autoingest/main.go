// Command autoingest runs one node of the auto-ingest fleet: any mix of the
// HTTP API, the monitor loop, a job executor and the retention reaper.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	cfgPtr := &cfg
	logger = bootstrap.ConfigureLogger(cfgPtr)

	logStartupInfo(ctx, logger, cfgPtr)

	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	store, closeStore, err := bootstrap.OpenStore(ctx, bootstrap.StoreOptions{
		Config: cfgPtr,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.ErrorContext(ctx, "close store failed", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:   cfgPtr,
		Store:    store,
		Logger:   logger,
		Hostname: cfg.Executor.HostName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := services.Observability.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close metrics failed", "error", cerr)
		}
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfgPtr,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting autoingest node",
		"store_backend", cfg.Store.Backend,
		"host_name", cfg.Executor.HostName,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}
