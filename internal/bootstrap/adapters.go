package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/adapters/executor"
	"github.com/target/mmk-autoingest/internal/adapters/reaper"
	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
)

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	Store   core.CoordinationStore
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Store:   cfg.Store,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}

// ExecutorConfig contains configuration for the node executor.
type ExecutorConfig struct {
	API     executor.NodeAPI
	Logger  *slog.Logger
	Config  config.ExecutorConfig
	Monitor config.MonitorConfig
	Metrics statsd.Sink
}

// RunExecutor claims and runs jobs for this host until ctx is cancelled.
// Without an explicit heartbeat interval the executor heartbeats three times
// per staleness window.
func RunExecutor(ctx context.Context, cfg ExecutorConfig) error {
	exec, err := executor.New(executor.Options{
		API:               cfg.API,
		Config:            cfg.Config,
		Logger:            cfg.Logger,
		HeartbeatInterval: cfg.Monitor.StalenessTimeout / 3,
		Metrics:           cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	return exec.Run(ctx)
}
