// Package executor claims ingest jobs for this node and drives them through
// the configured pipeline stages.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/domain/model"
	obserrors "github.com/target/mmk-autoingest/internal/observability/errors"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
)

const (
	defaultHeartbeat   = 30 * time.Second
	defaultIdleBackoff = 5 * time.Second
)

// ErrHostLocked is returned by Run when another executor already runs for
// the same host name on this machine.
var ErrHostLocked = errors.New("executor already running for host")

// NodeAPI is the node-side command surface of the monitor.
type NodeAPI interface {
	Claim(ctx context.Context, host string) (model.JobRecord, error)
	AdvanceStage(ctx context.Context, key model.JobKey, host, stage string) (model.JobRecord, error)
	Heartbeat(ctx context.Context, key model.JobKey, host string) (model.JobRecord, error)
	Complete(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error)
	Fail(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error)
}

// Options configures the executor.
type Options struct {
	API    NodeAPI
	Config config.ExecutorConfig
	Logger *slog.Logger

	// Runner executes each stage. Defaults to a CommandRunner for
	// Config.StageCommand, or a no-op when no command is configured.
	Runner StageRunner

	// HeartbeatInterval overrides Config.HeartbeatInterval when the latter is zero.
	HeartbeatInterval time.Duration

	Metrics statsd.Sink
}

// Executor runs claimed jobs on this node.
type Executor struct {
	api       NodeAPI
	runner    StageRunner
	host      string
	stages    []string
	workers   int
	heartbeat time.Duration
	idle      time.Duration
	lock      *flock.Flock
	logger    *slog.Logger
	metrics   statsd.Sink
}

// New constructs an executor.
func New(opts Options) (*Executor, error) {
	if opts.API == nil {
		return nil, errors.New("NodeAPI is required")
	}
	cfg := opts.Config
	host := strings.TrimSpace(cfg.HostName)
	if host == "" {
		return nil, errors.New("executor host name is required")
	}
	if len(cfg.Stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "executor", "host", host)

	runner := opts.Runner
	if runner == nil {
		if cfg.StageCommand != "" {
			cr, err := NewCommandRunner(cfg.StageCommand, host)
			if err != nil {
				return nil, err
			}
			runner = cr
		} else {
			logger.Warn("no stage command configured; stages complete immediately")
			runner = StageRunnerFunc(func(context.Context, model.JobRecord, string) error { return nil })
		}
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = opts.HeartbeatInterval
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	idle := cfg.IdleBackoff
	if idle <= 0 {
		idle = defaultIdleBackoff
	}
	workers := max(cfg.Concurrency, 1)

	lockDir := cfg.LockDir
	if lockDir == "" {
		lockDir = os.TempDir()
	}

	return &Executor{
		api:       opts.API,
		runner:    runner,
		host:      host,
		stages:    append([]string(nil), cfg.Stages...),
		workers:   workers,
		heartbeat: heartbeat,
		idle:      idle,
		lock:      flock.New(LockPath(lockDir, host)),
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// LockPath returns the instance lock file used for host under dir.
func LockPath(dir, host string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, host)
	return filepath.Join(dir, "autoingest-executor-"+safe+".lock")
}

// Run claims and processes jobs until ctx is cancelled. Only one executor per
// host name may run against a lock directory at a time.
func (e *Executor) Run(ctx context.Context) error {
	ok, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w %q (lock %s)", ErrHostLocked, e.host, e.lock.Path())
	}
	defer func() {
		if err := e.lock.Unlock(); err != nil {
			e.logger.Warn("failed to release executor lock", "error", err)
		}
	}()

	e.logger.InfoContext(ctx, "starting executor",
		"workers", e.workers,
		"stages", e.stages,
		"heartbeat", e.heartbeat,
		"lock", e.lock.Path(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for range e.workers {
		g.Go(func() error { return e.workerLoop(gctx) })
	}
	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Executor) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		rec, err := e.api.Claim(ctx, e.host)
		switch {
		case err == nil:
			e.process(ctx, rec)
			continue
		case errors.Is(err, model.ErrNoWorkAvailable):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			e.logger.WarnContext(ctx, "claim failed", "error", err)
		}
		if !e.wait(ctx, e.idle) {
			return nil
		}
	}
	return nil
}

func (e *Executor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// outcome labels for executor.job metrics.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeLost      = "lost"
	outcomeAborted   = "aborted"
)

// jobRun tracks one claimed job. cancelled and lost are set by the
// heartbeat loop and checked between stages.
type jobRun struct {
	rec       model.JobRecord
	cancel    context.CancelFunc
	cancelled atomic.Bool
	lost      atomic.Bool
}

// observe inspects a heartbeat or stage update error and flags the run when
// the job is no longer ours.
func (r *jobRun) observe(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, model.ErrJobCancelled):
		r.cancelled.Store(true)
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrJobNotFound):
		r.lost.Store(true)
	default:
		return false
	}
	r.cancel()
	return true
}

func (r *jobRun) stopped() bool {
	return r.cancelled.Load() || r.lost.Load()
}

func (e *Executor) process(ctx context.Context, rec model.JobRecord) {
	start := time.Now()
	logger := e.logger.With("case_name", rec.CaseName, "data_source", rec.DataSource, "job_id", rec.ID)
	logger.InfoContext(ctx, "claimed job", "priority", rec.Priority)

	jobCtx, cancel := context.WithCancel(ctx)
	run := &jobRun{rec: rec, cancel: cancel}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.heartbeatLoop(jobCtx, run, logger)
	}()

	outcome, stageErr := e.runStages(ctx, jobCtx, run, logger)
	cancel()
	wg.Wait()

	switch outcome {
	case outcomeCompleted:
		if _, err := e.api.Complete(ctx, rec.JobKey, e.host, model.Succeeded("")); err != nil {
			outcome = e.finishError(ctx, run, err, logger)
		}
	case outcomeFailed:
		status := model.Errored(stageErr.Error())
		if _, err := e.api.Fail(ctx, rec.JobKey, e.host, status); err != nil {
			outcome = e.finishError(ctx, run, err, logger)
		}
	}

	e.emit(outcome, stageErr, time.Since(start))
	logger.InfoContext(ctx, "job finished", "outcome", outcome, "duration", time.Since(start), "error", stageErr)
}

func (e *Executor) finishError(ctx context.Context, run *jobRun, err error, logger *slog.Logger) string {
	if run.observe(err) {
		if run.cancelled.Load() {
			return outcomeCancelled
		}
		return outcomeLost
	}
	logger.ErrorContext(ctx, "failed to record job outcome", "error", err)
	return outcomeAborted
}

// runStages walks the pipeline. It returns outcomeFailed with the stage error
// when a stage fails, and stops early once the job was cancelled or lost.
func (e *Executor) runStages(ctx, jobCtx context.Context, run *jobRun, logger *slog.Logger) (string, error) {
	for _, stage := range e.stages {
		if run.stopped() {
			break
		}
		if ctx.Err() != nil {
			return outcomeAborted, nil
		}

		if _, err := e.api.AdvanceStage(ctx, run.rec.JobKey, e.host, stage); err != nil {
			if run.observe(err) {
				break
			}
			return outcomeFailed, fmt.Errorf("advance to %s: %w", stage, err)
		}
		logger.DebugContext(ctx, "stage started", "stage", stage)

		if err := e.runner.RunStage(jobCtx, run.rec, stage); err != nil {
			if run.stopped() {
				break
			}
			if ctx.Err() != nil {
				return outcomeAborted, nil
			}
			return outcomeFailed, fmt.Errorf("stage %s: %w", stage, err)
		}
	}

	switch {
	case run.cancelled.Load():
		return outcomeCancelled, nil
	case run.lost.Load():
		return outcomeLost, nil
	}
	return outcomeCompleted, nil
}

func (e *Executor) heartbeatLoop(ctx context.Context, run *jobRun, logger *slog.Logger) {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := e.api.Heartbeat(ctx, run.rec.JobKey, e.host)
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			if run.observe(err) {
				logger.WarnContext(ctx, "job taken away during heartbeat",
					"cancelled", run.cancelled.Load(),
					"error", err,
				)
				return
			}
			logger.WarnContext(ctx, "heartbeat failed", "error", err)
		}
	}
}

func (e *Executor) emit(outcome string, err error, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	tags := map[string]string{"outcome": outcome, "host": e.host}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	e.metrics.Count("executor.job", 1, tags)
	e.metrics.Timing("executor.job_duration", elapsed, map[string]string{"outcome": outcome})
}
