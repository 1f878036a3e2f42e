package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/domain/job"
	"github.com/target/mmk-autoingest/internal/domain/model"
	apperrors "github.com/target/mmk-autoingest/internal/errors"
	obserrors "github.com/target/mmk-autoingest/internal/observability/errors"
	"github.com/target/mmk-autoingest/internal/observability/metrics"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
	"github.com/target/mmk-autoingest/internal/service/failurenotifier"
)

// notifyTimeout bounds one asynchronous failure notification.
const notifyTimeout = 30 * time.Second

// MonitorServiceOptions groups dependencies for MonitorService.
type MonitorServiceOptions struct {
	Store           core.CoordinationStore   // Required: shared job store
	Waiter          core.ChangeWaiter        // Optional: remote change wakeups; taken from Store when it implements one
	Config          config.MonitorConfig     // Required: monitor configuration
	TimeProvider    core.TimeProvider        // Optional: defaults to the system clock
	Broker          *SnapshotBroker          // Optional: created from Config when nil
	Logger          *slog.Logger             // Optional: structured logger
	Metrics         statsd.Sink              // Optional: metrics sink (StatsD-compatible)
	FailureNotifier *failurenotifier.Service // Optional: failed/reclaimed job notifications
	NewID           func() string            // Optional: job ID generator, defaults to uuid.NewString
}

// StoreHealth reports how the last reconciliations against the store went.
type StoreHealth struct {
	Degraded            bool      `json:"degraded"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastAttemptAt       time.Time `json:"last_attempt_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// MonitorService is one node's view of the fleet-wide job queue. It keeps a
// local PriorityQueue and the latest JobsSnapshot in step with the
// coordination store, and executes operator and node commands against the
// store with compare-and-swap.
//
// Several MonitorServices, one per node, may share a store; they coordinate
// only through the store's versioned writes.
type MonitorService struct {
	store    core.CoordinationStore
	waiter   core.ChangeWaiter
	config   config.MonitorConfig
	clock    core.TimeProvider
	broker   *SnapshotBroker
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier *failurenotifier.Service
	newID    func() string

	policy  *job.StalenessPolicy
	tracker *job.StageTracker

	qmu   sync.Mutex
	queue *job.PriorityQueue

	reconciles singleflight.Group
	kick       chan struct{}
	notifyWG   sync.WaitGroup

	mu       sync.RWMutex
	snapshot *model.JobsSnapshot
	health   StoreHealth
}

// NewMonitorService constructs a new MonitorService.
func NewMonitorService(opts MonitorServiceOptions) (*MonitorService, error) {
	if opts.Store == nil {
		return nil, errors.New("CoordinationStore is required")
	}
	policy, err := job.NewStalenessPolicy(opts.Config.StalenessTimeout)
	if err != nil {
		return nil, fmt.Errorf("staleness policy: %w", err)
	}

	cfg := opts.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CASRetries < 1 {
		cfg.CASRetries = 1
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = core.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor_service")

	broker := opts.Broker
	if broker == nil {
		broker = NewSnapshotBroker(SnapshotBrokerOptions{
			PublishTimeout: cfg.PublishTimeout,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
		})
	}

	waiter := opts.Waiter
	if waiter == nil {
		if w, ok := opts.Store.(core.ChangeWaiter); ok {
			waiter = w
		}
	}

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &MonitorService{
		store:    opts.Store,
		waiter:   waiter,
		config:   cfg,
		clock:    clock,
		broker:   broker,
		logger:   logger,
		metrics:  opts.Metrics,
		notifier: opts.FailureNotifier,
		newID:    newID,
		policy:   policy,
		tracker:  job.NewStageTracker(clock.Now),
		queue:    job.NewPriorityQueue(),
		kick:     make(chan struct{}, 1),
	}, nil
}

// Run reconciles immediately, then on every poll tick, after every local
// command, and whenever the store reports a remote change. It returns nil
// when ctx is cancelled. Snapshot subscribers are closed on return.
func (s *MonitorService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting monitor service",
		"poll_interval", s.config.PollInterval,
		"staleness_timeout", s.policy.Timeout(),
		"change_feed", s.waiter != nil,
	)
	defer s.broker.Close()

	waitWithJitter(ctx, s.config.PollInterval, s.logger)

	var changes <-chan struct{}
	if s.waiter != nil {
		notifier, err := job.NewNotifier(job.NotifierOptions{Waiter: s.waiter})
		if err != nil {
			return fmt.Errorf("change notifier: %w", err)
		}
		defer notifier.StopAll()
		_, changes = notifier.Subscribe()
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.reconcileAndLog(ctx, "initial reconcile")

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "monitor service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.reconcileAndLog(ctx, "reconcile")
		case <-s.kick:
			s.reconcileAndLog(ctx, "command reconcile")
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.reconcileAndLog(ctx, "change reconcile")
		}
	}
}

func (s *MonitorService) reconcileAndLog(ctx context.Context, label string) {
	if _, err := s.Reconcile(ctx); err != nil && !isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" failed", "error", err)
	}
}

// Reconcile reads the whole store, reclaims stale running jobs, refreshes the
// local queue and publishes a new snapshot. Concurrent calls share one pass.
// On failure the previous snapshot stays current and health turns degraded.
func (s *MonitorService) Reconcile(ctx context.Context) (*model.JobsSnapshot, error) {
	v, err, _ := s.reconciles.Do("reconcile", func() (any, error) {
		return s.reconcile(ctx)
	})
	if err != nil {
		return nil, err
	}
	snap, _ := v.(*model.JobsSnapshot)
	return snap, nil
}

func (s *MonitorService) reconcile(ctx context.Context) (*model.JobsSnapshot, error) {
	start := time.Now()
	now := s.clock.Now()

	recs, err := s.store.List(ctx)
	if err == nil {
		recs, err = s.reclaimStale(ctx, recs, now)
	}
	if err != nil {
		s.recordFailure(ctx, now, err)
		s.emitReconcileMetric(metrics.ResultError, err, time.Since(start))
		return nil, err
	}

	s.qmu.Lock()
	s.queue.Sync(recs)
	s.qmu.Unlock()

	snap := model.NewJobsSnapshot(recs, now)

	s.mu.Lock()
	s.snapshot = snap
	s.health = StoreHealth{LastSuccessAt: now, LastAttemptAt: now}
	s.mu.Unlock()

	s.broker.Publish(ctx, snap)

	s.emitReconcileMetric(metrics.ResultSuccess, nil, time.Since(start))
	metrics.EmitQueueDepth(s.metrics, metrics.QueueDepth{
		Pending:   len(snap.Pending()),
		Running:   len(snap.Running()),
		Completed: len(snap.Completed()),
	})
	return snap, nil
}

// reclaimStale returns stale running jobs to the queue. Each reclaim is a CAS
// on the observed version, so when several monitors see the same stale run
// only one of them reclaims it.
func (s *MonitorService) reclaimStale(ctx context.Context, recs []model.JobRecord, now time.Time) ([]model.JobRecord, error) {
	out := recs[:0]
	for _, rec := range recs {
		next, stale := job.Reclaim(rec, s.policy, now)
		if !stale {
			out = append(out, rec)
			continue
		}

		saved, err := s.store.CompareAndSwap(ctx, rec.Version, next)
		switch {
		case err == nil:
			s.logger.WarnContext(ctx, "reclaimed stale job",
				"case_name", rec.CaseName,
				"data_source", rec.DataSource,
				"host", rec.HostName,
				"stage", rec.Stage,
			)
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				Transition: metrics.TransitionReclaim,
				Result:     metrics.ResultSuccess,
				Host:       rec.HostName,
			})
			s.notifyAsync(func(ctx context.Context) { s.notifier.JobReclaimed(ctx, rec, now) })
			out = append(out, saved)
		case errors.Is(err, model.ErrVersionConflict):
			fresh, gerr := s.store.Get(ctx, rec.JobKey)
			if errors.Is(gerr, model.ErrJobNotFound) {
				continue
			}
			if gerr != nil {
				return nil, gerr
			}
			out = append(out, fresh)
		case errors.Is(err, model.ErrJobNotFound):
			continue
		default:
			return nil, err
		}
	}
	return out, nil
}

func (s *MonitorService) recordFailure(ctx context.Context, now time.Time, err error) {
	// A cancelled pass says nothing about the store; shutdown must not flag it.
	if isContextCancellation(err) {
		return
	}

	s.mu.Lock()
	s.health.Degraded = true
	s.health.LastError = err.Error()
	s.health.LastAttemptAt = now
	s.health.ConsecutiveFailures++
	failures := s.health.ConsecutiveFailures
	s.mu.Unlock()

	if errors.Is(err, model.ErrStoreUnavailable) {
		s.logger.WarnContext(ctx, "coordination store unavailable, keeping last snapshot",
			"error", err,
			"consecutive_failures", failures,
		)
		return
	}
	s.logger.ErrorContext(ctx, "reconcile failed", "error", err, "consecutive_failures", failures)
}

// Snapshot returns the latest snapshot, or nil before the first reconcile.
func (s *MonitorService) Snapshot() *model.JobsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Health reports the outcome of recent reconciliations.
func (s *MonitorService) Health() StoreHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Subscribe registers a snapshot subscriber; see SnapshotBroker.Subscribe.
func (s *MonitorService) Subscribe() (func(), <-chan *model.JobsSnapshot) {
	return s.broker.Subscribe()
}

// QueuedKeys returns the keys in the local queue in dispatch order.
func (s *MonitorService) QueuedKeys() []model.JobKey {
	s.qmu.Lock()
	recs := s.queue.Records()
	s.qmu.Unlock()

	keys := make([]model.JobKey, len(recs))
	for i, rec := range recs {
		keys[i] = rec.JobKey
	}
	return keys
}

// Enqueue adds a pending job. It fails with model.ErrDuplicateJob while a
// pending or running job exists for the key.
func (s *MonitorService) Enqueue(ctx context.Context, req model.EnqueueRequest) (model.JobRecord, error) {
	return s.command(ctx, metrics.TransitionEnqueue, "", func() (model.JobRecord, error) {
		rec, err := job.NewPending(s.newID(), req, s.clock.Now())
		if err != nil {
			return model.JobRecord{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid enqueue request")
		}
		saved, err := s.store.Insert(ctx, rec)
		if err != nil {
			return model.JobRecord{}, err
		}
		s.qmu.Lock()
		s.queue.Push(saved)
		s.qmu.Unlock()
		return saved, nil
	})
}

// Claim hands host the best pending job: highest priority, then oldest.
// It returns model.ErrNoWorkAvailable when nothing is pending.
func (s *MonitorService) Claim(ctx context.Context, host string) (model.JobRecord, error) {
	host = strings.TrimSpace(host)
	return s.command(ctx, metrics.TransitionClaim, host, func() (model.JobRecord, error) {
		if host == "" {
			return model.JobRecord{}, fmt.Errorf("%w: host name is required", model.ErrInvalidTransition)
		}

		recs, err := s.store.List(ctx)
		if err != nil {
			return model.JobRecord{}, err
		}
		s.qmu.Lock()
		s.queue.Sync(recs)
		s.qmu.Unlock()

		conflicts := 0
		maxConflicts := s.config.CASRetries + len(recs)
		for {
			s.qmu.Lock()
			cand, ok := s.queue.Pop()
			s.qmu.Unlock()
			if !ok {
				return model.JobRecord{}, model.ErrNoWorkAvailable
			}

			next, err := job.Claim(cand, host, s.clock.Now())
			if err != nil {
				continue
			}

			saved, err := s.store.CompareAndSwap(ctx, cand.Version, next)
			switch {
			case err == nil:
				return saved, nil
			case errors.Is(err, model.ErrJobNotFound):
				continue
			case errors.Is(err, model.ErrVersionConflict):
				if conflicts++; conflicts > maxConflicts {
					return model.JobRecord{}, fmt.Errorf("claim: %w", err)
				}
				if err := s.requeueIfPending(ctx, cand.JobKey); err != nil {
					return model.JobRecord{}, err
				}
			default:
				s.qmu.Lock()
				s.queue.Push(cand)
				s.qmu.Unlock()
				return model.JobRecord{}, err
			}
		}
	})
}

// requeueIfPending re-reads key after a lost CAS and puts it back in the
// local queue when it is still waiting to be claimed.
func (s *MonitorService) requeueIfPending(ctx context.Context, key model.JobKey) error {
	fresh, err := s.store.Get(ctx, key)
	if errors.Is(err, model.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if fresh.State == model.JobStatePending {
		s.qmu.Lock()
		s.queue.Push(fresh)
		s.qmu.Unlock()
	}
	return nil
}

// AdvanceStage records that host moved key to stage.
func (s *MonitorService) AdvanceStage(ctx context.Context, key model.JobKey, host, stage string) (model.JobRecord, error) {
	return s.command(ctx, metrics.TransitionAdvance, host, func() (model.JobRecord, error) {
		return s.mutate(ctx, key, func(cur model.JobRecord) (model.JobRecord, error) {
			return s.tracker.Advance(cur, host, stage)
		})
	})
}

// Heartbeat restamps the current stage of host's running job. It fails with
// an error matching model.ErrJobCancelled once an operator cancelled the job.
func (s *MonitorService) Heartbeat(ctx context.Context, key model.JobKey, host string) (model.JobRecord, error) {
	return s.command(ctx, metrics.TransitionHeartbeat, host, func() (model.JobRecord, error) {
		return s.mutate(ctx, key, func(cur model.JobRecord) (model.JobRecord, error) {
			return s.tracker.Heartbeat(cur, host)
		})
	})
}

// Complete moves host's running job to COMPLETED.
func (s *MonitorService) Complete(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error) {
	return s.finish(ctx, metrics.TransitionComplete, key, host, model.JobStateCompleted, status)
}

// Fail moves host's running job to FAILED.
func (s *MonitorService) Fail(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error) {
	return s.finish(ctx, metrics.TransitionFail, key, host, model.JobStateFailed, status)
}

func (s *MonitorService) finish(
	ctx context.Context,
	transition string,
	key model.JobKey,
	host string,
	state model.JobState,
	status model.JobStatus,
) (model.JobRecord, error) {
	saved, err := s.command(ctx, transition, host, func() (model.JobRecord, error) {
		return s.mutate(ctx, key, func(cur model.JobRecord) (model.JobRecord, error) {
			return job.Finish(cur, host, state, status, s.clock.Now())
		})
	})
	if err == nil {
		s.notifyAsync(func(ctx context.Context) { s.notifier.JobFinished(ctx, saved) })
	}
	return saved, err
}

// Reprioritize changes the priority of a pending job and reorders the local queue.
func (s *MonitorService) Reprioritize(ctx context.Context, key model.JobKey, priority int) (model.JobRecord, error) {
	return s.command(ctx, metrics.TransitionReprioritize, "", func() (model.JobRecord, error) {
		saved, err := s.mutate(ctx, key, func(cur model.JobRecord) (model.JobRecord, error) {
			return job.Reprioritize(cur, priority, s.clock.Now())
		})
		if err != nil {
			return saved, err
		}
		s.qmu.Lock()
		s.queue.Push(saved)
		s.qmu.Unlock()
		return saved, nil
	})
}

// Cancel fails a pending or running job with a cancellation status. A running
// owner finds out on its next heartbeat or stage update.
func (s *MonitorService) Cancel(ctx context.Context, key model.JobKey, reason string) (model.JobRecord, error) {
	return s.command(ctx, metrics.TransitionCancel, "", func() (model.JobRecord, error) {
		saved, err := s.mutate(ctx, key, func(cur model.JobRecord) (model.JobRecord, error) {
			return job.Cancel(cur, reason, s.clock.Now())
		})
		if err != nil {
			return saved, err
		}
		s.qmu.Lock()
		s.queue.Remove(key)
		s.qmu.Unlock()
		return saved, nil
	})
}

// SelectJob returns the current record for key straight from the store.
func (s *MonitorService) SelectJob(ctx context.Context, key model.JobKey) (model.JobRecord, error) {
	return s.store.Get(ctx, key)
}

// mutate applies fn to the stored record for key and writes the result with
// compare-and-swap, re-reading and retrying on version conflicts.
func (s *MonitorService) mutate(
	ctx context.Context,
	key model.JobKey,
	fn func(cur model.JobRecord) (model.JobRecord, error),
) (model.JobRecord, error) {
	var lastErr error
	for range s.config.CASRetries {
		cur, err := s.store.Get(ctx, key)
		if err != nil {
			return model.JobRecord{}, err
		}
		next, err := fn(cur)
		if err != nil {
			return model.JobRecord{}, err
		}
		saved, err := s.store.CompareAndSwap(ctx, cur.Version, next)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, model.ErrVersionConflict) {
			return model.JobRecord{}, err
		}
		lastErr = err
	}
	return model.JobRecord{}, fmt.Errorf("%s: %d attempts: %w", key, s.config.CASRetries, lastErr)
}

// command runs one state-changing operation with metrics, logging and a
// reconcile kick on success.
func (s *MonitorService) command(
	ctx context.Context,
	transition, host string,
	fn func() (model.JobRecord, error),
) (model.JobRecord, error) {
	start := time.Now()
	rec, err := fn()

	m := metrics.JobMetric{Transition: transition, Host: host, Duration: time.Since(start), Err: err}
	switch {
	case err == nil:
		m.Result = metrics.ResultSuccess
		if rec.Status != nil {
			m.StatusKind = string(rec.Status.Kind)
		}
	case errors.Is(err, model.ErrNoWorkAvailable):
		m.Result = metrics.ResultNoop
	case errors.Is(err, model.ErrVersionConflict), errors.Is(err, model.ErrDuplicateJob):
		m.Result = metrics.ResultConflict
	default:
		m.Result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(s.metrics, m)

	if err != nil {
		if m.Result == metrics.ResultError && !errors.Is(err, model.ErrInvalidTransition) && !errors.Is(err, model.ErrJobNotFound) {
			s.logger.WarnContext(ctx, transition+" failed", "host", host, "error", err)
		}
		return rec, err
	}

	s.logger.InfoContext(ctx, transition,
		"case_name", rec.CaseName,
		"data_source", rec.DataSource,
		"state", rec.State,
		"host", rec.HostName,
		"stage", rec.Stage,
	)
	s.requestReconcile()
	return rec, nil
}

func (s *MonitorService) requestReconcile() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// notifyAsync delivers a failure notification without holding up the caller.
func (s *MonitorService) notifyAsync(fn func(ctx context.Context)) {
	if !s.notifier.Enabled() {
		return
	}
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Drain waits for in-flight failure notifications.
func (s *MonitorService) Drain() {
	s.notifyWG.Wait()
}

func (s *MonitorService) emitReconcileMetric(result string, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	s.metrics.Count("monitor.reconcile", 1, tags)
	s.metrics.Timing("monitor.reconcile_duration", elapsed, metrics.CloneTags(tags))
}
