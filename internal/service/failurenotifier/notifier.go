// Package failurenotifier fans job failure and reclaim events out to the
// configured notification sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failure_notifier")

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{
		logger: logger,
		sinks:  sinks,
	}
}

// NotifyJobFailure fan-outs the job failure payload to all sinks and waits for delivery.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"event", payload.Event,
					"case_name", payload.CaseName,
					"data_source", payload.DataSource,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// JobFinished notifies about a job that reached a terminal state. Successes
// and operator cancellations are not failures and are skipped.
func (s *Service) JobFinished(ctx context.Context, rec model.JobRecord) {
	if rec.State != model.JobStateFailed || rec.Status == nil || rec.Status.IsCancellation() {
		return
	}
	occurred := time.Now().UTC()
	if rec.CompletedAt != nil {
		occurred = *rec.CompletedAt
	}
	s.NotifyJobFailure(ctx, notify.JobFailurePayload{
		Event:      notify.EventJobFailed,
		JobID:      rec.ID,
		CaseName:   rec.CaseName,
		DataSource: rec.DataSource,
		HostName:   rec.HostName,
		StatusKind: string(rec.Status.Kind),
		Message:    rec.Status.Message,
		Severity:   notify.SeverityCritical,
		OccurredAt: occurred,
	})
}

// JobReclaimed notifies that prev, a running job whose owner went silent, was
// put back in the queue.
func (s *Service) JobReclaimed(ctx context.Context, prev model.JobRecord, at time.Time) {
	meta := map[string]string{}
	if prev.StageStartedAt != nil {
		meta["last_update"] = prev.StageStartedAt.UTC().Format(time.RFC3339)
	}
	s.NotifyJobFailure(ctx, notify.JobFailurePayload{
		Event:      notify.EventJobReclaimed,
		JobID:      prev.ID,
		CaseName:   prev.CaseName,
		DataSource: prev.DataSource,
		HostName:   prev.HostName,
		Stage:      prev.Stage,
		Severity:   notify.SeverityWarning,
		OccurredAt: at.UTC(),
		Metadata:   meta,
	})
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
