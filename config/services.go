package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeMonitor runs the reconcile loop without any other surface.
	ServiceModeMonitor ServiceMode = "monitor"
	// ServiceModeExecutor claims and runs jobs on this host.
	ServiceModeExecutor ServiceMode = "executor"
	// ServiceModeReaper runs the retention reaper for terminal jobs.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeMonitor,
		ServiceModeExecutor,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeMonitor, ServiceModeExecutor, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, monitor, executor, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// MonitorConfig contains reconcile loop configuration.
type MonitorConfig struct {
	// PollInterval is the period between full reconciliations.
	PollInterval time.Duration `env:"MONITOR_POLL_INTERVAL" envDefault:"5s"`

	// StalenessTimeout is how long a running job may go without a stage update
	// or heartbeat before it is returned to the pending queue.
	StalenessTimeout time.Duration `env:"MONITOR_STALENESS_TIMEOUT" envDefault:"5m"`

	// PublishTimeout bounds delivery of one snapshot to one subscriber.
	PublishTimeout time.Duration `env:"MONITOR_PUBLISH_TIMEOUT" envDefault:"2s"`

	// CASRetries bounds read-transition-write attempts per command.
	CASRetries int `env:"MONITOR_CAS_RETRIES" envDefault:"8"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.PollInterval < 100*time.Millisecond {
		m.PollInterval = 100 * time.Millisecond
	}
	if m.StalenessTimeout < time.Second {
		m.StalenessTimeout = time.Second
	}
	if m.PublishTimeout <= 0 {
		m.PublishTimeout = 2 * time.Second
	}
	if m.CASRetries < 1 {
		m.CASRetries = 1
	}
}

// ExecutorConfig contains node executor configuration.
type ExecutorConfig struct {
	// HostName identifies this node as a job owner. Defaults to os.Hostname.
	HostName string `env:"EXECUTOR_HOST_NAME"`

	// Concurrency is the number of jobs this node runs at once.
	Concurrency int `env:"EXECUTOR_CONCURRENCY" envDefault:"1"`

	// Stages is the ordered list of pipeline stages run for each job.
	Stages []string `env:"EXECUTOR_STAGES" envDefault:"file_type_identification,data_source_processing,analysis,report" envSeparator:","`

	// HeartbeatInterval is the period between heartbeats while a stage runs.
	// Zero derives it from the monitor's staleness timeout.
	HeartbeatInterval time.Duration `env:"EXECUTOR_HEARTBEAT_INTERVAL" envDefault:"0s"`

	// IdleBackoff is the wait between claim attempts when no work is available.
	IdleBackoff time.Duration `env:"EXECUTOR_IDLE_BACKOFF" envDefault:"5s"`

	// StageCommand is run once per stage. Empty runs stages as no-ops.
	StageCommand string `env:"EXECUTOR_STAGE_COMMAND" envDefault:""`

	// LockDir holds the per-host instance lock.
	LockDir string `env:"EXECUTOR_LOCK_DIR" envDefault:""`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	e.HostName = strings.TrimSpace(e.HostName)
	if e.HostName == "" {
		if name, err := os.Hostname(); err == nil {
			e.HostName = name
		}
	}
	if e.Concurrency < 1 {
		e.Concurrency = 1
	}

	stages := e.Stages[:0]
	for _, s := range e.Stages {
		if s = strings.TrimSpace(s); s != "" {
			stages = append(stages, s)
		}
	}
	e.Stages = stages

	if e.HeartbeatInterval < 0 {
		e.HeartbeatInterval = 0
	}
	if e.IdleBackoff < 100*time.Millisecond {
		e.IdleBackoff = 100 * time.Millisecond
	}
	e.StageCommand = strings.TrimSpace(e.StageCommand)
	if e.LockDir = strings.TrimSpace(e.LockDir); e.LockDir == "" {
		e.LockDir = os.TempDir()
	}
}

// ReaperConfig contains retention reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive store load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
