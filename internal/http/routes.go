// Package httpx serves the coordination API: the queue snapshot (plain and
// streamed), operator commands, and the node protocol executors speak.
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/service"
)

// JobMonitor is the subset of service.MonitorService the API drives.
type JobMonitor interface {
	Snapshot() *model.JobsSnapshot
	Subscribe() (func(), <-chan *model.JobsSnapshot)
	Health() service.StoreHealth

	Enqueue(ctx context.Context, req model.EnqueueRequest) (model.JobRecord, error)
	SelectJob(ctx context.Context, key model.JobKey) (model.JobRecord, error)
	Reprioritize(ctx context.Context, key model.JobKey, priority int) (model.JobRecord, error)
	Cancel(ctx context.Context, key model.JobKey, reason string) (model.JobRecord, error)

	Claim(ctx context.Context, host string) (model.JobRecord, error)
	AdvanceStage(ctx context.Context, key model.JobKey, host, stage string) (model.JobRecord, error)
	Heartbeat(ctx context.Context, key model.JobKey, host string) (model.JobRecord, error)
	Complete(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error)
	Fail(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error)
}

var _ JobMonitor = (*service.MonitorService)(nil)

// RouterServices holds the dependencies for the HTTP router.
type RouterServices struct {
	Monitor JobMonitor
	Logger  *slog.Logger

	// MaxClaimWait caps the ?wait= long-poll on claims. Defaults to 60s.
	MaxClaimWait time.Duration
	// StreamPingInterval is the websocket keepalive period. Defaults to 30s.
	StreamPingInterval time.Duration
}

// Handlers binds the API handlers to a monitor.
type Handlers struct {
	Monitor JobMonitor
	Logger  *slog.Logger

	maxClaimWait time.Duration
	pingInterval time.Duration
}

// NewHandlers applies defaults to svcs.
func NewHandlers(svcs RouterServices) *Handlers {
	logger := svcs.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		Monitor:      svcs.Monitor,
		Logger:       logger.With("component", "http_api"),
		maxClaimWait: svcs.MaxClaimWait,
		pingInterval: svcs.StreamPingInterval,
	}
	if h.maxClaimWait <= 0 {
		h.maxClaimWait = 60 * time.Second
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 30 * time.Second
	}
	return h
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(svcs RouterServices) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	if svcs.Monitor == nil {
		return mux
	}
	h := NewHandlers(svcs)

	mux.HandleFunc("GET /readyz", h.readyHandler)
	mux.HandleFunc("HEAD /readyz", h.readyHandler)

	// Snapshot
	mux.HandleFunc("GET /api/snapshot", h.GetSnapshot)
	mux.HandleFunc("GET /api/snapshot/stream", h.StreamSnapshots)

	// Operator commands
	mux.HandleFunc("POST /api/jobs", h.Enqueue)
	mux.HandleFunc("GET /api/jobs/{case}/{source}", h.GetJob)
	mux.HandleFunc("PUT /api/jobs/{case}/{source}/priority", h.Reprioritize)
	mux.HandleFunc("POST /api/jobs/{case}/{source}/cancel", h.Cancel)

	// Node protocol
	mux.HandleFunc("POST /api/nodes/{host}/claim", h.Claim)
	mux.HandleFunc("POST /api/nodes/{host}/jobs/{case}/{source}/stage", h.AdvanceStage)
	mux.HandleFunc("POST /api/nodes/{host}/jobs/{case}/{source}/heartbeat", h.Heartbeat)
	mux.HandleFunc("POST /api/nodes/{host}/jobs/{case}/{source}/complete", h.Complete)
	mux.HandleFunc("POST /api/nodes/{host}/jobs/{case}/{source}/fail", h.Fail)

	return mux
}
