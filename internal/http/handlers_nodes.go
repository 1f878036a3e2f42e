package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

var (
	errPriorityRequired = errors.New("priority is required")
	errStageRequired    = errors.New("stage is required")
)

// Claim handles POST /api/nodes/{host}/claim. With ?wait= the request blocks
// until a job becomes claimable or the wait expires (204).
func (h *Handlers) Claim(w http.ResponseWriter, r *http.Request) {
	host, ok := pathHost(w, r)
	if !ok {
		return
	}

	rec, err := h.Monitor.Claim(r.Context(), host)
	if err == nil {
		WriteJSON(w, http.StatusOK, rec)
		return
	}
	if !errors.Is(err, model.ErrNoWorkAvailable) {
		WriteAppError(w, err)
		return
	}

	wait := parseWaitQuery(r, h.maxClaimWait)
	if wait <= 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.handleLongPoll(w, r, host, wait)
}

func (h *Handlers) handleLongPoll(w http.ResponseWriter, r *http.Request, host string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	unsub, ch := h.Monitor.Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			w.WriteHeader(http.StatusNoContent)
			return
		case _, ok := <-ch:
			if !ok {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			rec, err := h.Monitor.Claim(ctx, host)
			switch {
			case err == nil:
				WriteJSON(w, http.StatusOK, rec)
				return
			case errors.Is(err, model.ErrNoWorkAvailable):
				// Lost the race or nothing new; keep waiting until the deadline.
			case ctx.Err() != nil:
				w.WriteHeader(http.StatusNoContent)
				return
			default:
				WriteAppError(w, err)
				return
			}
		}
	}
}

type stageRequest struct {
	Stage string `json:"stage"`
}

// AdvanceStage handles POST /api/nodes/{host}/jobs/{case}/{source}/stage.
func (h *Handlers) AdvanceStage(w http.ResponseWriter, r *http.Request) {
	host, key, ok := nodeJobPath(w, r)
	if !ok {
		return
	}
	var body stageRequest
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Stage == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errStageRequired})
		return
	}

	rec, err := h.Monitor.AdvanceStage(r.Context(), key, host, body.Stage)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Heartbeat handles POST /api/nodes/{host}/jobs/{case}/{source}/heartbeat.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	host, key, ok := nodeJobPath(w, r)
	if !ok {
		return
	}

	rec, err := h.Monitor.Heartbeat(r.Context(), key, host)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// finishRequest carries an optional terminal status. Complete defaults to
// succeeded and Fail to errored with Message.
type finishRequest struct {
	Kind    model.StatusKind `json:"kind"`
	Message string           `json:"message"`
}

func (b finishRequest) status(fallback func(string) model.JobStatus) model.JobStatus {
	if b.Kind == "" {
		return fallback(b.Message)
	}
	return model.JobStatus{Kind: b.Kind, Message: b.Message}
}

// Complete handles POST /api/nodes/{host}/jobs/{case}/{source}/complete.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, model.Succeeded, h.Monitor.Complete)
}

// Fail handles POST /api/nodes/{host}/jobs/{case}/{source}/fail.
func (h *Handlers) Fail(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, model.Errored, h.Monitor.Fail)
}

type finishFunc func(ctx context.Context, key model.JobKey, host string, status model.JobStatus) (model.JobRecord, error)

func (h *Handlers) finish(
	w http.ResponseWriter,
	r *http.Request,
	fallback func(string) model.JobStatus,
	fn finishFunc,
) {
	host, key, ok := nodeJobPath(w, r)
	if !ok {
		return
	}
	var body finishRequest
	if !DecodeJSON(w, r, &body) {
		return
	}

	rec, err := fn(r.Context(), key, host, body.status(fallback))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func nodeJobPath(w http.ResponseWriter, r *http.Request) (string, model.JobKey, bool) {
	host, ok := pathHost(w, r)
	if !ok {
		return "", model.JobKey{}, false
	}
	key, ok := pathKey(w, r)
	if !ok {
		return "", model.JobKey{}, false
	}
	return host, key, true
}
