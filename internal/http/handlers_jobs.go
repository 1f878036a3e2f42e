package httpx

import (
	"net/http"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// Enqueue handles POST /api/jobs.
func (h *Handlers) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req model.EnqueueRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rec, err := h.Monitor.Enqueue(r.Context(), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

// GetJob handles GET /api/jobs/{case}/{source}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	rec, err := h.Monitor.SelectJob(r.Context(), key)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type reprioritizeRequest struct {
	Priority *int `json:"priority"`
}

// Reprioritize handles PUT /api/jobs/{case}/{source}/priority.
func (h *Handlers) Reprioritize(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var body reprioritizeRequest
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Priority == nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errPriorityRequired})
		return
	}

	rec, err := h.Monitor.Reprioritize(r.Context(), key, *body.Priority)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /api/jobs/{case}/{source}/cancel. The body is optional.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var body cancelRequest
	if !DecodeJSON(w, r, &body) {
		return
	}

	rec, err := h.Monitor.Cancel(r.Context(), key, body.Reason)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
