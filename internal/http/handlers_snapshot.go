package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamReadLimit    = 512
)

var errNoSnapshot = errors.New("no snapshot has been taken yet")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// Observers are read-only; any origin may watch the queue.
	CheckOrigin: func(*http.Request) bool { return true },
}

type readyResponse struct {
	Status string `json:"status"`
	Store  any    `json:"store"`
}

// GetSnapshot returns the latest snapshot, optionally projected through a
// JMESPath expression given as ?query=.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.Monitor.Snapshot()
	if snap == nil {
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "unavailable", Err: errNoSnapshot})
		return
	}

	view := snap.View()
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		WriteJSON(w, http.StatusOK, view)
		return
	}

	result, err := searchView(query, view)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// searchView evaluates a JMESPath expression against the JSON form of view.
func searchView(expr string, view model.SnapshotView) (any, error) {
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	result, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate query: %w", err)
	}
	return result, nil
}

// StreamSnapshots upgrades to a websocket and writes every published snapshot
// as a JSON text message until the client goes away.
func (h *Handlers) StreamSnapshots(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.Logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	unsub, ch := h.Monitor.Subscribe()
	defer unsub()

	// Reader: detects client close and answers control frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(streamReadLimit)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.Logger.Debug("snapshot stream read ended", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				return
			}
		case snap, ok := <-ch:
			if !ok {
				// Broker closed; a slow stream only ever misses superseded snapshots.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			data, err := json.Marshal(snap.View())
			if err != nil {
				h.Logger.Error("encode snapshot", "error", err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
