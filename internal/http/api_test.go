package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/data"
	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/service"
	"github.com/target/mmk-autoingest/internal/testutil"
)

type apiEnv struct {
	monitor *service.MonitorService
	clock   *testutil.TestTimeProvider
	router  http.Handler
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := data.NewMemoryStore(data.StoreConfig{TimeProvider: clock})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	monitor, err := service.NewMonitorService(service.MonitorServiceOptions{
		Store: store,
		Config: config.MonitorConfig{
			PollInterval:     time.Second,
			StalenessTimeout: time.Minute,
			PublishTimeout:   100 * time.Millisecond,
			CASRetries:       8,
		},
		TimeProvider: clock,
		Logger:       logger,
	})
	require.NoError(t, err)
	t.Cleanup(monitor.Drain)

	router := NewRouter(RouterServices{
		Monitor:            monitor,
		Logger:             logger,
		MaxClaimWait:       2 * time.Second,
		StreamPingInterval: time.Second,
	})
	return &apiEnv{monitor: monitor, clock: clock, router: router}
}

func (e *apiEnv) reconcile(t *testing.T) {
	t.Helper()
	_, err := e.monitor.Reconcile(context.Background())
	require.NoError(t, err)
}

func (e *apiEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) model.JobRecord {
	t.Helper()
	var out model.JobRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func decodeErrCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out["error"]
}

func TestEnqueue_Created(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"case-a","data_source":"disk1.e01","priority":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeRecord(t, rec)
	assert.Equal(t, "case-a", got.CaseName)
	assert.Equal(t, model.JobStatePending, got.State)
	assert.Equal(t, 5, got.Priority)
	assert.NotEmpty(t, got.ID)
}

func TestEnqueue_Errors(t *testing.T) {
	env := newAPIEnv(t)
	body := `{"case_name":"case-a","data_source":"disk1.e01"}`
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/jobs", body).Code)

	rec := env.do(t, http.MethodPost, "/api/jobs", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", decodeErrCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"case-a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeErrCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/jobs", `{bad`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeErrCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"c","data_source":"d","owner":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestGetJob(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"case-a","data_source":"disk1"}`)

	rec := env.do(t, http.MethodGet, "/api/jobs/case-a/disk1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disk1", decodeRecord(t, rec).DataSource)

	rec = env.do(t, http.MethodGet, "/api/jobs/case-a/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeErrCode(t, rec))
}

func TestReprioritizeAndCancel(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"case-a","data_source":"disk1","priority":1}`)

	rec := env.do(t, http.MethodPut, "/api/jobs/case-a/disk1/priority", `{"priority":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9, decodeRecord(t, rec).Priority)

	rec = env.do(t, http.MethodPut, "/api/jobs/case-a/disk1/priority", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs/case-a/disk1/cancel", `{"reason":"wrong image"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeRecord(t, rec)
	assert.Equal(t, model.JobStateFailed, got.State)
	require.NotNil(t, got.Status)
	assert.True(t, got.Status.IsCancellation())

	rec = env.do(t, http.MethodPut, "/api/jobs/case-a/disk1/priority", `{"priority":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeErrCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/jobs/case-a/disk1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNodeProtocol_Lifecycle(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/nodes/node-1/claim", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"low","data_source":"d","priority":1}`)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"high","data_source":"d","priority":7}`)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/claim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decodeRecord(t, rec)
	assert.Equal(t, "high", claimed.CaseName)
	assert.Equal(t, "node-1", claimed.HostName)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/jobs/high/d/stage", `{"stage":"analysis"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analysis", decodeRecord(t, rec).Stage)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-2/jobs/high/d/heartbeat", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "only the owner may heartbeat")

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/jobs/high/d/heartbeat", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/jobs/high/d/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeRecord(t, rec)
	assert.Equal(t, model.JobStateCompleted, done.State)
	require.NotNil(t, done.Status)
	assert.Equal(t, model.StatusSucceeded, done.Status.Kind)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/claim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "low", decodeRecord(t, rec).CaseName)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/jobs/low/d/fail", `{"kind":"disk_full","message":"no space"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decodeRecord(t, rec)
	assert.Equal(t, model.JobStateFailed, failed.State)
	assert.Equal(t, model.StatusKind("disk_full"), failed.Status.Kind)

	rec = env.do(t, http.MethodPost, "/api/nodes/node-1/jobs/nope/d/stage", `{"stage":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNodeProtocol_HeartbeatAfterCancel(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"c","data_source":"d"}`)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/nodes/node-1/claim", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/jobs/c/d/cancel", "").Code)

	rec := env.do(t, http.MethodPost, "/api/nodes/node-1/jobs/c/d/heartbeat", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cancelled", decodeErrCode(t, rec))
}

func TestClaim_LongPollPicksUpEnqueue(t *testing.T) {
	env := newAPIEnv(t)
	env.reconcile(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.monitor.Run(ctx) }()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.do(t, http.MethodPost, "/api/nodes/node-1/claim?wait=2s", "")
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := env.monitor.Enqueue(ctx, model.EnqueueRequest{CaseName: "c", DataSource: "d"})
	require.NoError(t, err)

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "node-1", decodeRecord(t, rec).HostName)
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not return")
	}
}

func TestClaim_LongPollTimesOut(t *testing.T) {
	env := newAPIEnv(t)
	env.reconcile(t)

	start := time.Now()
	rec := env.do(t, http.MethodPost, "/api/nodes/node-1/claim?wait=1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestGetSnapshot(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"a","data_source":"d","priority":1}`)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"b","data_source":"d","priority":3}`)
	env.reconcile(t)

	rec = env.do(t, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view model.SnapshotView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Len(t, view.Pending, 2)
	assert.Equal(t, "b", view.Pending[0].CaseName)
	assert.Empty(t, view.Running)
}

func TestGetSnapshot_Query(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"a","data_source":"d","priority":1}`)
	env.do(t, http.MethodPost, "/api/jobs", `{"case_name":"b","data_source":"d","priority":3}`)
	env.reconcile(t)

	rec := env.do(t, http.MethodGet, "/api/snapshot?query=pending%5B%5D.case_name", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&names))
	assert.Equal(t, []string{"b", "a"}, names)

	rec = env.do(t, http.MethodGet, "/api/snapshot?query=pending%5B", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_query", decodeErrCode(t, rec))
}

func TestStreamSnapshots(t *testing.T) {
	env := newAPIEnv(t)
	env.reconcile(t)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/snapshot/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	readView := func() model.SnapshotView {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var view model.SnapshotView
		require.NoError(t, json.Unmarshal(data, &view))
		return view
	}

	first := readView()
	assert.Empty(t, first.Pending, "subscribers are primed with the latest snapshot")

	_, err = env.monitor.Enqueue(context.Background(), model.EnqueueRequest{CaseName: "c", DataSource: "d"})
	require.NoError(t, err)
	env.reconcile(t)

	next := readView()
	require.Len(t, next.Pending, 1)
	assert.Equal(t, "c", next.Pending[0].CaseName)
}

func TestRecoverMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tea", nil))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/tea"`)
}
