package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"radiopipe/internal/executor"
	"radiopipe/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, ledger.Store) {
	t.Helper()
	store, err := ledger.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewServer(Config{Ledger: store, Gatherer: prometheus.NewRegistry()}), store
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRunsAndStages(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.RecordRun(ctx, ledger.Run{RunID: "run-1", Status: ledger.StatusRunning, StartedAt: time.Now()}))
	require.NoError(t, store.RecordStage(ctx, ledger.StageRow{RunID: "run-1", Stage: 1, Task: "importdata", Status: ledger.StatusCompleted}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []ledger.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-1/stages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []ledger.StageRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "importdata", rows[0].Task)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/nope/stages", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := executor.NewMetrics(reg)
	m.RunsStarted.Inc()
	store, err := ledger.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := NewServer(Config{Ledger: store, Gatherer: reg})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "radiopipe_runs_started_total 1")
}

func TestEventsWebsocket(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// wait for the subscription to land before publishing
	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	want := executor.Event{Type: executor.EventStageDone, RunID: "run-1", Stage: 3, Task: "gaincal", QAScore: 0.9}
	s.Hub().Publish(want)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got executor.Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, want.Type, got.Type)
	require.Equal(t, want.Stage, got.Stage)
	require.Equal(t, want.Task, got.Task)
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	h := NewHub()
	sub := h.subscribe()
	defer h.unsubscribe(sub)

	// publish past the buffer with nobody reading; must not block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(executor.Event{Type: executor.EventPhase, Stage: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	require.Equal(t, uint64(subscriberBuffer), h.Dropped())
	require.Len(t, sub.ch, subscriberBuffer)
}
