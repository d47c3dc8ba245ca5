package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/envelope"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	c, reg := newTestCollector(t)
	require.NotNil(t, c)

	// 同一個 registry 不能註冊兩次
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestRecordSentAndReceived(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordSent(3, 100)
	c.RecordSent(1, 20)
	c.RecordReceived(64)
	c.RecordReceived(16)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.messagesSent))
	assert.Equal(t, 320.0, testutil.ToFloat64(c.bytesSent))
	assert.Equal(t, 80.0, testutil.ToFloat64(c.bytesReceived))
}

func TestRecordRound(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRound(0, 0.5)
	c.RecordRound(1, 0.125)
	c.SetWorkers(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rounds))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.iteration))
	assert.Equal(t, 0.125, testutil.ToFloat64(c.quality))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.workers))
}

func TestObserveWorkerTimes(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveWorkerTimes(0, envelope.Times{Real: 0.1, User: 0.05, System: 0.01})
	c.ObserveWorkerTimes(1, envelope.Times{Real: 0.2})
	c.ObserveReplyWait(0.3)

	// 兩個 worker × 三種時鐘
	assert.Equal(t, 6, testutil.CollectAndCount(c.workerProcess))
	assert.Equal(t, 1, testutil.CollectAndCount(c.replyWait))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordSent(1, 1)
		c.RecordReceived(1)
		c.ObserveReplyWait(1)
		c.ObserveWorkerTimes(0, envelope.Times{})
		c.RecordRound(1, 1)
		c.SetWorkers(1)
	})
}

// ============================================================================
// HTTP 端點
// ============================================================================

func TestRouter(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordRound(2, 0.75)

	router := NewRouter(reg, func() any {
		return map[string]any{"iteration": 2}
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mwcontrol_rounds_total 1")
	assert.Contains(t, rec.Body.String(), "mwcontrol_solution_quality 0.75")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var status map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status["iteration"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouterWithoutStatus(t *testing.T) {
	router := NewRouter(prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	})

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", handler) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			// 若在 ListenAndServe 啟動前就取消，也只能是關閉錯誤
			assert.True(t, strings.Contains(err.Error(), "closed"), err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
