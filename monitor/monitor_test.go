package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/najoast/zkernel/core"
)

func TestMetricsFromKernel(t *testing.T) {
	m := NewMetrics("test")
	c := core.NewContext(core.WithMetrics(m), core.WithLogger(zaptest.NewLogger(t)))

	a, err := c.CreateSocket(core.TypePair)
	require.NoError(t, err)
	b, err := c.CreateSocket(core.TypePair)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SocketsOpen))

	require.NoError(t, a.Bind("inproc://metrics"))
	require.NoError(t, b.Connect("inproc://metrics"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipesOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsSent.WithLabelValues("bind")))

	require.NoError(t, b.Send(core.NewFrame([]byte("hi")), 0))
	_, err = a.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsProcessed.WithLabelValues("bind")))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(ctx))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.SocketsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SocketsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PipesOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ObjectsTermed.WithLabelValues("socket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsSent.WithLabelValues("done")))
}

type fixedStats core.ContextStats

func (f fixedStats) Stats() core.ContextStats { return core.ContextStats(f) }

func TestServerEndpoints(t *testing.T) {
	m := NewMetrics("test")
	m.SocketOpened()

	srv := NewServer(ServerConfig{}, m, fixedStats{ID: "ctx-1", Sockets: 1, Started: true}, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zkernel_sockets_open{app="test"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string            `json:"status"`
		Context core.ContextStats `json:"context"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ctx-1", body.Context.ID)
	assert.Equal(t, 1, body.Context.Sockets)
}

func TestServerHealthTerminating(t *testing.T) {
	srv := NewServer(ServerConfig{HealthPath: "/healthz"}, NewMetrics("test"),
		fixedStats{Terminating: true}, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"terminating"`)
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, NewMetrics("test"),
		fixedStats{Started: true}, zaptest.NewLogger(t))
	assert.Empty(t, srv.Addr())

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start(), "already started")

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, srv.Stop(ctx), "stop is idempotent")
}
