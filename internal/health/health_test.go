package health

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentryd/sentryd/internal/metrics"
	"github.com/sentryd/sentryd/internal/shutdown"
)

type fakeStats struct{ s Stats }

func (f fakeStats) Stats() Stats { return f.s }

func TestHealthzReportsStartingByDefault(t *testing.T) {
	srv := New(":0", shutdown.NewManager(), fakeStats{Stats{LiveProcesses: 3}}, metrics.NewRegistry())

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHealthzReportsRunningAfterSetRunning(t *testing.T) {
	srv := New(":0", shutdown.NewManager(), fakeStats{Stats{LiveProcesses: 3}}, metrics.NewRegistry())
	srv.SetRunning()

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHealthzReflectsShuttingDown(t *testing.T) {
	sd := shutdown.NewManager()
	srv := New(":0", sd, nil, metrics.NewRegistry())
	sd.Shutdown()

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHealthzReflectsDegraded(t *testing.T) {
	srv := New(":0", shutdown.NewManager(), nil, metrics.NewRegistry())
	srv.SetRunning()
	srv.SetDegraded()

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestSetRunningClearsDegraded(t *testing.T) {
	srv := New(":0", shutdown.NewManager(), nil, metrics.NewRegistry())
	srv.SetRunning()
	srv.SetDegraded()
	srv.SetRunning()

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.IncrCounter("test_counter", 1)
	srv := New(":0", shutdown.NewManager(), nil, reg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
