package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Prometheus().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestIncrCounterRegistersAndAccumulates(t *testing.T) {
	r := NewRegistry()
	r.IncrCounter("events_delivered", 1)
	r.IncrCounter("events_delivered", 2)

	f := gather(t, r, "sentryd_events_delivered")
	require.NotNil(t, f)
	assert.Equal(t, float64(3), f.GetMetric()[0].GetCounter().GetValue())
}

func TestSetGaugeRegistersAndOverwrites(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("live_processes", 5)
	r.SetGauge("live_processes", 9)

	f := gather(t, r, "sentryd_live_processes")
	require.NotNil(t, f)
	assert.Equal(t, float64(9), f.GetMetric()[0].GetGauge().GetValue())
}

func TestAddSampleRegistersHistogram(t *testing.T) {
	r := NewRegistry()
	r.AddSample("dispatch_latency_ms", 1.5)

	f := gather(t, r, "sentryd_dispatch_latency_ms")
	require.NotNil(t, f)
	assert.EqualValues(t, 1, f.GetMetric()[0].GetHistogram().GetSampleCount())
}
