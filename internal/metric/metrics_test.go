package metric

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCycle(time.Millisecond, true)
		m.RecordReading("motion")
		m.RecordInference("calm", time.Microsecond)
		m.RecordPacket()
		m.RecordDelivery("short-range", time.Second)
		m.RecordFailure("exhausted")
		m.RecordRetry()
		m.SetQueueLength(3)
		m.SetChannelQuality("local-network", 80)
	})
}

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordCycle(10*time.Millisecond, false)
	m.RecordCycle(10*time.Millisecond, true)
	m.RecordDelivery("short-range", 20*time.Millisecond)
	m.RecordFailure("exhausted")
	m.RecordFailure("exhausted")
	m.SetQueueLength(4)
	m.SetChannelQuality("local-network", 77)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CycleErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("short-range")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Failures.WithLabelValues("exhausted")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueLength))
	assert.Equal(t, 77.0, testutil.ToFloat64(m.ChannelQuality.WithLabelValues("local-network")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordPacket()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "edge_agent_delivery_packets_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
