package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/errors"
)

func gathered(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterCounter("svc", "c", prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})))
	require.NoError(t, registry.RegisterGauge("svc", "g", prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})))
	require.NoError(t, registry.RegisterHistogram("svc", "h", prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})))

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"l"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"l"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"l"})
	require.NoError(t, registry.RegisterCounterVec("svc", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("svc", "hv", hv))

	cv.WithLabelValues("x").Inc()
	gv.WithLabelValues("x").Set(1)
	hv.WithLabelValues("x").Observe(1)

	names := gathered(t, registry)
	for _, n := range []string{"test_counter", "test_gauge", "test_histogram", "test_counter_vec", "test_gauge_vec", "test_histogram_vec"} {
		assert.True(t, names[n], n)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "d"})
	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	err := registry.RegisterCounter("svc", "dup", first)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same prometheus name under another key conflicts in prometheus itself.
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "d"})
	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gone_gauge", Help: "g"})
	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.False(t, gathered(t, registry)["gone_gauge"])

	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge), "re-registration after unregister")
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			assert.NoError(t, registry.RegisterCounter("svc", name, c))
		}(i)
	}
	wg.Wait()

	names := gathered(t, registry)
	for i := 0; i < 20; i++ {
		assert.True(t, names[fmt.Sprintf("concurrent_%d", i)])
	}
}

func TestMetrics_RecordMethods(t *testing.T) {
	m := NewMetricsRegistry().CoreMetrics()

	m.RecordRequest("get", nil, 10*time.Millisecond)
	m.RecordRequest("get", errors.ErrTimeout, time.Second)
	m.RecordHandled("set", "")
	m.RecordHandled("set", "InvalidValue")
	m.RecordNoticePublished("notify")
	m.RecordNoticeReceived("add")
	m.RecordPublishError()
	m.SetPending(3)
	m.SetLocalElements(7)
	m.SetRemoteProxies(2)
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsSent.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsSent.WithLabelValues("get", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsHandled.WithLabelValues("set", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsHandled.WithLabelValues("set", "InvalidValue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoticesPublished.WithLabelValues("notify")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoticesReceived.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingRequests))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.LocalElements))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RemoteProxies))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSCircuitBreaker))
}

func TestServer_ServesRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordNoticePublished("add")

	server := NewServer("127.0.0.1:0", "", registry)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	assert.Error(t, server.Start(), "second start is rejected")

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "vbus_notices_published_total"))
}
