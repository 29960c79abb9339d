package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveDispatch("ringtone", "ok", 3*time.Millisecond)
	pr.ObserveDispatch("ringtone", "invalid_value", time.Millisecond)
	pr.IncRestore("wallpaper", ResultFailed)
	pr.IncConsistencyCheck("wallpaper", false)
	pr.IncModeTransition("Phone", "Brick")
	pr.IncHardwareEvent("entry", true)
	pr.SetMode("Brick")
	pr.IncErase("media", ResultSuccess)

	assert.InDelta(t, 1, counterValue(t, pr.dispatchResults.WithLabelValues("ringtone", "ok")), 0)
	assert.InDelta(t, 1, gaugeValue(t, pr.mode.WithLabelValues("Brick")), 0)
	assert.InDelta(t, 0, gaugeValue(t, pr.mode.WithLabelValues("Phone")), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func counterValue(t *testing.T, c prom.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prom.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveDispatch("k", "ok", time.Millisecond)
	pr.SetMode("Phone")
	pr.IncErase("var", ResultFailed)
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncModeTransition("Unknown", "Phone")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prefsd_storage_mode_transitions_total")
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)
