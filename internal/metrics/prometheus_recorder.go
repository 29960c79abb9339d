package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "prefsd"

// knownModes is the label set for the mode gauge.
var knownModes = []string{"Unknown", "Phone", "Brick"}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	dispatchDuration  *prom.HistogramVec
	dispatchResults   *prom.CounterVec
	restoreResults    *prom.CounterVec
	consistencyChecks *prom.CounterVec
	modeTransitions   *prom.CounterVec
	hardwareEvents    *prom.CounterVec
	mode              *prom.GaugeVec
	eraseResults      *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.dispatchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of preference set requests",
			Buckets:   prom.DefBuckets,
		}, []string{"key"})
		pr.dispatchResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_results_total",
			Help:      "Preference set requests by key and result code",
		}, []string{"key", "code"})
		pr.restoreResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "restore_results_total",
			Help:      "Restore-to-default attempts by key and result",
		}, []string{"key", "result"})
		pr.consistencyChecks = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_checks_total",
			Help:      "Consistency checks by key and outcome",
		}, []string{"key", "consistent"})
		pr.modeTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "storage_mode_transitions_total",
			Help:      "Storage-mode transitions",
		}, []string{"from", "to"})
		pr.hardwareEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hardware_events_total",
			Help:      "Hardware events received by kind and whether they parsed",
		}, []string{"kind", "accepted"})
		pr.mode = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_mode",
			Help:      "1 for the current storage mode, 0 otherwise",
		}, []string{"mode"})
		pr.eraseResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "erase_results_total",
			Help:      "Erase requests by type and result",
		}, []string{"type", "result"})
		reg.MustRegister(pr.dispatchDuration, pr.dispatchResults, pr.restoreResults, pr.consistencyChecks,
			pr.modeTransitions, pr.hardwareEvents, pr.mode, pr.eraseResults)
	})
	return pr
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (p *PrometheusRecorder) ObserveDispatch(key, code string, d time.Duration) {
	if p == nil || p.dispatchDuration == nil {
		return
	}
	p.dispatchDuration.WithLabelValues(key).Observe(d.Seconds())
	p.dispatchResults.WithLabelValues(key, code).Inc()
}

func (p *PrometheusRecorder) IncRestore(key string, result ResultLabel) {
	if p == nil || p.restoreResults == nil {
		return
	}
	p.restoreResults.WithLabelValues(key, string(result)).Inc()
}

func (p *PrometheusRecorder) IncConsistencyCheck(key string, consistent bool) {
	if p == nil || p.consistencyChecks == nil {
		return
	}
	p.consistencyChecks.WithLabelValues(key, boolLabel(consistent)).Inc()
}

func (p *PrometheusRecorder) IncModeTransition(from, to string) {
	if p == nil || p.modeTransitions == nil {
		return
	}
	p.modeTransitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncHardwareEvent(kind string, accepted bool) {
	if p == nil || p.hardwareEvents == nil {
		return
	}
	p.hardwareEvents.WithLabelValues(kind, boolLabel(accepted)).Inc()
}

func (p *PrometheusRecorder) SetMode(mode string) {
	if p == nil || p.mode == nil {
		return
	}
	for _, m := range knownModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		p.mode.WithLabelValues(m).Set(v)
	}
}

func (p *PrometheusRecorder) IncErase(kind string, result ResultLabel) {
	if p == nil || p.eraseResults == nil {
		return
	}
	p.eraseResults.WithLabelValues(kind, string(result)).Inc()
}
