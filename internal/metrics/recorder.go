package metrics

import "time"

// ResultLabel enumerates operation outcomes used as counter labels.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultPartial ResultLabel = "partial"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for the preference daemon.
type Recorder interface {
	// ObserveDispatch records one set request; code is "ok" or an error category.
	ObserveDispatch(key, code string, d time.Duration)
	IncRestore(key string, result ResultLabel)
	IncConsistencyCheck(key string, consistent bool)
	IncModeTransition(from, to string)
	IncHardwareEvent(kind string, accepted bool)
	SetMode(mode string)
	IncErase(kind string, result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveDispatch(string, string, time.Duration) {}
func (NoopRecorder) IncRestore(string, ResultLabel)                {}
func (NoopRecorder) IncConsistencyCheck(string, bool)              {}
func (NoopRecorder) IncModeTransition(string, string)              {}
func (NoopRecorder) IncHardwareEvent(string, bool)                 {}
func (NoopRecorder) SetMode(string)                                {}
func (NoopRecorder) IncErase(string, ResultLabel)                  {}
