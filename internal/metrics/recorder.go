// Package metrics provides the observability hooks for task and sync
// activity. Components receive a Recorder through dependency injection and
// default to NoopRecorder, so metrics can be activated by swapping in the
// Prometheus implementation without code changes.
package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for task and sync metrics. All
// methods must be safe on a NoopRecorder so injection stays optional.
type Recorder interface {
	IncTaskTransition(taskType, state string)
	ObserveTaskDuration(taskType string, d time.Duration)
	IncSyncStageResult(stage string, result ResultLabel)
	SetSyncsInFlight(server string, n int)
	SetServerHealth(server string, health string)
	IncClientRetry(server string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) IncTaskTransition(string, string)          {}
func (NoopRecorder) ObserveTaskDuration(string, time.Duration) {}
func (NoopRecorder) IncSyncStageResult(string, ResultLabel)    {}
func (NoopRecorder) SetSyncsInFlight(string, int)              {}
func (NoopRecorder) SetServerHealth(string, string)            {}
func (NoopRecorder) IncClientRetry(string)                     {}
