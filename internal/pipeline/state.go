package pipeline

import (
	"time"

	"btcgold-correlation/internal/storage"
)

// State is a position in the run state machine.
type State string

const (
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateStoring     State = "STORING"
	StateAggregating State = "AGGREGATING"
	StateRendering   State = "RENDERING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// logName maps a working state to its stage log file.
func (s State) logName() string {
	switch s {
	case StateFetching:
		return "fetch"
	case StateNormalizing:
		return "normalize"
	case StateStoring:
		return "store"
	case StateAggregating:
		return "aggregate"
	case StateRendering:
		return "render"
	default:
		return "pipeline"
	}
}

// Task is a retry unit. Retrying a task never re-runs an earlier one.
type Task string

const (
	TaskIngest    Task = "ingest"
	TaskAggregate Task = "aggregate"
	TaskRender    Task = "render"
)

// Tasks lists every task in run order.
var Tasks = []Task{TaskIngest, TaskAggregate, TaskRender}

// ParseTask resolves a task name.
func ParseTask(name string) (Task, bool) {
	for _, t := range Tasks {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// RunReport summarises one run.
type RunReport struct {
	RunID       string
	Owner       string
	State       State
	Stage       State
	Attempts    map[Task]int
	Observation *storage.Observation
	Result      *storage.CorrelationResult
	Err         error
	Skipped     bool
	Started     time.Time
	Finished    time.Time
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
