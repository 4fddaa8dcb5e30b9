package core

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning     RunStatus = "RUNNING"
	RunStatusCompleted   RunStatus = "COMPLETED"
	RunStatusInterrupted RunStatus = "INTERRUPTED"
	RunStatusTimeout     RunStatus = "TIMEOUT"
	RunStatusFailed      RunStatus = "FAILED"
)

// AllRunStatuses lists every status in lifecycle order.
var AllRunStatuses = []RunStatus{
	RunStatusRunning,
	RunStatusCompleted,
	RunStatusInterrupted,
	RunStatusTimeout,
	RunStatusFailed,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusInterrupted, RunStatusTimeout, RunStatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	for _, known := range AllRunStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Run is the persisted record of one execution of an experiment.
type Run struct {
	ID           int64 // row id, internal to the store
	Token        string
	Command      string
	Status       RunStatus
	StartTime    time.Time
	QueueTime    *time.Time
	Heartbeat    *time.Time
	StopTime     *time.Time
	Priority     float64
	Comment      string
	Result       *float64
	FailTrace    string
	CapturedOut  string
	Config       string // JSON text
	Info         string // JSON text
	HostID       int64
	ExperimentID int64
}

// RunSummary is a single row of a run listing.
type RunSummary struct {
	Token      string     `json:"run_token"`
	Experiment string     `json:"experiment"`
	Command    string     `json:"command"`
	Status     RunStatus  `json:"status"`
	Hostname   string     `json:"hostname"`
	StartTime  time.Time  `json:"start_time"`
	StopTime   *time.Time `json:"stop_time"`
	Result     *float64   `json:"result"`
}

// Duration returns how long the run took, or has been running so far.
func (r RunSummary) Duration(now time.Time) time.Duration {
	if r.StopTime != nil {
		return r.StopTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}

// RunFilter narrows a run listing. Zero values match everything.
type RunFilter struct {
	Status     RunStatus
	Experiment string
	Limit      int
}

// StoreStats holds row counts for each entity kind.
type StoreStats struct {
	Runs         int64 `json:"runs"`
	Experiments  int64 `json:"experiments"`
	Sources      int64 `json:"sources"`
	Resources    int64 `json:"resources"`
	Hosts        int64 `json:"hosts"`
	Repositories int64 `json:"repositories"`
	Dependencies int64 `json:"dependencies"`
	Artifacts    int64 `json:"artifacts"`
	Metrics      int64 `json:"metrics"`
}

// MarshalJSON encodes the summary, including a non-finite result.
func (r RunSummary) MarshalJSON() ([]byte, error) {
	type plain RunSummary
	return json.Marshal(struct {
		plain
		Result *jsonNumber `json:"result"`
	}{plain(r), jsonNumberPtr(r.Result)})
}
