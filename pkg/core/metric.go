package core

import "time"

// MetricSeries is one batch of samples for a named metric. Steps, Values
// and Timestamps are parallel: the same index describes the same sample.
type MetricSeries struct {
	Steps      []float64
	Values     []float64
	Timestamps []time.Time
	Units      string
	DependsOn  []string
}

// Len returns the number of samples in the series.
func (m MetricSeries) Len() int {
	return len(m.Steps)
}

// Aligned reports whether the three sample sequences have equal length.
func (m MetricSeries) Aligned() bool {
	return len(m.Steps) == len(m.Values) && len(m.Values) == len(m.Timestamps)
}

// Metric is a persisted metric row.
type Metric struct {
	ID    int64
	RunID int64
	Name  string
	Units string
}
