// Package metrics collects scalar measurements logged during a run and
// groups them into per-metric series for the observers.
package metrics

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// ErrMetricDependency is returned when a metric names a dependency that was
// never logged, or changes the dependencies it was first logged with.
var ErrMetricDependency = errors.New("invalid metric dependency")

// ScalarEntry is a single logged measurement.
type ScalarEntry struct {
	Name      string    `json:"name" yaml:"name"`
	Step      float64   `json:"step" yaml:"step"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Value     any       `json:"value" yaml:"value"`
	DependsOn []string  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Logger queues scalar measurements until they are drained. It is safe for
// concurrent use.
type Logger struct {
	mu       sync.Mutex
	queue    []ScalarEntry
	lastStep map[string]float64
	deps     map[string][]string
	now      func() time.Time
}

// NewLogger creates an empty metrics logger.
func NewLogger() *Logger {
	return &Logger{
		lastStep: make(map[string]float64),
		deps:     make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// LogScalar queues a measurement of name. When step is nil the metric's
// own counter is used: 0 for the first measurement, then one more than
// the previous step. Value may be a number or a Quantity.
func (l *Logger) LogScalar(name string, value any, step *float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enqueue(name, value, step, nil)
}

// LogDependentScalar is LogScalar for a metric measured against other
// metrics. Every dependency must already have been logged, and the set is
// fixed by the first call for name.
func (l *Logger) LogDependentScalar(name string, value any, step *float64, dependsOn ...string) error {
	deps := slices.Clone(dependsOn)
	sort.Strings(deps)
	deps = slices.Compact(deps)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, dep := range deps {
		if _, ok := l.lastStep[dep]; !ok {
			return fmt.Errorf("%w: %s depends on unknown metric %s", ErrMetricDependency, name, dep)
		}
	}
	if _, logged := l.lastStep[name]; logged && !slices.Equal(l.deps[name], deps) {
		return fmt.Errorf("%w: %s was logged with dependencies %v, got %v", ErrMetricDependency, name, l.deps[name], deps)
	}

	l.enqueue(name, value, step, deps)
	return nil
}

func (l *Logger) enqueue(name string, value any, step *float64, deps []string) {
	var s float64
	if step != nil {
		s = *step
	} else if last, ok := l.lastStep[name]; ok {
		s = last + 1
	}

	if _, logged := l.lastStep[name]; !logged {
		l.deps[name] = deps
	}
	l.queue = append(l.queue, ScalarEntry{
		Name:      name,
		Step:      s,
		Timestamp: l.now(),
		Value:     value,
		DependsOn: l.deps[name],
	})
	l.lastStep[name] = s
}

// Drain returns every queued measurement in logging order and empties the
// queue. Step counters are kept.
func (l *Logger) Drain() []ScalarEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.queue
	l.queue = nil
	return entries
}

// Pending returns the number of queued measurements.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
