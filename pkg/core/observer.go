package core

import (
	"context"
	"time"
)

// QueuedEvent is emitted when a run is queued but not yet started.
type QueuedEvent struct {
	ExperimentInfo ExperimentInfo
	Command        string
	HostInfo       HostInfo
	QueueTime      time.Time
	Config         map[string]any
	MetaInfo       MetaInfo
	Token          string
}

// StartedEvent is emitted once when a run begins executing.
type StartedEvent struct {
	ExperimentInfo ExperimentInfo
	Command        string
	HostInfo       HostInfo
	StartTime      time.Time
	Config         map[string]any
	MetaInfo       MetaInfo
	Token          string
}

// MetaInfo carries free-form run annotations.
type MetaInfo struct {
	Comment  string  `json:"comment"`
	Priority float64 `json:"priority"`
}

// HeartbeatEvent is emitted periodically while a run executes.
type HeartbeatEvent struct {
	Info        map[string]any
	CapturedOut string
	BeatTime    time.Time
	Result      *float64
}

// CompletedEvent is emitted when a run finishes successfully.
type CompletedEvent struct {
	StopTime time.Time
	Result   *float64
}

// InterruptedEvent is emitted when a run is stopped from outside.
// Status is INTERRUPTED or TIMEOUT.
type InterruptedEvent struct {
	InterruptTime time.Time
	Status        RunStatus
}

// FailedEvent is emitted when a run raises an error.
type FailedEvent struct {
	FailTime  time.Time
	FailTrace []string
}

// ArtifactEvent announces a file produced by the run.
type ArtifactEvent struct {
	Name        string
	Filename    string
	Metadata    map[string]any
	ContentType string
}

// RunObserver receives the lifecycle events of a single run. Events are
// delivered serially. QueuedEvent and StartedEvent return the run token the
// observer assigned, which may be generated when none was given.
type RunObserver interface {
	Priority() int
	QueuedEvent(ctx context.Context, ev QueuedEvent) (string, error)
	StartedEvent(ctx context.Context, ev StartedEvent) (string, error)
	HeartbeatEvent(ctx context.Context, ev HeartbeatEvent) error
	CompletedEvent(ctx context.Context, ev CompletedEvent) error
	InterruptedEvent(ctx context.Context, ev InterruptedEvent) error
	FailedEvent(ctx context.Context, ev FailedEvent) error
	ResourceEvent(ctx context.Context, filename string) error
	ArtifactEvent(ctx context.Context, ev ArtifactEvent) error
	LogMetrics(ctx context.Context, metrics map[string]MetricSeries, info map[string]any) error
	Join(ctx context.Context) error
}

// NopObserver implements RunObserver with no-ops. Embed it to implement only
// the events an observer cares about.
type NopObserver struct{}

var _ RunObserver = NopObserver{}

func (NopObserver) Priority() int { return 0 }

func (NopObserver) QueuedEvent(_ context.Context, ev QueuedEvent) (string, error) {
	return ev.Token, nil
}

func (NopObserver) StartedEvent(_ context.Context, ev StartedEvent) (string, error) {
	return ev.Token, nil
}

func (NopObserver) HeartbeatEvent(context.Context, HeartbeatEvent) error { return nil }

func (NopObserver) CompletedEvent(context.Context, CompletedEvent) error { return nil }

func (NopObserver) InterruptedEvent(context.Context, InterruptedEvent) error { return nil }

func (NopObserver) FailedEvent(context.Context, FailedEvent) error { return nil }

func (NopObserver) ResourceEvent(context.Context, string) error { return nil }

func (NopObserver) ArtifactEvent(context.Context, ArtifactEvent) error { return nil }

func (NopObserver) LogMetrics(context.Context, map[string]MetricSeries, map[string]any) error {
	return nil
}

func (NopObserver) Join(context.Context) error { return nil }
