// Package testrail reports run outcomes to a TestRail test-management
// instance as results of a single test case.
package testrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Gracecr/sacred/pkg/core"
)

// TestRail result status ids.
const (
	StatusPassed = 1
	StatusFailed = 5
)

// ErrNotStarted is returned when a terminal event arrives before started.
var ErrNotStarted = errors.New("run not started")

// Run is the subset of a TestRail run the observer needs.
type Run struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// Result is a test result posted for a case.
type Result struct {
	StatusID     int            `json:"status_id"`
	Elapsed      string         `json:"elapsed"`
	AssignedToID int            `json:"assignedto_id"`
	Fields       map[string]any `json:"-"`
}

// Client is the part of the TestRail API used by the observer.
type Client interface {
	CurrentUserID(ctx context.Context) (int, error)
	GetRun(ctx context.Context, runID int) (Run, error)
	AddRun(ctx context.Context, projectID int) (Run, error)
	AddResultForCase(ctx context.Context, runID, caseID int, result Result) (int, error)
	AddAttachmentToResult(ctx context.Context, resultID int, path string) error
}

// Config selects where results are posted.
type Config struct {
	ProjectID int
	CaseID    int
	// RunID continues an existing run when non-zero; otherwise a new run is
	// added to the project for every result.
	RunID int
	// StoreFiles uploads resources and artifacts as result attachments.
	StoreFiles bool
	// ResultFields returns extra fields merged into every result.
	ResultFields func() map[string]any
}

// Observer posts one TestRail result when a run ends.
type Observer struct {
	core.NopObserver

	client Client
	cfg    Config
	logger *slog.Logger
	userID int

	mu          sync.Mutex
	startTime   time.Time
	started     bool
	attachments []string
}

var _ core.RunObserver = (*Observer)(nil)

// New creates an observer and resolves the current user, who is assigned
// every posted result.
func New(ctx context.Context, client Client, cfg Config, logger *slog.Logger) (*Observer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ResultFields == nil {
		cfg.ResultFields = func() map[string]any { return nil }
	}
	userID, err := client.CurrentUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current testrail user: %w", err)
	}
	return &Observer{
		client: client,
		cfg:    cfg,
		logger: logger,
		userID: userID,
	}, nil
}

// StartedEvent records the start time.
func (o *Observer) StartedEvent(_ context.Context, ev core.StartedEvent) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startTime = ev.StartTime
	o.started = true
	return ev.Token, nil
}

// Resume records the start time of a run started by an earlier replay.
func (o *Observer) Resume(_ context.Context, _ string, start time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startTime = start
	o.started = true
	return nil
}

// CompletedEvent posts a passed result.
func (o *Observer) CompletedEvent(ctx context.Context, ev core.CompletedEvent) error {
	return o.upload(ctx, StatusPassed, ev.StopTime)
}

// InterruptedEvent posts a failed result.
func (o *Observer) InterruptedEvent(ctx context.Context, ev core.InterruptedEvent) error {
	return o.upload(ctx, StatusFailed, ev.InterruptTime)
}

// FailedEvent posts a failed result.
func (o *Observer) FailedEvent(ctx context.Context, ev core.FailedEvent) error {
	return o.upload(ctx, StatusFailed, ev.FailTime)
}

// ResourceEvent queues filename for upload.
func (o *Observer) ResourceEvent(_ context.Context, filename string) error {
	o.addAttachment(filename)
	return nil
}

// ArtifactEvent queues the artifact file for upload.
func (o *Observer) ArtifactEvent(_ context.Context, ev core.ArtifactEvent) error {
	o.addAttachment(ev.Filename)
	return nil
}

func (o *Observer) addAttachment(path string) {
	o.mu.Lock()
	o.attachments = append(o.attachments, path)
	o.mu.Unlock()
}

func (o *Observer) run(ctx context.Context) (Run, error) {
	if o.cfg.RunID != 0 {
		run, err := o.client.GetRun(ctx, o.cfg.RunID)
		if err != nil {
			return Run{}, fmt.Errorf("testrail run %d does not exist: %w", o.cfg.RunID, err)
		}
		return run, nil
	}
	run, err := o.client.AddRun(ctx, o.cfg.ProjectID)
	if err != nil {
		return Run{}, fmt.Errorf("failed to add testrail run: %w", err)
	}
	return run, nil
}

func (o *Observer) upload(ctx context.Context, status int, end time.Time) error {
	o.mu.Lock()
	started, start := o.started, o.startTime
	attachments := append([]string(nil), o.attachments...)
	o.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	run, err := o.run(ctx)
	if err != nil {
		return err
	}

	result := Result{
		StatusID:     status,
		Elapsed:      Elapsed(start, end),
		AssignedToID: o.userID,
		Fields:       o.cfg.ResultFields(),
	}
	resultID, err := o.client.AddResultForCase(ctx, run.ID, o.cfg.CaseID, result)
	if err != nil {
		return fmt.Errorf("failed to add testrail result: %w", err)
	}
	o.logger.Info("posted testrail result",
		slog.Int("run_id", run.ID),
		slog.Int("case_id", o.cfg.CaseID),
		slog.Int("status_id", status),
	)

	if !o.cfg.StoreFiles {
		return nil
	}
	for _, path := range attachments {
		if err := o.client.AddAttachmentToResult(ctx, resultID, path); err != nil {
			return fmt.Errorf("failed to attach %s: %w", path, err)
		}
	}
	return nil
}

// Elapsed formats the whole seconds between start and end as TestRail
// expects them. TestRail rejects "0s", so the minimum is one second.
func Elapsed(start, end time.Time) string {
	secs := int64(end.Sub(start) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}
