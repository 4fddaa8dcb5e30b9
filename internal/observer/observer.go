// Package observer records run lifecycle events into the run store.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/Gracecr/sacred/internal/state"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/google/uuid"
)

// maxTokenAttempts bounds how often a generated run token is redrawn after
// colliding with an existing run.
const maxTokenAttempts = 5

// SQLObserver persists the events of one run at a time through a shared
// session. It never commits or rolls back the session.
type SQLObserver struct {
	store    *state.Store
	session  *state.Session
	logger   *slog.Logger
	priority int
	newToken func() string

	runID int64
	token string
}

var _ core.RunObserver = (*SQLObserver)(nil)

// Option configures an SQLObserver.
type Option func(*SQLObserver)

// WithLogger sets the observer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *SQLObserver) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPriority sets the observer's dispatch priority.
func WithPriority(p int) Option {
	return func(o *SQLObserver) { o.priority = p }
}

// WithTokenGenerator replaces the generator used for runs started without
// a token.
func WithTokenGenerator(gen func() string) Option {
	return func(o *SQLObserver) { o.newToken = gen }
}

// New creates an observer bound to session and the store it belongs to.
func New(session *state.Session, opts ...Option) *SQLObserver {
	o := &SQLObserver{
		store:    session.Store(),
		session:  session,
		logger:   slog.New(slog.DiscardHandler),
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Equal reports whether other is an SQLObserver bound to the same store
// and session.
func (o *SQLObserver) Equal(other any) bool {
	so, ok := other.(*SQLObserver)
	if !ok || so == nil {
		return false
	}
	return o.store == so.store && o.session == so.session
}

// Token returns the token of the active run, or "" before a run starts.
func (o *SQLObserver) Token() string {
	return o.token
}

// Priority implements core.RunObserver.
func (o *SQLObserver) Priority() int {
	return o.priority
}

// QueuedEvent does not persist anything; queued runs are only recorded once
// they start.
func (o *SQLObserver) QueuedEvent(_ context.Context, ev core.QueuedEvent) (string, error) {
	return ev.Token, nil
}

// StartedEvent registers the host and experiment and creates the run. A
// token is generated when ev.Token is empty. The observer then tracks the
// new run for all further events.
func (o *SQLObserver) StartedEvent(ctx context.Context, ev core.StartedEvent) (string, error) {
	host, err := o.session.GetOrCreateHost(ctx, ev.HostInfo)
	if err != nil {
		return "", err
	}
	exp, err := o.session.GetOrCreateExperiment(ctx, ev.ExperimentInfo)
	if err != nil {
		return "", err
	}

	token := ev.Token
	if token == "" {
		if token, err = o.generateToken(ctx); err != nil {
			return "", err
		}
	}

	config := "{}"
	if len(ev.Config) > 0 {
		b, err := json.Marshal(ev.Config)
		if err != nil {
			return "", fmt.Errorf("failed to encode config: %w", err)
		}
		config = string(b)
	}

	run := &core.Run{
		Token:        token,
		Command:      ev.Command,
		Status:       core.RunStatusRunning,
		StartTime:    ev.StartTime,
		Priority:     ev.MetaInfo.Priority,
		Comment:      ev.MetaInfo.Comment,
		Config:       config,
		HostID:       host.ID,
		ExperimentID: exp.ID,
	}
	if err := o.session.CreateRun(ctx, run); err != nil {
		return "", err
	}

	o.runID = run.ID
	o.token = token
	o.logger.Info("run started",
		slog.String("run_token", token),
		slog.String("experiment", exp.Name),
		slog.String("command", ev.Command),
	)
	return token, nil
}

// Resume tracks the existing run with token for all further events.
func (o *SQLObserver) Resume(ctx context.Context, token string, _ time.Time) error {
	run, err := o.session.GetRun(ctx, token)
	if err != nil {
		return err
	}
	o.runID = run.ID
	o.token = run.Token
	o.logger.Info("run resumed", slog.String("run_token", token))
	return nil
}

func (o *SQLObserver) generateToken(ctx context.Context) (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token := o.newToken()
		exists, err := o.session.RunExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
		o.logger.Debug("generated run token collided", slog.String("run_token", token))
	}
	return "", fmt.Errorf("failed to generate a unique run token after %d attempts", maxTokenAttempts)
}

func (o *SQLObserver) activeRun() (int64, error) {
	if o.token == "" {
		return 0, core.ErrNoActiveRun
	}
	return o.runID, nil
}

// HeartbeatEvent stores the heartbeat time, info and result, and appends
// the captured output chunk.
func (o *SQLObserver) HeartbeatEvent(ctx context.Context, ev core.HeartbeatEvent) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}

	info := "{}"
	if len(ev.Info) > 0 {
		b, err := json.Marshal(ev.Info)
		if err != nil {
			return fmt.Errorf("failed to encode info: %w", err)
		}
		info = string(b)
	}

	return o.session.RecordHeartbeat(ctx, runID, state.Heartbeat{
		Time:        ev.BeatTime,
		Info:        info,
		CapturedOut: ev.CapturedOut,
		Result:      ev.Result,
	})
}

// CompletedEvent marks the run COMPLETED.
func (o *SQLObserver) CompletedEvent(ctx context.Context, ev core.CompletedEvent) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}
	if err := o.session.CompleteRun(ctx, runID, ev.StopTime, ev.Result); err != nil {
		return err
	}
	o.logger.Info("run completed", slog.String("run_token", o.token))
	return nil
}

// InterruptedEvent marks the run INTERRUPTED or TIMEOUT.
func (o *SQLObserver) InterruptedEvent(ctx context.Context, ev core.InterruptedEvent) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}
	if err := o.session.InterruptRun(ctx, runID, ev.Status, ev.InterruptTime); err != nil {
		return err
	}
	o.logger.Info("run interrupted", slog.String("run_token", o.token), slog.String("status", string(ev.Status)))
	return nil
}

// FailedEvent marks the run FAILED and stores the trace lines joined by
// newlines.
func (o *SQLObserver) FailedEvent(ctx context.Context, ev core.FailedEvent) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}
	if err := o.session.FailRun(ctx, runID, ev.FailTime, strings.Join(ev.FailTrace, "\n")); err != nil {
		return err
	}
	o.logger.Info("run failed", slog.String("run_token", o.token))
	return nil
}

// ResourceEvent stores the file (once per content) and links it to the run.
func (o *SQLObserver) ResourceEvent(ctx context.Context, filename string) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}
	res, err := o.session.GetOrCreateResource(ctx, filename)
	if err != nil {
		return err
	}
	return o.session.AddRunResource(ctx, runID, res.ID)
}

// ArtifactEvent stores the file content as an artifact of the run.
func (o *SQLObserver) ArtifactEvent(ctx context.Context, ev core.ArtifactEvent) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}
	_, err = o.session.CreateArtifact(ctx, runID, ev.Name, ev.Filename, ev.ContentType, ev.Metadata)
	return err
}

// LogMetrics appends one batch of metric series to the run.
func (o *SQLObserver) LogMetrics(ctx context.Context, metrics map[string]core.MetricSeries, _ map[string]any) error {
	runID, err := o.activeRun()
	if err != nil {
		return err
	}
	return o.session.AppendMetrics(ctx, runID, metrics)
}

// Join has nothing to flush; writes are visible once the session commits.
func (o *SQLObserver) Join(context.Context) error {
	return nil
}

// LocalHost describes the machine the process runs on.
func LocalHost() core.HostInfo {
	hostname, _ := os.Hostname()
	return core.HostInfo{
		Hostname:       hostname,
		CPU:            fmt.Sprintf("%s (%d cores)", runtime.GOARCH, runtime.NumCPU()),
		OS:             runtime.GOOS,
		OSInfo:         runtime.GOOS + "-" + runtime.GOARCH,
		RuntimeVersion: runtime.Version(),
	}
}
