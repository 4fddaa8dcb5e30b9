package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Gracecr/sacred/pkg/core"
)

const runColumns = `id, run_id, command, status, start_time, queue_time, heartbeat, stop_time,
	priority, comment, result, fail_trace, captured_out, config, info, host_id, experiment_id`

// CreateRun inserts run in the RUNNING state and sets run.ID. It fails if
// run.Token is already taken.
func (s *Session) CreateRun(ctx context.Context, run *core.Run) error {
	if run.Token == "" {
		return fmt.Errorf("run token must not be empty")
	}
	if run.Status == "" {
		run.Status = core.RunStatusRunning
	}
	if run.Config == "" {
		run.Config = "{}"
	}
	if run.Info == "" {
		run.Info = "{}"
	}

	s.logger.Debug("creating run", slog.String("run_token", run.Token), slog.Int64("experiment_id", run.ExperimentID))

	err := s.queryRow(ctx, `
		INSERT INTO runs (run_id, command, status, start_time, queue_time, priority, comment,
			config, info, host_id, experiment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		run.Token, run.Command, string(run.Status), run.StartTime.UTC(), utcPtr(run.QueueTime),
		run.Priority, run.Comment, run.Config, run.Info, run.HostID, run.ExperimentID,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RunExists reports whether a run with token exists.
func (s *Session) RunExists(ctx context.Context, token string) (bool, error) {
	_, found, err := s.lookupID(ctx, `SELECT id FROM runs WHERE run_id = ?`, token)
	if err != nil {
		return false, fmt.Errorf("failed to look up run: %w", err)
	}
	return found, nil
}

// GetRun retrieves a run by token.
func (s *Session) GetRun(ctx context.Context, token string) (*core.Run, error) {
	row := s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, token)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Heartbeat records a heartbeat. The captured output chunk is appended to
// what is already stored; info and result replace the stored values.
type Heartbeat struct {
	Time        time.Time
	Info        string
	CapturedOut string
	Result      *float64
}

// RecordHeartbeat applies hb to the run with row id runID.
func (s *Session) RecordHeartbeat(ctx context.Context, runID int64, hb Heartbeat) error {
	if hb.Info == "" {
		hb.Info = "{}"
	}

	res, err := s.exec(ctx, `
		UPDATE runs
		SET heartbeat = ?, info = ?, result = ?, captured_out = captured_out || ?
		WHERE id = ?`,
		hb.Time.UTC(), hb.Info, hb.Result, hb.CapturedOut, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return expectRow(res, runID)
}

// CompleteRun moves a running run to COMPLETED.
func (s *Session) CompleteRun(ctx context.Context, runID int64, stop time.Time, result *float64) error {
	res, err := s.exec(ctx, `
		UPDATE runs SET status = ?, stop_time = ?, result = ?
		WHERE id = ? AND status = ?`,
		string(core.RunStatusCompleted), stop.UTC(), result, runID, string(core.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return s.checkTransition(ctx, res, runID)
}

// InterruptRun moves a running run to INTERRUPTED or TIMEOUT.
func (s *Session) InterruptRun(ctx context.Context, runID int64, status core.RunStatus, stop time.Time) error {
	if status != core.RunStatusInterrupted && status != core.RunStatusTimeout {
		return fmt.Errorf("%w: %q is not an interruption", core.ErrInvalidStatus, status)
	}

	res, err := s.exec(ctx, `
		UPDATE runs SET status = ?, stop_time = ?
		WHERE id = ? AND status = ?`,
		string(status), stop.UTC(), runID, string(core.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to interrupt run: %w", err)
	}
	return s.checkTransition(ctx, res, runID)
}

// FailRun moves a running run to FAILED and stores its trace.
func (s *Session) FailRun(ctx context.Context, runID int64, stop time.Time, trace string) error {
	res, err := s.exec(ctx, `
		UPDATE runs SET status = ?, stop_time = ?, fail_trace = ?
		WHERE id = ? AND status = ?`,
		string(core.RunStatusFailed), stop.UTC(), trace, runID, string(core.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return s.checkTransition(ctx, res, runID)
}

// DeleteRun removes a run. Its artifacts, metrics and resource links go
// with it; shared sources, resources and dimensions stay.
func (s *Session) DeleteRun(ctx context.Context, token string) error {
	s.logger.Debug("deleting run", slog.String("run_token", token))

	res, err := s.exec(ctx, `DELETE FROM runs WHERE run_id = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, token)
	}
	return nil
}

// checkTransition explains why a guarded status update matched no row.
func (s *Session) checkTransition(ctx context.Context, res sql.Result, runID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.queryRow(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", core.ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to get run status: %w", err)
	}
	return fmt.Errorf("%w: status is %s", core.ErrRunFinished, status)
}

func expectRow(res sql.Result, runID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", core.ErrRunNotFound, runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run       core.Run
		status    string
		queueTime sql.NullTime
		heartbeat sql.NullTime
		stopTime  sql.NullTime
		result    sql.NullFloat64
	)
	err := row.Scan(&run.ID, &run.Token, &run.Command, &status, &run.StartTime, &queueTime,
		&heartbeat, &stopTime, &run.Priority, &run.Comment, &result, &run.FailTrace,
		&run.CapturedOut, &run.Config, &run.Info, &run.HostID, &run.ExperimentID)
	if err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	run.QueueTime = timePtr(queueTime)
	run.Heartbeat = timePtr(heartbeat)
	run.StopTime = timePtr(stopTime)
	if result.Valid {
		run.Result = &result.Float64
	}
	return &run, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
