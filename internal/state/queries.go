package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Gracecr/sacred/pkg/core"
)

const defaultListLimit = 50

// GetRun returns the read projection of a run.
func (s *Store) GetRun(ctx context.Context, token string) (*core.RunDocument, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	return r.LoadRun(ctx, token)
}

// MetricSeries returns every metric of a run with its samples.
func (s *Store) MetricSeries(ctx context.Context, token string) ([]core.MetricDocument, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	run, err := r.GetRun(ctx, token)
	if err != nil {
		return nil, err
	}
	return r.LoadMetrics(ctx, run.ID)
}

// Artifact returns an artifact with its content.
func (s *Store) Artifact(ctx context.Context, id int64) (*core.Artifact, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	return r.GetArtifact(ctx, id)
}

// Stats returns row counts for every entity kind.
func (s *Store) Stats(ctx context.Context) (*core.StoreStats, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	return r.Stats(ctx)
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.RunSummary, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	return r.ListRuns(ctx, filter)
}

// Stats returns row counts for every entity kind as seen by the session.
func (s *Session) Stats(ctx context.Context) (*core.StoreStats, error) {
	stats := &core.StoreStats{}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"runs", &stats.Runs},
		{"experiments", &stats.Experiments},
		{"sources", &stats.Sources},
		{"resources", &stats.Resources},
		{"hosts", &stats.Hosts},
		{"repositories", &stats.Repositories},
		{"dependencies", &stats.Dependencies},
		{"artifacts", &stats.Artifacts},
		{"metrics", &stats.Metrics},
	}
	for _, c := range counts {
		n, err := s.count(ctx, c.table)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return stats, nil
}

// ListRuns returns run summaries matching filter, newest first.
func (s *Session) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Experiment != "" {
		where = append(where, "e.name = ?")
		args = append(args, filter.Experiment)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT r.run_id, e.name, r.command, r.status, h.hostname, r.start_time, r.stop_time, r.result
		FROM runs r
		JOIN experiments e ON e.id = r.experiment_id
		JOIN hosts h ON h.id = r.host_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY r.start_time DESC, r.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []core.RunSummary
	for rows.Next() {
		var (
			sum    core.RunSummary
			status string
			stop   sql.NullTime
			result sql.NullFloat64
		)
		if err := rows.Scan(&sum.Token, &sum.Experiment, &sum.Command, &status, &sum.Hostname,
			&sum.StartTime, &stop, &result); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.Status = core.RunStatus(status)
		sum.StartTime = sum.StartTime.UTC()
		sum.StopTime = timePtr(stop)
		if result.Valid {
			sum.Result = &result.Float64
		}
		runs = append(runs, sum)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return runs, nil
}
