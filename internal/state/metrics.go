package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Gracecr/sacred/pkg/core"
)

// AppendMetrics appends one batch of series to the metrics of a run.
//
// A metric is created the first time its name is seen for the run; later
// batches append samples and replace the units and dependencies. Dependency
// names are resolved against the run's metrics that exist when the series
// is written; names that resolve to nothing are dropped. Metrics of one
// batch are written after the batch metrics they depend on.
//
// The whole batch is validated before anything is written. Non-finite
// values are stored; non-finite steps are rejected.
func (s *Session) AppendMetrics(ctx context.Context, runID int64, batch map[string]core.MetricSeries) error {
	for name, series := range batch {
		if !series.Aligned() {
			return fmt.Errorf("%w: %s has %d steps, %d values and %d timestamps", core.ErrInvalidSeries,
				name, len(series.Steps), len(series.Values), len(series.Timestamps))
		}
		for _, step := range series.Steps {
			if math.IsNaN(step) || math.IsInf(step, 0) {
				return fmt.Errorf("%w: %s has non-finite step %v", core.ErrInvalidSeries, name, step)
			}
		}
	}

	for _, name := range creationOrder(batch) {
		if err := s.appendSeries(ctx, runID, name, batch[name]); err != nil {
			return err
		}
	}
	return nil
}

// creationOrder sorts the batch by name, moving each metric after the batch
// metrics it depends on. Metrics in a dependency cycle keep name order.
func creationOrder(batch map[string]core.MetricSeries) []string {
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)

	placed := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))
	ready := func(name string) bool {
		for _, dep := range batch[name].DependsOn {
			if _, inBatch := batch[dep]; inBatch && dep != name && !placed[dep] {
				return false
			}
		}
		return true
	}

	for len(order) < len(names) {
		next := ""
		for _, name := range names {
			if !placed[name] && ready(name) {
				next = name
				break
			}
		}
		if next == "" {
			for _, name := range names {
				if !placed[name] {
					next = name
					break
				}
			}
		}
		placed[next] = true
		order = append(order, next)
	}
	return order
}

func (s *Session) appendSeries(ctx context.Context, runID int64, name string, series core.MetricSeries) error {
	id, created, err := s.getOrInsert(ctx,
		`SELECT id FROM metrics WHERE run_id = ? AND name = ?`,
		[]any{runID, name},
		func() (string, []any, error) {
			return `INSERT INTO metrics (run_id, name, units) VALUES (?, ?, ?)`,
				[]any{runID, name, series.Units}, nil
		},
	)
	if err != nil {
		return fmt.Errorf("failed to get or create metric %s: %w", name, err)
	}

	if !created {
		if _, err := s.exec(ctx, `UPDATE metrics SET units = ? WHERE id = ?`, series.Units, id); err != nil {
			return fmt.Errorf("failed to update metric units: %w", err)
		}
		if _, err := s.exec(ctx, `DELETE FROM metric_dependencies WHERE dependent_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear metric dependencies: %w", err)
		}
	}
	if err := s.linkMetricDependencies(ctx, runID, id, name, series.DependsOn); err != nil {
		return err
	}

	for i := range series.Steps {
		value, nonfinite := encodeMetricValue(series.Values[i])
		_, err := s.exec(ctx,
			`INSERT INTO metric_samples (metric_id, step, value, nonfinite, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			id, series.Steps[i], value, nonfinite, series.Timestamps[i].UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to append sample to %s: %w", name, err)
		}
	}

	s.logger.Debug("appended metric samples",
		slog.String("metric", name),
		slog.Int("samples", series.Len()),
		slog.Bool("created", created),
	)
	return nil
}

func (s *Session) linkMetricDependencies(ctx context.Context, runID, metricID int64, name string, dependsOn []string) error {
	for _, dep := range dependsOn {
		depID, found, err := s.lookupID(ctx, `SELECT id FROM metrics WHERE run_id = ? AND name = ?`, runID, dep)
		if err != nil {
			return fmt.Errorf("failed to resolve metric dependency: %w", err)
		}
		if !found || depID == metricID {
			s.logger.Debug("dropping unresolved metric dependency",
				slog.String("metric", name), slog.String("depends_on", dep))
			continue
		}
		_, err = s.exec(ctx,
			`INSERT INTO metric_dependencies (dependent_id, independent_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			metricID, depID,
		)
		if err != nil {
			return fmt.Errorf("failed to link metric dependency: %w", err)
		}
	}
	return nil
}

// Non-finite measurements are stored as a NULL value plus a label, since
// SQLite cannot hold NaN.
const (
	labelNaN    = "NaN"
	labelPosInf = "+Inf"
	labelNegInf = "-Inf"
)

func encodeMetricValue(v float64) (value, nonfinite any) {
	switch {
	case math.IsNaN(v):
		return nil, labelNaN
	case math.IsInf(v, 1):
		return nil, labelPosInf
	case math.IsInf(v, -1):
		return nil, labelNegInf
	}
	return v, nil
}

func decodeMetricValue(value sql.NullFloat64, nonfinite sql.NullString) (float64, error) {
	if value.Valid {
		return value.Float64, nil
	}
	switch nonfinite.String {
	case labelNaN:
		return math.NaN(), nil
	case labelPosInf:
		return math.Inf(1), nil
	case labelNegInf:
		return math.Inf(-1), nil
	}
	return 0, fmt.Errorf("metric sample without value")
}

// LoadMetrics returns every metric of a run with its full sample history,
// in creation order.
func (s *Session) LoadMetrics(ctx context.Context, runID int64) ([]core.MetricDocument, error) {
	rows, err := s.query(ctx, `SELECT id, name, units FROM metrics WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}

	var docs []*core.MetricDocument
	byID := make(map[int64]*core.MetricDocument)
	for rows.Next() {
		var id int64
		doc := &core.MetricDocument{Values: []float64{}, Steps: []float64{}, Timestamps: []time.Time{}}
		if err := rows.Scan(&id, &doc.Name, &doc.Units); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		docs = append(docs, doc)
		byID[id] = doc
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	if err := s.loadSamples(ctx, runID, `
		SELECT x.metric_id, x.step, x.value, x.nonfinite, x.recorded_at FROM metric_samples x
		JOIN metrics m ON m.id = x.metric_id
		WHERE m.run_id = ? ORDER BY x.id`,
		func(scan func(...any) error) error {
			var (
				id        int64
				step      float64
				value     sql.NullFloat64
				nonfinite sql.NullString
				at        time.Time
			)
			if err := scan(&id, &step, &value, &nonfinite, &at); err != nil {
				return err
			}
			v, err := decodeMetricValue(value, nonfinite)
			if err != nil {
				return err
			}
			doc := byID[id]
			doc.Steps = append(doc.Steps, step)
			doc.Values = append(doc.Values, v)
			doc.Timestamps = append(doc.Timestamps, at.UTC())
			return nil
		}); err != nil {
		return nil, err
	}

	if err := s.loadSamples(ctx, runID, `
		SELECT d.dependent_id, i.name FROM metric_dependencies d
		JOIN metrics m ON m.id = d.dependent_id
		JOIN metrics i ON i.id = d.independent_id
		WHERE m.run_id = ? ORDER BY i.name`,
		func(scan func(...any) error) error {
			var id int64
			var name string
			if err := scan(&id, &name); err != nil {
				return err
			}
			byID[id].DependsOn = append(byID[id].DependsOn, name)
			return nil
		}); err != nil {
		return nil, err
	}

	result := make([]core.MetricDocument, len(docs))
	for i, doc := range docs {
		result[i] = *doc
	}
	return result, nil
}

// loadSamples runs a per-run sample query and hands each row to fn.
func (s *Session) loadSamples(ctx context.Context, runID int64, query string, fn func(scan func(...any) error) error) error {
	rows, err := s.query(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("failed to load metric samples: %w", err)
	}
	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan metric sample: %w", err)
		}
	}
	return closeRows(rows)
}
