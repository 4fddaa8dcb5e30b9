package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gracecr/sacred/pkg/core"
)

// LoadRun builds the read projection of the run identified by token.
func (s *Session) LoadRun(ctx context.Context, token string) (*core.RunDocument, error) {
	run, err := s.GetRun(ctx, token)
	if err != nil {
		return nil, err
	}

	doc := &core.RunDocument{
		Token:       run.Token,
		Command:     run.Command,
		StartTime:   run.StartTime.UTC(),
		Heartbeat:   run.Heartbeat,
		StopTime:    run.StopTime,
		QueueTime:   run.QueueTime,
		Status:      run.Status,
		Result:      run.Result,
		Meta:        core.MetaInfo{Comment: run.Comment, Priority: run.Priority},
		Resources:   []core.ResourceRef{},
		Artifacts:   []core.ArtifactRef{},
		Config:      map[string]any{},
		CapturedOut: run.CapturedOut,
		FailTrace:   run.FailTrace,
	}

	if run.Config != "" {
		if err := json.Unmarshal([]byte(run.Config), &doc.Config); err != nil {
			return nil, fmt.Errorf("failed to decode run config: %w", err)
		}
	}

	err = s.queryRow(ctx,
		`SELECT hostname, cpu, os, os_info, runtime_version FROM hosts WHERE id = ?`, run.HostID,
	).Scan(&doc.Host.Hostname, &doc.Host.CPU, &doc.Host.OS, &doc.Host.OSInfo, &doc.Host.RuntimeVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load host: %w", err)
	}

	if doc.Experiment, err = s.loadExperimentDocument(ctx, run.ExperimentID); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, `
		SELECT r.filename, r.md5sum FROM resources r
		JOIN runs_resources rr ON rr.resource_id = r.id
		WHERE rr.run_id = ?
		ORDER BY r.id`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	for rows.Next() {
		var ref core.ResourceRef
		if err := rows.Scan(&ref.Filename, &ref.Digest); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		doc.Resources = append(doc.Resources, ref)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.query(ctx, `SELECT id, filename FROM artifacts WHERE run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	for rows.Next() {
		var ref core.ArtifactRef
		if err := rows.Scan(&ref.ID, &ref.Filename); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		doc.Artifacts = append(doc.Artifacts, ref)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	if doc.Metrics, err = s.LoadMetrics(ctx, run.ID); err != nil {
		return nil, err
	}
	if doc.Metrics == nil {
		doc.Metrics = []core.MetricDocument{}
	}

	return doc, nil
}
