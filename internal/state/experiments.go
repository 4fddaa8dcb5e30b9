package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Gracecr/sacred/internal/digest"
	"github.com/Gracecr/sacred/pkg/core"
)

// ExperimentDigest returns the md5 digest of the canonical JSON encoding of
// info. Missing and empty collections digest identically.
func ExperimentDigest(info core.ExperimentInfo) (string, error) {
	if info.Sources == nil {
		info.Sources = []core.SourceRef{}
	}
	if info.Dependencies == nil {
		info.Dependencies = []string{}
	}
	if info.Repositories == nil {
		info.Repositories = []core.RepositoryInfo{}
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to encode experiment: %w", err)
	}
	return digest.Bytes(data), nil
}

// GetOrCreateExperiment returns the experiment identified by (name, digest
// of info). On a miss every dependency, source and repository is resolved
// through its registry and linked to the new experiment. A hit returns the
// stored experiment without touching its children.
func (s *Session) GetOrCreateExperiment(ctx context.Context, info core.ExperimentInfo) (*core.Experiment, error) {
	sum, err := ExperimentDigest(info)
	if err != nil {
		return nil, err
	}

	exp := &core.Experiment{Name: info.Name, Digest: sum, BaseDir: info.BaseDir}

	id, found, err := s.lookupID(ctx,
		`SELECT id FROM experiments WHERE name = ? AND md5sum = ?`, info.Name, sum)
	if err != nil {
		return nil, fmt.Errorf("failed to look up experiment: %w", err)
	}
	if found {
		exp.ID = id
		return exp, nil
	}

	// Children first: a source integrity failure must not leave an
	// experiment row without its sources.
	depIDs := make([]int64, 0, len(info.Dependencies))
	for _, spec := range info.Dependencies {
		dep, err := s.GetOrCreateDependency(ctx, spec)
		if err != nil {
			return nil, err
		}
		depIDs = append(depIDs, dep.ID)
	}

	sourceIDs := make([]int64, 0, len(info.Sources))
	for _, ref := range info.Sources {
		src, err := s.GetOrCreateSource(ctx, ref.Filename, ref.Digest, info.BaseDir)
		if err != nil {
			return nil, err
		}
		sourceIDs = append(sourceIDs, src.ID)
	}

	seen := make(map[core.RepositoryInfo]bool, len(info.Repositories))
	repoIDs := make([]int64, 0, len(info.Repositories))
	for _, ri := range info.Repositories {
		if seen[ri] {
			continue
		}
		seen[ri] = true
		repo, err := s.GetOrCreateRepository(ctx, ri)
		if err != nil {
			return nil, err
		}
		repoIDs = append(repoIDs, repo.ID)
	}

	id, _, err = s.getOrInsert(ctx,
		`SELECT id FROM experiments WHERE name = ? AND md5sum = ?`,
		[]any{info.Name, sum},
		func() (string, []any, error) {
			return `INSERT INTO experiments (name, md5sum, base_dir) VALUES (?, ?, ?)`,
				[]any{info.Name, sum, info.BaseDir}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}
	exp.ID = id

	links := []struct {
		query string
		ids   []int64
	}{
		{`INSERT INTO experiments_dependencies (experiment_id, dependency_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, depIDs},
		{`INSERT INTO experiments_sources (experiment_id, source_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, sourceIDs},
		{`INSERT INTO experiments_repositories (experiment_id, repository_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, repoIDs},
	}
	for _, link := range links {
		for _, childID := range link.ids {
			if _, err := s.exec(ctx, link.query, id, childID); err != nil {
				return nil, fmt.Errorf("failed to link experiment: %w", err)
			}
		}
	}

	s.logger.Debug("registered experiment",
		slog.String("name", info.Name),
		slog.String("md5sum", sum),
		slog.Int("sources", len(sourceIDs)),
		slog.Int("dependencies", len(depIDs)),
		slog.Int("repositories", len(repoIDs)),
	)
	return exp, nil
}

// loadExperimentDocument resolves an experiment and its children for the
// run projection.
func (s *Session) loadExperimentDocument(ctx context.Context, experimentID int64) (core.ExperimentDocument, error) {
	doc := core.ExperimentDocument{
		Sources:      []core.ResourceRef{},
		Repositories: []core.RepositoryInfo{},
		Dependencies: []string{},
	}

	err := s.queryRow(ctx,
		`SELECT name, base_dir FROM experiments WHERE id = ?`, experimentID,
	).Scan(&doc.Name, &doc.BaseDir)
	if err != nil {
		return doc, fmt.Errorf("failed to load experiment: %w", err)
	}

	rows, err := s.query(ctx, `
		SELECT s.filename, s.md5sum FROM sources s
		JOIN experiments_sources es ON es.source_id = s.id
		WHERE es.experiment_id = ?
		ORDER BY s.id`, experimentID)
	if err != nil {
		return doc, fmt.Errorf("failed to load experiment sources: %w", err)
	}
	for rows.Next() {
		var ref core.ResourceRef
		if err := rows.Scan(&ref.Filename, &ref.Digest); err != nil {
			_ = rows.Close()
			return doc, fmt.Errorf("failed to scan source: %w", err)
		}
		doc.Sources = append(doc.Sources, ref)
	}
	if err := closeRows(rows); err != nil {
		return doc, err
	}

	rows, err = s.query(ctx, `
		SELECT r.url, r.commit_hash, r.dirty FROM repositories r
		JOIN experiments_repositories er ON er.repository_id = r.id
		WHERE er.experiment_id = ?
		ORDER BY r.id`, experimentID)
	if err != nil {
		return doc, fmt.Errorf("failed to load experiment repositories: %w", err)
	}
	for rows.Next() {
		var repo core.RepositoryInfo
		if err := rows.Scan(&repo.URL, &repo.Commit, &repo.Dirty); err != nil {
			_ = rows.Close()
			return doc, fmt.Errorf("failed to scan repository: %w", err)
		}
		doc.Repositories = append(doc.Repositories, repo)
	}
	if err := closeRows(rows); err != nil {
		return doc, err
	}

	rows, err = s.query(ctx, `
		SELECT d.name, d.version FROM dependencies d
		JOIN experiments_dependencies ed ON ed.dependency_id = d.id
		WHERE ed.experiment_id = ?
		ORDER BY d.name, d.version`, experimentID)
	if err != nil {
		return doc, fmt.Errorf("failed to load experiment dependencies: %w", err)
	}
	for rows.Next() {
		var dep core.Dependency
		if err := rows.Scan(&dep.Name, &dep.Version); err != nil {
			_ = rows.Close()
			return doc, fmt.Errorf("failed to scan dependency: %w", err)
		}
		doc.Dependencies = append(doc.Dependencies, dep.String())
	}
	if err := closeRows(rows); err != nil {
		return doc, err
	}

	return doc, nil
}

// closeRows reports iteration errors and closes rows.
func closeRows(rows interface {
	Err() error
	Close() error
}) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to iterate rows: %w", err)
	}
	return rows.Close()
}
