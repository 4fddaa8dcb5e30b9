package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Gracecr/sacred/internal/digest"
	"github.com/Gracecr/sacred/pkg/core"
)

// GetOrCreateSource returns the source identified by (filename, md5sum),
// storing it on first sight. On a miss the file is read from
// baseDir/filename and its digest must equal md5sum, otherwise a
// *core.IntegrityError is returned and nothing is written.
func (s *Session) GetOrCreateSource(ctx context.Context, filename, md5sum, baseDir string) (*core.Source, error) {
	src := &core.Source{Filename: filename, Digest: md5sum}

	id, created, err := s.getOrInsert(ctx,
		`SELECT id FROM sources WHERE filename = ? AND md5sum = ?`,
		[]any{filename, md5sum},
		func() (string, []any, error) {
			path := filename
			if baseDir != "" && !filepath.IsAbs(filename) {
				path = filepath.Join(baseDir, filename)
			}
			data, err := os.ReadFile(path) //nolint:gosec // source files declared by the experiment
			if err != nil {
				return "", nil, fmt.Errorf("failed to read source %s: %w", filename, err)
			}
			if actual := digest.Bytes(data); actual != md5sum {
				return "", nil, &core.IntegrityError{Filename: filename, Expected: md5sum, Actual: actual}
			}
			src.Content = string(data)
			return `INSERT INTO sources (filename, md5sum, content) VALUES (?, ?, ?)`,
				[]any{filename, md5sum, src.Content}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create source: %w", err)
	}

	if created {
		s.logger.Debug("stored source", slog.String("filename", filename), slog.String("md5sum", md5sum))
	} else if err := s.queryRow(ctx, `SELECT content FROM sources WHERE id = ?`, id).Scan(&src.Content); err != nil {
		return nil, fmt.Errorf("failed to load source content: %w", err)
	}
	src.ID = id
	return src, nil
}

// GetOrCreateResource returns the resource stored for the file at path,
// identified by (path, digest of its current content). The content is
// stored on first sight.
func (s *Session) GetOrCreateResource(ctx context.Context, path string) (*core.Resource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve resource path: %w", err)
	}

	data, err := os.ReadFile(abs) //nolint:gosec // resource files opened by the run
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s: %w", path, err)
	}
	res := &core.Resource{Filename: abs, Digest: digest.Bytes(data), Content: data}

	id, created, err := s.getOrInsert(ctx,
		`SELECT id FROM resources WHERE filename = ? AND md5sum = ?`,
		[]any{res.Filename, res.Digest},
		func() (string, []any, error) {
			return `INSERT INTO resources (filename, md5sum, content) VALUES (?, ?, ?)`,
				[]any{res.Filename, res.Digest, res.Content}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create resource: %w", err)
	}

	if created {
		s.logger.Debug("stored resource", slog.String("filename", res.Filename), slog.String("md5sum", res.Digest))
	}
	res.ID = id
	return res, nil
}

// AddRunResource associates a resource with a run. Adding the same pair
// twice is a no-op.
func (s *Session) AddRunResource(ctx context.Context, runID, resourceID int64) error {
	_, err := s.exec(ctx,
		`INSERT INTO runs_resources (run_id, resource_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		runID, resourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to link resource: %w", err)
	}
	return nil
}
