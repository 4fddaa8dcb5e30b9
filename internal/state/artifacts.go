package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Gracecr/sacred/pkg/core"
)

// ErrArtifactNotFound is returned when an artifact id does not exist.
var ErrArtifactNotFound = errors.New("artifact not found")

// CreateArtifact reads the file at path and stores it as an artifact of the
// run under name. Artifacts are never deduplicated.
func (s *Session) CreateArtifact(ctx context.Context, runID int64, name, path, contentType string, metadata map[string]any) (*core.Artifact, error) {
	data, err := os.ReadFile(path) //nolint:gosec // artifact files written by the run
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	meta := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode artifact metadata: %w", err)
		}
		meta = string(b)
	}

	art := &core.Artifact{
		RunID:       runID,
		Filename:    name,
		ContentType: contentType,
		Metadata:    metadata,
		Content:     data,
	}

	err = s.queryRow(ctx, `
		INSERT INTO artifacts (run_id, filename, content, content_type, metadata)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		runID, name, data, contentType, meta,
	).Scan(&art.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}

	s.logger.Debug("stored artifact", slog.String("name", name), slog.Int("bytes", len(data)))
	return art, nil
}

// GetArtifact loads an artifact with its content.
func (s *Session) GetArtifact(ctx context.Context, id int64) (*core.Artifact, error) {
	art := &core.Artifact{ID: id}
	var meta string

	err := s.queryRow(ctx,
		`SELECT run_id, filename, content, content_type, metadata FROM artifacts WHERE id = ?`, id,
	).Scan(&art.RunID, &art.Filename, &art.Content, &art.ContentType, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrArtifactNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &art.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode artifact metadata: %w", err)
		}
	}
	return art, nil
}
