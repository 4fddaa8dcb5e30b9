package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IsIngested reports whether an event log with this digest was already
// replayed into the store.
func (s *Session) IsIngested(ctx context.Context, md5sum string) (bool, error) {
	_, found, err := s.lookupID(ctx, `SELECT id FROM ingested_logs WHERE md5sum = ?`, md5sum)
	if err != nil {
		return false, fmt.Errorf("failed to check ingested log: %w", err)
	}
	return found, nil
}

// MarkIngested records an event log as replayed. It reports false when the
// digest was already recorded.
func (s *Session) MarkIngested(ctx context.Context, path, md5sum, token string) (bool, error) {
	_, created, err := s.getOrInsert(ctx,
		`SELECT id FROM ingested_logs WHERE md5sum = ?`,
		[]any{md5sum},
		func() (string, []any, error) {
			return `INSERT INTO ingested_logs (md5sum, path, run_id, ingested_at) VALUES (?, ?, ?, ?)`,
				[]any{md5sum, path, token, time.Now().UTC()}, nil
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to record ingested log: %w", err)
	}
	return created, nil
}

// IngestProgress is how far the event log at Path has been replayed:
// its first Events events, whose digest is PrefixDigest, went to run Token.
type IngestProgress struct {
	Path         string
	Token        string
	Events       int
	PrefixDigest string
}

// IngestProgress returns the recorded progress for the log at path.
func (s *Session) IngestProgress(ctx context.Context, path string) (*IngestProgress, bool, error) {
	p := &IngestProgress{Path: path}
	err := s.queryRow(ctx,
		`SELECT run_id, events, prefix_md5 FROM ingest_progress WHERE path = ?`, path,
	).Scan(&p.Token, &p.Events, &p.PrefixDigest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load ingest progress: %w", err)
	}
	return p, true, nil
}

// SaveIngestProgress records or replaces the progress for p.Path.
func (s *Session) SaveIngestProgress(ctx context.Context, p IngestProgress) error {
	_, err := s.exec(ctx, `
		INSERT INTO ingest_progress (path, run_id, events, prefix_md5, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			run_id = excluded.run_id,
			events = excluded.events,
			prefix_md5 = excluded.prefix_md5,
			updated_at = excluded.updated_at`,
		p.Path, p.Token, p.Events, p.PrefixDigest, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save ingest progress: %w", err)
	}
	return nil
}
