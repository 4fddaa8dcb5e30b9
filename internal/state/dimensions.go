package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Gracecr/sacred/pkg/core"
)

// GetOrCreateHost returns the host matching every field of info.
func (s *Session) GetOrCreateHost(ctx context.Context, info core.HostInfo) (*core.Host, error) {
	args := []any{info.Hostname, info.CPU, info.OS, info.OSInfo, info.RuntimeVersion}

	id, created, err := s.getOrInsert(ctx,
		`SELECT id FROM hosts
		WHERE hostname = ? AND cpu = ? AND os = ? AND os_info = ? AND runtime_version = ?`,
		args,
		func() (string, []any, error) {
			return `INSERT INTO hosts (hostname, cpu, os, os_info, runtime_version) VALUES (?, ?, ?, ?, ?)`, args, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create host: %w", err)
	}

	if created {
		s.logger.Debug("registered host", slog.String("hostname", info.Hostname))
	}
	return &core.Host{ID: id, HostInfo: info}, nil
}

// GetOrCreateRepository returns the repository matching (url, commit, dirty).
func (s *Session) GetOrCreateRepository(ctx context.Context, info core.RepositoryInfo) (*core.Repository, error) {
	args := []any{info.URL, info.Commit, info.Dirty}

	id, created, err := s.getOrInsert(ctx,
		`SELECT id FROM repositories WHERE url = ? AND commit_hash = ? AND dirty = ?`,
		args,
		func() (string, []any, error) {
			return `INSERT INTO repositories (url, commit_hash, dirty) VALUES (?, ?, ?)`, args, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create repository: %w", err)
	}

	if created {
		s.logger.Debug("registered repository", slog.String("url", info.URL), slog.String("commit", info.Commit))
	}
	return &core.Repository{ID: id, RepositoryInfo: info}, nil
}

// GetOrCreateDependency returns the dependency described by a
// "name==version" string.
func (s *Session) GetOrCreateDependency(ctx context.Context, spec string) (*core.Dependency, error) {
	dep := core.ParseDependency(spec)
	args := []any{dep.Name, dep.Version}

	id, created, err := s.getOrInsert(ctx,
		`SELECT id FROM dependencies WHERE name = ? AND version = ?`,
		args,
		func() (string, []any, error) {
			return `INSERT INTO dependencies (name, version) VALUES (?, ?)`, args, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create dependency: %w", err)
	}

	if created {
		s.logger.Debug("registered dependency", slog.String("name", dep.Name), slog.String("version", dep.Version))
	}
	dep.ID = id
	return &dep, nil
}
