package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Gracecr/sacred/internal/cli/config"
	"github.com/Gracecr/sacred/internal/cli/output"
	"github.com/Gracecr/sacred/internal/state"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Store    *state.Store
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with an open, migrated store.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutStore(cmd)

	store, err := openStore(cmd.Context(), cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cmdCtx.Store = store

	cleanup := func() {
		_ = store.Close()
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutStore creates a CommandContext without opening
// the store.
func NewCommandContextWithoutStore(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration, or the defaults when none
// has been loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		StatePath:    config.DefaultStateFile,
		Driver:       config.DefaultDriver,
		OutputFormat: config.DefaultOutput,
	}
}

// openStore opens the configured store and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state.Store, error) {
	store, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openDatabase opens the configured store without touching its schema.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state.Store, error) {
	dialect, err := state.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	store := state.NewStore(logger)
	switch dialect {
	case state.DialectPostgres:
		if err := store.OpenPostgres(ctx, cfg.DSN); err != nil {
			return nil, err
		}
	default:
		if cfg.StatePath != ":memory:" {
			if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return nil, fmt.Errorf("failed to create state directory: %w", err)
				}
			}
		}
		if err := store.Open(cfg.StatePath); err != nil {
			return nil, err
		}
	}
	return store, nil
}
