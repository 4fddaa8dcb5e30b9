package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gracecr/sacred/internal/cli/config"
	"github.com/Gracecr/sacred/internal/state"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format string
	Input  string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the run store",
		Long: `Query the run store database directly.

Execute SQL against the run store to inspect runs, experiments, hosts,
metrics and other recorded data. Supports multiple output formats for
scripting and integration.

When invoked without arguments, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  sacred query "SELECT run_id, status FROM runs"

  # List available tables
  sacred query tables

  # Show schema for a table
  sacred query schema runs

  # Output as JSON
  sacred query "SELECT * FROM metrics" --format json

  # Interactive mode
  sacred query`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", "table", "Output format: table, json, csv, md")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")

	cmd.AddCommand(newQueryTablesCommand(opts))
	cmd.AddCommand(newQuerySchemaCommand(opts))

	return cmd
}

// openQueryStore opens the configured store for ad-hoc queries. A missing
// SQLite file is reported instead of being created.
func openQueryStore(cmd *cobra.Command) (*state.Store, error) {
	cmdCtx := NewCommandContextWithoutStore(cmd)
	cfg := cmdCtx.Cfg

	if cfg.Driver != string(state.DialectPostgres) && cfg.StatePath != ":memory:" {
		if _, err := os.Stat(cfg.StatePath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("state database not found at %s (run 'sacred ingest' first)", cfg.StatePath)
		}
	}
	return openStore(cmd.Context(), cfg, cmdCtx.Logger)
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	var sqlQuery string
	interactive := false

	switch {
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(cmd.InOrStdin()):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		interactive = true
	}

	if !interactive && strings.TrimSpace(sqlQuery) == "" {
		return fmt.Errorf("no SQL given")
	}

	store, err := openQueryStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if interactive {
		return runQueryREPL(cmd, store, opts)
	}
	return executeAndRenderQuery(cmd.Context(), cmd.OutOrStdout(), store.DB(), sqlQuery, opts.Format)
}

// executeAndRenderQuery executes a query and renders its rows.
func executeAndRenderQuery(ctx context.Context, w io.Writer, db *sql.DB, query, format string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderResults(w, rows, format)
}

// newQueryTablesCommand creates the tables subcommand.
func newQueryTablesCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List all tables and views in the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openQueryStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return listTablesFromDB(cmd.Context(), cmd.OutOrStdout(), store.DB(), store.Dialect(), opts.Format)
		},
	}
}

// newQuerySchemaCommand creates the schema subcommand.
func newQuerySchemaCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show schema for a table or view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueryStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return showSchemaFromDB(cmd.Context(), cmd.OutOrStdout(), store.DB(), store.Dialect(), args[0], opts.Format)
		},
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// historyDir returns the directory holding the REPL history file.
func historyDir(cfg *config.Config) string {
	if cfg.Driver == string(state.DialectPostgres) || cfg.StatePath == ":memory:" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return os.TempDir()
	}
	return filepath.Dir(cfg.StatePath)
}
