package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run store schema",
		Long: `Apply or roll back schema migrations of the run store.

Without a subcommand all pending migrations are applied.`,
		Example: `  # Bring the schema up to date
  sacred migrate

  # Roll back the most recent migration
  sacred migrate down

  # Show the current schema version
  sacred migrate version`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "up")
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "up")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "down")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "version")
		},
	})

	return cmd
}

func runMigrate(cmd *cobra.Command, direction string) error {
	cmdCtx := NewCommandContextWithoutStore(cmd)
	r := cmdCtx.Renderer

	store, err := openDatabase(cmd.Context(), cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	switch direction {
	case "up":
		if err := store.Migrate(); err != nil {
			return err
		}
	case "down":
		if err := store.MigrateDown(); err != nil {
			return err
		}
	}

	version, err := store.MigrationVersion()
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		r.Success(fmt.Sprintf("Schema is up to date (version %d)", version))
	case "down":
		r.Success(fmt.Sprintf("Rolled back to version %d", version))
	default:
		r.Println(FormatVersion(version))
	}
	return nil
}

// FormatVersion renders a schema version line.
func FormatVersion(version int64) string {
	return fmt.Sprintf("schema version %d", version)
}
