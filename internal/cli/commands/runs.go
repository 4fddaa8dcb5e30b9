package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gracecr/sacred/internal/cli/output"
	"github.com/Gracecr/sacred/internal/state"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/spf13/cobra"
)

// RunsListOptions holds options for the runs list command.
type RunsListOptions struct {
	Status     string
	Experiment string
	Limit      int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
		Long: `List, show and delete the runs recorded in the run store.

Output adapts to environment:
  - Terminal: Styled, colored output
  - Piped/Scripted: Markdown format

Use --output to override: auto, text, markdown, json`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	opts := &RunsListOptions{}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List runs, most recent first",
		Example: `  # List all runs
  sacred runs list

  # Only failed runs of one experiment
  sacred runs list --status failed --experiment mnist

  # Last five runs as JSON
  sacred runs list --limit 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Only runs with this status")
	cmd.Flags().StringVar(&opts.Experiment, "experiment", "", "Only runs of this experiment")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Maximum number of runs (0 for all)")

	_ = cmd.RegisterFlagCompletionFunc("status", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"queued", "running", "completed", "interrupted", "timeout", "failed"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func parseRunsFilter(opts *RunsListOptions) (core.RunFilter, error) {
	filter := core.RunFilter{Experiment: opts.Experiment, Limit: opts.Limit}
	if opts.Status != "" {
		status := core.RunStatus(strings.ToUpper(opts.Status))
		if !status.Valid() {
			return filter, fmt.Errorf("unknown status %q", opts.Status)
		}
		filter.Status = status
	}
	if opts.Limit < 0 {
		return filter, fmt.Errorf("limit must not be negative")
	}
	return filter, nil
}

func runRunsList(cmd *cobra.Command, opts *RunsListOptions) error {
	filter, err := parseRunsFilter(opts)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := cmdCtx.Store.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if runs == nil {
			runs = []core.RunSummary{}
		}
		return r.JSON(runs)
	}

	r.Header(fmt.Sprintf("Runs (%d)", len(runs)))
	if len(runs) == 0 {
		r.Println(r.Muted("No runs recorded"))
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		result := ""
		if run.Result != nil {
			result = strconv.FormatFloat(*run.Result, 'g', -1, 64)
		}
		rows = append(rows, []string{
			run.Token,
			run.Experiment,
			r.Status(string(run.Status)),
			run.Hostname,
			run.StartTime.Local().Format(time.DateTime),
			core.FormatDuration(run.Duration(now)),
			result,
		})
	}
	r.Table([]string{"Run", "Experiment", "Status", "Host", "Started", "Duration", "Result"}, rows)
	return nil
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <token>",
		Short: "Show the full document of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			doc, err := cmdCtx.Store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(doc)
			}
			renderRunDocument(r, doc)
			return nil
		},
	}
}

func renderRunDocument(r *output.Renderer, doc *core.RunDocument) {
	r.Header("Run " + doc.Token)

	r.Println(output.FormatKeyValue("Experiment", doc.Experiment.Name))
	r.Println(output.FormatKeyValue("Command", doc.Command))
	r.Println(output.FormatKeyValue("Status", r.Status(string(doc.Status))))
	r.Println(output.FormatKeyValue("Host", doc.Host.Hostname))
	r.Println(output.FormatKeyValue("Started", doc.StartTime.Local().Format(time.DateTime)))
	if doc.StopTime != nil {
		r.Println(output.FormatKeyValue("Stopped", doc.StopTime.Local().Format(time.DateTime)))
		r.Println(output.FormatKeyValue("Duration", core.FormatDuration(doc.StopTime.Sub(doc.StartTime))))
	}
	if doc.Result != nil {
		r.Println(output.FormatKeyValue("Result", strconv.FormatFloat(*doc.Result, 'g', -1, 64)))
	}
	if doc.Meta.Comment != "" {
		r.Println(output.FormatKeyValue("Comment", doc.Meta.Comment))
	}
	if len(doc.Experiment.Dependencies) > 0 {
		r.Println(output.FormatKeyValue("Dependencies", strings.Join(doc.Experiment.Dependencies, ", ")))
	}

	if len(doc.Experiment.Sources) > 0 || len(doc.Resources) > 0 || len(doc.Artifacts) > 0 {
		rows := make([][]string, 0)
		for _, src := range doc.Experiment.Sources {
			rows = append(rows, []string{"source", src.Filename, src.Digest})
		}
		for _, res := range doc.Resources {
			rows = append(rows, []string{"resource", res.Filename, res.Digest})
		}
		for _, art := range doc.Artifacts {
			rows = append(rows, []string{"artifact", art.Filename, strconv.FormatInt(art.ID, 10)})
		}
		r.Println("")
		r.Table([]string{"Kind", "File", "Digest / ID"}, rows)
	}

	if len(doc.Metrics) > 0 {
		rows := make([][]string, 0, len(doc.Metrics))
		for _, m := range doc.Metrics {
			rows = append(rows, metricRow(m))
		}
		r.Println("")
		r.Table(metricHeader, rows)
	}

	if doc.FailTrace != "" {
		r.Println("")
		r.Println(output.FormatKeyValue("Fail trace", ""))
		r.Println(doc.FailTrace)
	}
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <token>...",
		Aliases: []string{"rm"},
		Short:   "Delete runs and their metrics and artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			err = cmdCtx.Store.InSession(cmd.Context(), func(sess *state.Session) error {
				for _, token := range args {
					if err := sess.DeleteRun(cmd.Context(), token); err != nil {
						return fmt.Errorf("failed to delete run %s: %w", token, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			cmdCtx.Renderer.Success(fmt.Sprintf("Deleted %d run(s)", len(args)))
			return nil
		},
	}
}
