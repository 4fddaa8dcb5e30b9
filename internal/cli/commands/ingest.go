package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gracecr/sacred/internal/cli/output"
	"github.com/Gracecr/sacred/internal/ingest"
	"github.com/spf13/cobra"
)

// IngestOptions holds options for the ingest command.
type IngestOptions struct {
	Watch string
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	opts := &IngestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest [path]...",
		Short: "Replay recorded event logs into the run store",
		Long: `Replay event logs (.jsonl, .ndjson, .yaml, .yml) into the run store.

Each file is replayed inside its own transaction: the run is stored only if
every event in the file is accepted. Directories are searched recursively.
A file whose content was ingested before is skipped. A file that grew since
it was last ingested continues its run with only the new events.

With --watch, new and modified event logs below the directory are ingested
as they appear until interrupted.`,
		Example: `  # Ingest a single log
  sacred ingest runs/2024-03-01.jsonl

  # Ingest every log below a directory
  sacred ingest runs/

  # Keep ingesting logs as they are written
  sacred ingest --watch runs/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.Watch == "" {
				return fmt.Errorf("requires at least one path or --watch")
			}
			return runIngest(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Watch, "watch", "", "Directory to watch for new event logs")
	_ = cmd.MarkFlagDirname("watch")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string, opts *IngestOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	in := ingest.New(cmdCtx.Store, cmdCtx.Logger, testRailObservers(cmdCtx.Cfg.TestRail, cmdCtx.Logger))

	var results []*ingest.Result
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			res, err := in.Dir(cmd.Context(), path)
			results = append(results, res...)
			if err != nil {
				return err
			}
			continue
		}
		res, err := in.File(cmd.Context(), path)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if len(args) > 0 {
		if err := renderIngestResults(r, results); err != nil {
			return err
		}
	}

	if opts.Watch == "" {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debounce := cmdCtx.Cfg.GetIngestConfig().Debounce
	r.Println(r.Muted(fmt.Sprintf("Watching %s for event logs (Ctrl+C to stop)", opts.Watch)))
	cmdCtx.Logger.Debug("watching for event logs",
		slog.String("dir", opts.Watch),
		slog.Duration("debounce", debounce),
	)

	return in.Watch(ctx, opts.Watch, debounce, func(res *ingest.Result) {
		r.Success(fmt.Sprintf("Ingested %s (run %s, %d events)", res.Path, res.Token, res.Events))
	})
}

func renderIngestResults(r *output.Renderer, results []*ingest.Result) error {
	if r.EffectiveMode() == output.ModeJSON {
		type resultJSON struct {
			Path    string `json:"path"`
			Token   string `json:"run_token,omitempty"`
			Events  int    `json:"events"`
			Resumed bool   `json:"resumed"`
			Skipped bool   `json:"skipped"`
		}
		out := make([]resultJSON, 0, len(results))
		for _, res := range results {
			out = append(out, resultJSON{
				Path:    res.Path,
				Token:   res.Token,
				Events:  res.Events,
				Resumed: res.Resumed,
				Skipped: res.Skipped,
			})
		}
		return r.JSON(out)
	}

	ingested := 0
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status := r.Status("COMPLETED")
		switch {
		case res.Skipped:
			status = r.Muted("already ingested")
		case res.Resumed:
			status = r.Status("RUNNING") + r.Muted(" (resumed)")
			ingested++
		default:
			ingested++
		}
		rows = append(rows, []string{res.Path, res.Token, fmt.Sprintf("%d", res.Events), status})
	}

	r.Header(fmt.Sprintf("Ingested %d of %d file(s)", ingested, len(results)))
	if len(rows) > 0 {
		r.Table([]string{"File", "Run", "Events", "Status"}, rows)
	}
	return nil
}
