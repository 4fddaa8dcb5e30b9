package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gracecr/sacred/internal/cli/config"
	"github.com/Gracecr/sacred/internal/server"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Port  int
	Watch string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run store over a read-only HTTP API",
		Long: `Start a local HTTP server exposing the run store as JSON.

Routes:
  GET /healthz
  GET /api/stats
  GET /api/runs?status=&experiment=&limit=
  GET /api/runs/{token}
  GET /api/runs/{token}/metrics
  GET /api/artifacts/{id}
  GET /api/events        server-sent events announcing newly ingested runs`,
		Example: `  # Serve on the default port
  sacred serve

  # Serve on a custom port and ingest new logs as they appear
  sacred serve --port 9000 --watch runs/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, fmt.Sprintf("Port to serve on (default: %d)", config.DefaultPort))
	cmd.Flags().StringVar(&opts.Watch, "watch", "", "Directory to watch for new event logs")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	port := cmdCtx.Cfg.GetServeConfig().Port
	if opts.Port != 0 {
		port = opts.Port
	}

	srv := server.NewServer(server.Config{
		Store:     cmdCtx.Store,
		Port:      port,
		Logger:    cmdCtx.Logger,
		WatchDir:  opts.Watch,
		Debounce:  cmdCtx.Cfg.GetIngestConfig().Debounce,
		Observers: testRailObservers(cmdCtx.Cfg.TestRail, cmdCtx.Logger),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := cmdCtx.Renderer
	r.Println(fmt.Sprintf("Serving run store on http://localhost:%d", port))
	if opts.Watch != "" {
		r.Println(r.Muted("Watching " + opts.Watch + " for event logs"))
	}
	r.Println(r.Muted("Press Ctrl+C to stop"))

	return srv.Serve(ctx)
}
