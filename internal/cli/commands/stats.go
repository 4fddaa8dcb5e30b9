package commands

import (
	"strconv"

	"github.com/Gracecr/sacred/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts of the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := cmdCtx.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(stats)
			}

			r.Header("Run store")
			if path := cmdCtx.Store.Path(); path != "" {
				r.Println(output.FormatKeyValue("Path", path))
			}
			r.Println(output.FormatKeyValue("Driver", string(cmdCtx.Store.Dialect())))
			for _, kv := range []struct {
				key string
				n   int64
			}{
				{"Runs", stats.Runs},
				{"Experiments", stats.Experiments},
				{"Sources", stats.Sources},
				{"Resources", stats.Resources},
				{"Hosts", stats.Hosts},
				{"Repositories", stats.Repositories},
				{"Dependencies", stats.Dependencies},
				{"Artifacts", stats.Artifacts},
				{"Metrics", stats.Metrics},
			} {
				r.Println(output.FormatKeyValue(kv.key, strconv.FormatInt(kv.n, 10)))
			}
			return nil
		},
	}
}
