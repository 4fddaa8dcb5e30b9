package commands

import (
	"strconv"
	"strings"

	"github.com/Gracecr/sacred/internal/cli/output"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/spf13/cobra"
)

var metricHeader = []string{"Metric", "Units", "Samples", "Last step", "Last value", "Depends on"}

func metricRow(m core.MetricDocument) []string {
	lastStep, lastValue := "", ""
	if n := len(m.Values); n > 0 {
		lastValue = strconv.FormatFloat(m.Values[n-1], 'g', -1, 64)
	}
	if n := len(m.Steps); n > 0 {
		lastStep = strconv.FormatFloat(m.Steps[n-1], 'g', -1, 64)
	}
	return []string{m.Name, m.Units, strconv.Itoa(len(m.Values)), lastStep, lastValue, strings.Join(m.DependsOn, ", ")}
}

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <token>",
		Short: "Show the metric series of a run",
		Example: `  # Summarize every metric of a run
  sacred metrics 3f2a9c

  # Full series as JSON
  sacred metrics 3f2a9c -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			series, err := cmdCtx.Store.MetricSeries(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				if series == nil {
					series = []core.MetricDocument{}
				}
				return r.JSON(series)
			}

			r.Header("Metrics of " + args[0])
			if len(series) == 0 {
				r.Println(r.Muted("No metrics logged"))
				return nil
			}
			rows := make([][]string, 0, len(series))
			for _, m := range series {
				rows = append(rows, metricRow(m))
			}
			r.Table(metricHeader, rows)
			return nil
		},
	}
}
