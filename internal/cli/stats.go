package cli

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Prometheus bool
}

// ViewStats is the index size of one builtin view.
type ViewStats struct {
	View  string `json:"view"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Bring builtin indexes up to date and report their size",
		Long: `Query every builtin view once, which indexes any documents written
since the last query, and report the number of index rows per view.

With --prometheus the operational counters of this run (documents
indexed, map failures, queries, writes, deploys) are printed in the
Prometheus text format instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Prometheus, "prometheus", false, "print counters in Prometheus text format")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	var stats []ViewStats
	for _, def := range builtinViews() {
		design := ir.DesignID(def.Name)
		vs := ViewStats{View: design}
		rows, err := b.store.QueryView(cmd.Context(), design, ir.DefaultView, queryir.Query{}.Unreduced())
		if err != nil {
			vs.Error = err.Error()
		}
		vs.Rows = len(rows)
		stats = append(stats, vs)
	}

	if opts.Prometheus {
		metrics.WritePrometheus(formatter.Writer, false)
		return nil
	}
	if formatter.Format == "json" {
		return formatter.Success(stats)
	}
	for _, vs := range stats {
		if vs.Error != "" {
			fmt.Fprintf(formatter.Writer, "%s\t-\t%s\n", vs.View, vs.Error)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s\t%d\n", vs.View, vs.Rows)
	}
	return nil
}
