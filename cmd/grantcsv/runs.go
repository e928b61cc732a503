package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/storage"
)

var (
	runsLimit  int
	runsFormat string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent export runs",
	Long: `Show the run history kept in the local state database (cache.path).
History is recorded while cache.enabled is true.

Examples:
  grantcsv runs
  grantcsv runs -n 5 --format json`,
	Args: noArgs(),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	runsCmd.Flags().StringVar(&runsFormat, "format", formatHuman, "Output format (human, json, yaml)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	if !fileExists(cfg.Cache.Path) {
		fmt.Fprintf(stdout(cmd), "No run history at %s.\n", cfg.Cache.Path)
		return nil
	}
	db, err := storage.Open(cfg.Cache.Path, logger)
	if err != nil {
		return grerrors.New(grerrors.CacheFailed, "failed to open "+cfg.Cache.Path, err)
	}
	defer func() { _ = db.Close() }()

	runs, err := storage.NewRunStore(db).List(cmd.Context(), runsLimit)
	if err != nil {
		return grerrors.New(grerrors.CacheFailed, "failed to read run history", err)
	}

	if runsFormat != formatHuman {
		if runs == nil {
			runs = []storage.Run{}
		}
		return render(stdout(cmd), map[string]interface{}{"runs": runs}, runsFormat)
	}

	if len(runs) == 0 {
		fmt.Fprintln(stdout(cmd), "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCOMMAND\tSTATUS\tROWS\tCOLS\tDURATION\tSOURCE\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command,
			r.Status,
			r.Rows,
			r.Columns,
			r.Duration().Round(10*time.Millisecond),
			truncate(r.Source, 40),
			r.Output,
		)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
