package main

import (
	"github.com/spf13/cobra"

	"grantcsv/internal/pipeline"
)

var flattenTable tableFlags

var flattenCmd = &cobra.Command{
	Use:   "flatten <file|glob>...",
	Short: "Convert saved submissions JSON to CSV without calling the API",
	Long: `Run the CSV conversion over JSON files already on disk, such as saved API
responses. Every input is read in sorted path order and the submissions of
all inputs share one header. Globs support ** (quote them from the shell).

Examples:
  grantcsv flatten page1.json page2.json -o out.csv
  grantcsv flatten 'exports/**/*.json' --keep-constant`,
	Args: minArgs(1),
	RunE: runFlatten,
}

func init() {
	flattenTable.register(flattenCmd)
	rootCmd.AddCommand(flattenCmd)
}

func runFlatten(cmd *cobra.Command, args []string) error {
	flattenTable.apply(cmd, cfg)

	opts, closeStore, err := runnerOptions()
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := pipeline.New(cfg, logger, opts...).Flatten(cmd.Context(), args)
	if err != nil {
		return err
	}
	return printSummary(stdout(cmd), summary, flattenTable.jsonSummary)
}
