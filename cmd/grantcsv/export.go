package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/pipeline"
	"grantcsv/internal/storage"
)

var (
	exportBaseURL         string
	exportReference       string
	exportAPIKey          string
	exportSubmissionsPath string
	exportMaxConcurrency  int
	exportNoCache         bool
	exportTable           tableFlags
)

var exportCmd = &cobra.Command{
	Use:   "export [output.csv]",
	Short: "Download a scheme's submissions and write them as CSV",
	Long: `Fetch every page of submissions for a GGIS reference number, flatten them
into one row per submission and write the CSV.

The API key is read from --api-key, GRANTCSV_API_KEY or api.apiKey.

Examples:
  grantcsv export --base-url https://api.example.gov.uk --reference GGIS-123
  grantcsv export -o scheme.csv --include-question-id
  grantcsv export scheme.csv.gz --compression gzip`,
	Args: maxArgs(1),
	RunE: runExport,
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportBaseURL, "base-url", "", "API base URL, e.g. https://api.example.gov.uk")
	flags.StringVar(&exportReference, "reference", "", "GGIS reference number of the scheme")
	flags.StringVar(&exportAPIKey, "api-key", "", "API key sent as x-api-key (prefer GRANTCSV_API_KEY)")
	flags.StringVar(&exportSubmissionsPath, "submissions-path", "", "Path template containing {ggisReferenceNumber}")
	flags.IntVar(&exportMaxConcurrency, "max-concurrency", 0, "Pages fetched in parallel")
	flags.BoolVar(&exportNoCache, "no-cache", false, "Bypass the page cache")
	exportTable.register(exportCmd)

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.API.BaseURL = exportBaseURL
	}
	if flags.Changed("reference") {
		cfg.API.ReferenceNumber = exportReference
	}
	if flags.Changed("api-key") {
		cfg.API.APIKey = exportAPIKey
	}
	if flags.Changed("submissions-path") {
		cfg.API.SubmissionsPath = exportSubmissionsPath
	}
	if flags.Changed("max-concurrency") {
		cfg.Fetch.MaxConcurrency = exportMaxConcurrency
	}
	exportTable.apply(cmd, cfg)
	if len(args) == 1 {
		cfg.Output.Path = args[0]
	}

	opts, closeStore, err := runnerOptions()
	if err != nil {
		return err
	}
	defer closeStore()
	if exportNoCache {
		opts = append(opts, pipeline.WithoutCache())
	}

	summary, err := pipeline.New(cfg, logger, opts...).Export(cmd.Context())
	if err != nil {
		return err
	}
	return printSummary(stdout(cmd), summary, exportTable.jsonSummary)
}

// runnerOptions opens the state database when the cache is enabled, so
// runs are recorded and pages can be reused.
func runnerOptions() ([]pipeline.Option, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, func() {}, nil
	}
	db, err := storage.Open(cfg.Cache.Path, logger)
	if err != nil {
		return nil, nil, grerrors.New(grerrors.CacheFailed, "failed to open "+cfg.Cache.Path, err)
	}
	return []pipeline.Option{pipeline.WithStore(db)}, func() { _ = db.Close() }, nil
}

func printSummary(w io.Writer, s *pipeline.Summary, asJSON bool) error {
	if asJSON {
		out := struct {
			*pipeline.Summary
			ElapsedSeconds float64 `json:"elapsedSeconds"`
		}{s, s.Elapsed.Round(time.Millisecond).Seconds()}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, line := range s.Lines() {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
