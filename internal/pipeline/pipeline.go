// Package pipeline runs an export end to end: fetch every page, flatten the
// submissions into a table, drop constant columns and write the CSV.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"grantcsv/internal/config"
	"grantcsv/internal/csvout"
	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/fetch"
	"grantcsv/internal/flatten"
	"grantcsv/internal/storage"
	"grantcsv/internal/telemetry"
)

// Commands recorded in run history.
const (
	CommandExport  = "export"
	CommandFlatten = "flatten"
)

// Summary describes a finished run.
type Summary struct {
	RunID          string        `json:"runId,omitempty"`
	Output         string        `json:"output"`
	Pages          int           `json:"pages"`
	Rows           int           `json:"rows"`
	Columns        int           `json:"columns"`
	DroppedColumns []string      `json:"droppedColumns,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Lines returns the two lines printed after a successful run.
func (s *Summary) Lines() []string {
	return []string{
		"Output written to: " + s.Output,
		fmt.Sprintf("Retrieved %d applications in %.2f seconds", s.Rows, s.Elapsed.Seconds()),
	}
}

// Runner executes exports with one configuration.
type Runner struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *storage.DB
	metrics    *telemetry.Metrics
	httpClient *http.Client
	noCache    bool
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore records run history in db and, when the cache is enabled,
// serves pages from it.
func WithStore(db *storage.DB) Option { return func(r *Runner) { r.store = db } }

// WithHTTPClient replaces the fetcher's http.Client.
func WithHTTPClient(c *http.Client) Option { return func(r *Runner) { r.httpClient = c } }

// WithoutCache bypasses the page cache for this runner.
func WithoutCache() Option { return func(r *Runner) { r.noCache = true } }

// WithClock overrides the clock used for output names and timings.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// New creates a runner. A nil logger discards output.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics returns the runner's collectors.
func (r *Runner) Metrics() *telemetry.Metrics { return r.metrics }

// Export downloads every submission page for the configured scheme and
// writes the CSV.
func (r *Runner) Export(ctx context.Context) (*Summary, error) {
	if err := r.cfg.ValidateRemote(); err != nil {
		return nil, grerrors.New(grerrors.ConfigInvalid, "invalid configuration", err)
	}

	endpoint, err := fetch.Endpoint(r.cfg.API.BaseURL, r.cfg.API.SubmissionsPath, r.cfg.API.ReferenceNumber)
	if err != nil {
		return nil, err
	}

	return r.run(ctx, CommandExport, r.cfg.API.ReferenceNumber, func(ctx context.Context) ([]flatten.Value, int, error) {
		client, closeCache, err := r.client()
		if err != nil {
			return nil, 0, err
		}
		defer closeCache()

		res, err := client.FetchAll(ctx, endpoint)
		if err != nil {
			return nil, 0, err
		}
		return []flatten.Value{res.Document}, res.Pages, nil
	})
}

// Flatten runs the same table pipeline over local JSON files. Patterns may
// use doublestar globs ("exports/**/*.json").
func (r *Runner) Flatten(ctx context.Context, patterns []string) (*Summary, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, grerrors.New(grerrors.ConfigInvalid, "invalid configuration", err)
	}

	return r.run(ctx, CommandFlatten, strings.Join(patterns, " "), func(ctx context.Context) ([]flatten.Value, int, error) {
		files, err := ExpandInputs(patterns)
		if err != nil {
			return nil, 0, err
		}
		docs := make([]flatten.Value, 0, len(files))
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
			doc, err := readDocument(path)
			if err != nil {
				return nil, 0, err
			}
			r.logger.Debug("Read input document", "path", path)
			docs = append(docs, doc)
		}
		return docs, len(files), nil
	})
}

type loader func(ctx context.Context) (docs []flatten.Value, pages int, err error)

// run wraps a loader with run history, table building, output and metrics.
func (r *Runner) run(ctx context.Context, command, source string, load loader) (_ *Summary, err error) {
	start := r.now()
	summary := &Summary{}

	var (
		runs *storage.RunStore
		rec  *storage.Run
	)
	if r.store != nil {
		runs = storage.NewRunStore(r.store)
		started, serr := runs.Start(ctx, command, source)
		if serr != nil {
			r.logger.Warn("Run history unavailable", "error", serr)
		} else {
			rec = started
			summary.RunID = rec.ID
		}
	}

	defer func() {
		summary.Elapsed = r.now().Sub(start)
		r.metrics.RecordRun(telemetry.RunResult{
			Pages:          summary.Pages,
			Rows:           summary.Rows,
			Columns:        summary.Columns,
			DroppedColumns: len(summary.DroppedColumns),
			Duration:       summary.Elapsed,
			Succeeded:      err == nil,
			FinishedAt:     r.now(),
		})
		if rec != nil {
			rec.Output = summary.Output
			rec.Pages, rec.Rows, rec.Columns = summary.Pages, summary.Rows, summary.Columns
			rec.DroppedColumns = len(summary.DroppedColumns)
			// The caller's context may already be cancelled; history is still written.
			if ferr := runs.Finish(context.WithoutCancel(ctx), rec, err); ferr != nil {
				r.logger.Warn("Failed to record run", "run", rec.ID, "error", ferr)
			}
		}
		r.push(ctx)
	}()

	docs, pages, err := load(ctx)
	if err != nil {
		return nil, err
	}
	summary.Pages = pages

	table, dropped, err := BuildTable(docs, r.cfg.Columns)
	if err != nil {
		return nil, err
	}
	summary.Rows, summary.Columns, summary.DroppedColumns = len(table.Rows), len(table.Header), dropped
	if len(dropped) > 0 {
		r.logger.Info("Dropped constant columns", "count", len(dropped))
	}

	summary.Output = r.cfg.Output.Path
	if summary.Output == "" {
		var first flatten.Value
		if len(docs) > 0 {
			first = docs[0]
		}
		summary.Output = DefaultOutputName(first, r.now(), r.cfg.Output.Compression)
	}

	if err := csvout.WriteFile(summary.Output, r.cfg.Output.Compression, table); err != nil {
		return nil, grerrors.New(grerrors.OutputFailed, "failed to write "+summary.Output, err)
	}
	r.logger.Info("Wrote CSV", "path", summary.Output, "rows", summary.Rows, "columns", summary.Columns)

	summary.Elapsed = r.now().Sub(start)
	return summary, nil
}

// client builds the page fetcher, attaching the page cache when enabled.
func (r *Runner) client() (*fetch.Client, func(), error) {
	opts := []fetch.Option{fetch.WithObserver(r.metrics)}
	if r.httpClient != nil {
		opts = append(opts, fetch.WithHTTPClient(r.httpClient))
	}

	closeCache := func() {}
	if r.store != nil && r.cfg.Cache.Enabled && !r.noCache {
		ttl := time.Duration(r.cfg.Cache.TTLSeconds) * time.Second
		cache, err := storage.NewPageCache(r.store, strings.TrimSpace(r.cfg.API.APIKey), ttl)
		if err != nil {
			return nil, nil, grerrors.New(grerrors.CacheFailed, "failed to open page cache", err)
		}
		if n, err := cache.PurgeExpired(context.Background()); err != nil {
			r.logger.Warn("Failed to purge expired pages", "error", err)
		} else if n > 0 {
			r.logger.Debug("Purged expired pages", "count", n)
		}
		opts = append(opts, fetch.WithCache(cache))
		closeCache = func() { _ = cache.Close() }
	}

	return fetch.NewClient(r.cfg.API.APIKey, fetch.OptionsFromConfig(r.cfg), r.logger, opts...), closeCache, nil
}

// push sends run metrics to the Pushgateway when one is configured. A
// failed push is logged, never returned.
func (r *Runner) push(ctx context.Context) {
	url := r.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.metrics.Push(ctx, url, r.cfg.Metrics.Job, r.cfg.API.ReferenceNumber); err != nil {
		r.logger.Warn("Metrics push failed", "url", url, "error", err)
	}
}

// BuildTable turns documents into one table and applies the constant-column
// filter configured in cols. Separator columns are always kept.
func BuildTable(docs []flatten.Value, cols config.ColumnsConfig) (*flatten.Table, []string, error) {
	var pairs []flatten.Pair
	for i, doc := range docs {
		p, err := flatten.CoercePairs(doc)
		if err != nil {
			msg := "no submissions found"
			if len(docs) > 1 {
				msg = fmt.Sprintf("no submissions found in document %d", i+1)
			}
			return nil, nil, grerrors.New(grerrors.UnrecognizedShape, msg, err)
		}
		pairs = append(pairs, p...)
	}

	table := flatten.Build(pairs, flatten.Options{
		IncludeQuestionID:  cols.IncludeQuestionID,
		PrefixSectionTitle: cols.PrefixSectionTitle,
		SectionSeparators:  cols.SectionSeparators,
	})
	if !cols.DropConstant {
		return table, nil, nil
	}

	keep, err := flatten.CompileKeepPatterns(cols.KeepPatterns)
	if err != nil {
		return nil, nil, grerrors.New(grerrors.ConfigInvalid, "invalid columns.keepPatterns", err)
	}
	filtered, dropped := flatten.DropConstantColumns(table, cols.IgnoreEmpty, keep)
	return filtered, dropped, nil
}

// ExpandInputs resolves file names and doublestar patterns to a sorted,
// de-duplicated file list. A pattern that matches nothing is an error.
func ExpandInputs(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, grerrors.Newf(grerrors.ConfigInvalid, "no input files given")
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, grerrors.New(grerrors.ConfigInvalid, "invalid input pattern "+pattern, err)
		}
		if len(matches) == 0 {
			return nil, grerrors.Newf(grerrors.ConfigInvalid, "no files match %s", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func readDocument(path string) (flatten.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return flatten.Value{}, grerrors.New(grerrors.ConfigInvalid, "cannot read input", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := flatten.DecodeReader(f)
	if err != nil {
		return flatten.Value{}, grerrors.New(grerrors.MalformedResponse, path+" is not valid JSON", err)
	}
	return doc, nil
}
