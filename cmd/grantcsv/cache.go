package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/storage"
)

var cacheFormat string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the local page cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show page cache size",
	Args:  noArgs(),
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached page",
	Args:  noArgs(),
	RunE:  runCacheClear,
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", formatHuman, "Output format (human, json, yaml)")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache(cmd *cobra.Command) (*storage.DB, bool, error) {
	if !fileExists(cfg.Cache.Path) {
		fmt.Fprintf(stdout(cmd), "No cache at %s.\n", cfg.Cache.Path)
		return nil, false, nil
	}
	db, err := storage.Open(cfg.Cache.Path, logger)
	if err != nil {
		return nil, false, grerrors.New(grerrors.CacheFailed, "failed to open "+cfg.Cache.Path, err)
	}
	return db, true, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	db, ok, err := openCache(cmd)
	if !ok {
		return err
	}
	defer func() { _ = db.Close() }()

	pc, err := storage.NewPageCache(db, cfg.API.APIKey, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	if err != nil {
		return grerrors.New(grerrors.CacheFailed, "failed to open page cache", err)
	}
	defer func() { _ = pc.Close() }()

	stats, err := pc.Stats(cmd.Context())
	if err != nil {
		return grerrors.New(grerrors.CacheFailed, "failed to read cache stats", err)
	}
	if cacheFormat != formatHuman {
		return render(stdout(cmd), stats, cacheFormat)
	}

	w := stdout(cmd)
	fmt.Fprintf(w, "Cache:    %s\n", joinNonEmpty(" ", cfg.Cache.Path, enabledNote()))
	fmt.Fprintf(w, "Pages:    %d (%d expired)\n", stats.Entries, stats.ExpiredEntries)
	fmt.Fprintf(w, "Size:     %s stored, %s raw\n", formatBytes(stats.StoredBytes), formatBytes(stats.RawBytes))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	db, ok, err := openCache(cmd)
	if !ok {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := storage.Clear(cmd.Context(), db)
	if err != nil {
		return grerrors.New(grerrors.CacheFailed, "failed to clear cache", err)
	}
	fmt.Fprintf(stdout(cmd), "Removed %d cached pages.\n", n)
	return nil
}

func enabledNote() string {
	if cfg.Cache.Enabled {
		return ""
	}
	return "(disabled)"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// joinNonEmpty joins the non-empty parts with sep.
func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
