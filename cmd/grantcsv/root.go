package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"grantcsv/internal/config"
	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/slogutil"
	"grantcsv/internal/version"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	configPath string
	verbosity  int
	quiet      bool
	logLevel   string
	logFile    string

	// Set by the root PersistentPreRunE for every command.
	cfg       *config.Config
	logger    = slogutil.NewDiscardLogger()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "grantcsv",
	Short: "grantcsv - Find a Grant submissions to CSV",
	Long: `grantcsv downloads every submission for a grant scheme from the Find a Grant
open-data API and writes them as one flat CSV: one row per submission, one
column per question, with section separator columns and constant columns
removed.`,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate("grantcsv version {{.Version}}\n")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (default ./"+config.DefaultDir+"/"+config.DefaultFile+")")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error, silent (overrides -v/-q)")
	flags.StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated by logging.maxSize")
}

// usageError marks bad invocations, which exit 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Positional argument validators that fail with a usage error.
func minArgs(n int) cobra.PositionalArgs { return asUsage(cobra.MinimumNArgs(n)) }
func maxArgs(n int) cobra.PositionalArgs { return asUsage(cobra.MaximumNArgs(n)) }
func noArgs() cobra.PositionalArgs       { return asUsage(cobra.NoArgs) }

func asUsage(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// setup loads the configuration and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return grerrors.New(grerrors.ConfigInvalid, "failed to load configuration", err)
	}
	cfg = loaded

	if logFile != "" {
		cfg.Logging.File = logFile
	}
	level := slogutil.LevelFromString(cfg.Logging.Level)
	switch {
	case logLevel != "":
		if !slogutil.ValidLevel(logLevel) {
			return usageError{fmt.Errorf("unknown log level %q", logLevel)}
		}
		level = slogutil.LevelFromString(logLevel)
	case verbosity > 0 || quiet:
		level = slogutil.LevelFromVerbosity(verbosity, quiet)
	}

	l, closer, err := slogutil.Setup(slogutil.Options{
		Console:      cmd.ErrOrStderr(),
		ConsoleLevel: level,
		File:         cfg.Logging.File,
		FileLevel:    slog.LevelDebug,
		MaxSize:      cfg.Logging.MaxSize,
		MaxBackups:   cfg.Logging.MaxBackups,
	})
	if err != nil {
		return grerrors.New(grerrors.ConfigInvalid, "failed to open log file", err)
	}
	logger, logCloser = l, closer

	if src := cfg.Source(); src != "" {
		logger.Debug("Loaded configuration", "path", src)
		if unknown, err := config.UnknownKeys(src); err != nil {
			logger.Warn("Could not check config keys", "path", src, "error", err)
		} else if len(unknown) > 0 {
			logger.Warn("Unknown config keys ignored", "path", src, "keys", unknown)
		}
	}
	return nil
}

// execute runs the command tree and maps its error to an exit code.
func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
	if err == nil {
		return exitOK
	}
	reportError(rootCmd.ErrOrStderr(), err)
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	if grerrors.CodeOf(err) == grerrors.ConfigInvalid || strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitError
}

// reportError prints err and the suggested fixes of its code.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(w, "Run 'grantcsv --help' for usage.")
		return
	}

	var ge *grerrors.GrantError
	if !errors.As(err, &ge) || len(ge.SuggestedFixes) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSuggested fixes:")
	for _, fix := range ge.SuggestedFixes {
		switch fix.Type {
		case grerrors.RunCommand:
			fmt.Fprintf(w, "  - %s: %s\n", fix.Description, fix.Command)
		case grerrors.SetEnv:
			fmt.Fprintf(w, "  - %s (%s)\n", fix.Description, fix.Variable)
		default:
			fmt.Fprintf(w, "  - %s\n", fix.Description)
		}
	}
}

// stdout is where command results go; logs go to stderr.
func stdout(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
