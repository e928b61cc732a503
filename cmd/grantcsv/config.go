package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"grantcsv/internal/config"
	grerrors "grantcsv/internal/errors"
)

var (
	configFormat    string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage grantcsv configuration",
	Long:  "View and create the configuration stored in " + filepath.Join(config.DefaultDir, config.DefaultFile),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and environment
overrides are applied. The API key is never printed.

Examples:
  grantcsv config show
  grantcsv config show --format json`,
	Args: noArgs(),
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the current settings",
	Args:  maxArgs(1),
	RunE:  runConfigInit,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Args:  noArgs(),
	RunE:  runConfigEnv,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", formatTOML, "Output format (toml, json, yaml)")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEnvCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.API.APIKey != "" {
		shown.API.APIKey = "[REDACTED]"
	}

	w := stdout(cmd)
	if configFormat == formatTOML {
		if src := cfg.Source(); src != "" {
			fmt.Fprintf(w, "# loaded from %s\n", src)
		} else {
			fmt.Fprintln(w, "# no config file; defaults and environment only")
		}
	}
	return render(w, shown, configFormat)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(config.DefaultDir, config.DefaultFile)
	if len(args) == 1 {
		path = args[0]
	}
	if fileExists(path) && !configInitForce {
		return usageError{fmt.Errorf("%s already exists (use --force to overwrite)", path)}
	}
	if err := cfg.Save(path); err != nil {
		return grerrors.New(grerrors.ConfigInvalid, "failed to write "+path, err)
	}
	fmt.Fprintf(stdout(cmd), "Wrote %s\n", path)
	if cfg.API.APIKey != "" {
		fmt.Fprintf(stdout(cmd), "The API key was not saved; set %s instead.\n", config.EnvVar("api.apiKey"))
	}
	return nil
}

func runConfigEnv(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(stdout(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tKEY")
	for _, key := range config.Keys() {
		fmt.Fprintf(tw, "%s\t%s\n", config.EnvVar(key), key)
	}
	return tw.Flush()
}
