package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"grantcsv/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  noArgs(),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(stdout(cmd), version.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
