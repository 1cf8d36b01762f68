// Package cli implements the shamd command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "shamd",
	Short:         "shamd is a service virtualization server",
	Long:          "shamd runs imposters: virtual HTTP services whose stubs answer requests matched by predicates.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// version is injected by Execute for the version command and status endpoint.
var version = "dev"

// Execute runs the CLI.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
