// Factord is the scoped evidence resolution daemon.
//
// It stores incremental, partially-specific assessments of organizational
// factors and answers queries with the most applicable assessment and a
// calibrated confidence, over an HTTP JSON API.
//
// Usage:
//
//	# Start the daemon
//	factord serve --config /etc/factord/config.yaml
//
//	# Validate a factor catalog
//	factord catalog validate /etc/factord/catalog.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "factord",
		Short:         "Scoped evidence resolution daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("factord by Fyrsmith Labs\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", gitCommit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	}
}
