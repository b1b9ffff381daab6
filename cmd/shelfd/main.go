// Shelfd is a books CRUD service instrumented with OpenTelemetry.
//
// Usage:
//
//	# Start the server
//	shelfd serve --config ~/.config/shelfd/config.yaml
//
//	# Talk to a running server
//	shelfd books create --title Dune --author "Frank Herbert"
//	shelfd books list
//
//	# Configure via environment
//	OTEL_SERVICE_NAME=books OTEL_COLLECTOR_HOST=collector shelfd serve
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shelfd",
		Short: "Books service with an OpenTelemetry pipeline",
		Long: `shelfd serves a books API and exports its traces and logs over OTLP.
Metrics are served for scraping on :8081/metrics.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newBooksCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "shelfd\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
