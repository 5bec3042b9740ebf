// Package main provides the bibliometric command line: it runs the
// literature review pipeline locally and inspects the run history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "bibliometric",
	Short: "Bibliometric literature review pipeline",
	Long: `bibliometric searches the literature for two or three domains, integrates
the results, analyses and classifies the articles and writes a report.

Service settings (LLM provider, paper sources, history database) are read
from config.yaml and BIBLIO_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}
