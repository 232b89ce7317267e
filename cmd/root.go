// Package cmd defines the CLI commands of the fightgraph crawler.
//
// A run crawls one family end to end:
//   - Seeds come from configuration, or for events from the organization links already stored.
//   - Listing pages are fetched through a colly collector with per-domain rate limiting, optional
//     proxy rotation and jittered backoff; transport failures are reissued, cancellations are not.
//   - Detail pages are skipped when the entity is already stored.
//   - Extracted records are hashed, deduplicated against the store and buffered per collection;
//     buffers flush in batches and once more on shutdown.
//   - A status server exposes health, counters, buffer sizes and Prometheus metrics while the crawl runs.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "fightgraph-crawler",
		Short: "Crawls combat-sports promotions, events and fighters into a deduplicated store.",
		Long: `fightgraph-crawler fetches promotion, event and fighter pages, extracts
structured records, and writes each new record exactly once to SQLite or
Postgres. Runs are resumable: entities already stored are not fetched again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (INGEST_* environment variables override it)")

	cmd.AddCommand(newCrawlCmd(&cfgFile))
	cmd.AddCommand(newFamiliesCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
