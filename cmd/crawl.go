package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fightgraph-crawler/internal/app"
	"github.com/JakeFAU/fightgraph-crawler/internal/config"
	"github.com/JakeFAU/fightgraph-crawler/internal/crawl"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "crawl <family>",
		Short:     "Crawl one family until its sources are exhausted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: crawl.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCrawl(ctx, cfg, args[0])
		},
	}
}

func runCrawl(ctx context.Context, cfg config.Config, family string) error {
	a, err := app.Build(ctx, cfg, family)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// newFamiliesCmd lists the families 'crawl' accepts.
func newFamiliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List crawlable families",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range crawl.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
