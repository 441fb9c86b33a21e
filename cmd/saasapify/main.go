package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Leyaaaan1/saas-apify/internal/app"
	"github.com/Leyaaaan1/saas-apify/internal/config"
	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/logging"
)

var version = "dev"

var (
	flagSources []string
	flagLimit   int
)

var rootCmd = &cobra.Command{
	Use:   "saasapify",
	Short: "Social post ingestion and AI enrichment service",
	Long: "saasapify scrapes posts from configured upstream sources, deduplicates and stores them, " +
		"and enriches each with a sentiment/summary/keyword analysis from a rate-limited inference service.",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, application *app.Application) error {
			return application.Serve(ctx)
		})
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape-and-analyze pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, application *app.Application) error {
			return report(application.Scrape(ctx, flagSources, flagLimit))
		})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze stored posts that have no analysis yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, application *app.Application) error {
			return report(application.AnalyzePending(ctx))
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("saasapify %s\n", version)
	},
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&flagSources, "sources", nil, "source names to fetch (default: all configured)")
	scrapeCmd.Flags().IntVar(&flagLimit, "limit", 0, "posts per source (default: from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
}

func withApp(run func(context.Context, *app.Application) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application startup failed", "error", err)
		return err
	}
	defer application.Close()

	return run(ctx, application)
}

func report(result domain.RunResult) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !result.Success {
		return fmt.Errorf("run failed: %s", result.Message)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
