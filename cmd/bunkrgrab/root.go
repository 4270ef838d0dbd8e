package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"bunkrgrab/pkg/config"
	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/scraper"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	storePath  string
	outputDir  string
	concurrent int
	itemLimit  int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bunkrgrab",
	Short: "Album downloader and tracker for bunkr file hosts",
	Long: `bunkrgrab downloads and tracks media albums from bunkr-style file hosts.

Features:
  - Full album discovery with pagination and DOM fallback parsing
  - Multi-hop link resolution, including encrypted file-id endpoints
  - Concurrent downloads with rate limiting and automatic retry
  - A local SQLite store that tracks added, changed and removed items
  - Managed albums for recurring syncs with per-album removal policies`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .bunkrgrab.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "path to the album database")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output base directory for downloads")
	rootCmd.PersistentFlags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	rootCmd.PersistentFlags().IntVar(&itemLimit, "limit", 0, "maximum items to download per run (0 = no limit)")

	rootCmd.SetVersionTemplate(`bunkrgrab {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig assembles the effective configuration from flags, environment
// and config file, and initializes the global logger.
func loadConfig() (*config.Config, error) {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if itemLimit > 0 {
		flags["limit"] = itemLimit
	}
	if storePath != "" {
		flags["store"] = storePath
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newScraper loads configuration and builds the wired pipeline.
func newScraper() (*scraper.Scraper, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := scraper.New(cfg, logger.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// printReport writes a one-album run summary to stdout.
func printReport(r *scraper.RunReport) {
	fmt.Printf("Album: %s\n", r.AlbumName)
	fmt.Printf("  folder:   %s\n", r.TargetDir)
	if r.Sync != nil {
		fmt.Printf("  items:    %d total, %d added, %d updated, %d removed\n",
			r.Sync.Total, r.Sync.Added, r.Sync.Updated, r.Sync.Removed)
	}
	if r.Downloaded > 0 || r.Failed > 0 || r.Skipped > 0 {
		fmt.Printf("  files:    %d downloaded, %d skipped, %d failed\n",
			r.Downloaded, r.Skipped, r.Failed)
	}
	if r.State != nil {
		fmt.Printf("  local:    %d present, %d missing\n", r.State.Downloaded, r.State.Missing)
	}
	if r.Removal != nil && (r.Removal.Retained > 0 || r.Removal.Deleted > 0 || r.Removal.DeleteErrors > 0) {
		fmt.Printf("  removed:  %d retained, %d deleted, %d errors\n",
			r.Removal.Retained, r.Removal.Deleted, r.Removal.DeleteErrors)
	}
	for _, e := range r.Errors {
		fmt.Printf("  error:    %s\n", e)
	}
}
