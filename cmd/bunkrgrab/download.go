package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"bunkrgrab/pkg/logger"
)

var (
	downloadTarget        string
	downloadDeleteRemoved bool
)

// downloadCmd runs the full pipeline for one album.
var downloadCmd = &cobra.Command{
	Use:   "download <album-url>",
	Short: "Download an album and record it in the local store",
	Long: `Download every item of an album into a per-album folder.

The album is fetched, diffed against the local store, and missing files are
downloaded concurrently. Files already on disk (including numbered
duplicates) are skipped. Items that disappeared from the album are
soft-removed in the store; pass --delete-removed to also delete their local
files.`,
	Example: `  # Download into the default output directory
  bunkrgrab download https://bunkr.si/a/abc123

  # Download into a specific folder with higher concurrency
  bunkrgrab download https://bunkr.si/a/abc123 --target ./vacation --concurrent 8

  # Mirror the album: delete local files for remotely removed items
  bunkrgrab download https://bunkr.si/a/abc123 --delete-removed`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		albumURL := strings.TrimSpace(args[0])

		s, _, err := newScraper()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := s.DownloadAlbum(ctx, albumURL, downloadTarget, downloadDeleteRemoved)
		if err != nil {
			logger.WithError(err).WithField("album_url", albumURL).Error("download failed")
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadTarget, "target", "t", "", "explicit target folder (default: <output>/<album name>)")
	downloadCmd.Flags().BoolVar(&downloadDeleteRemoved, "delete-removed", false, "delete local files for items removed from the album")
}
