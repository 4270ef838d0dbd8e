package scraper

import (
	"context"
	"fmt"
	"time"

	"bunkrgrab/internal/downloader"
	"bunkrgrab/pkg/bunkr"
	"bunkrgrab/pkg/config"
	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/models"
	"bunkrgrab/pkg/ratelimit"
	"bunkrgrab/pkg/resolver"
	"bunkrgrab/pkg/storage"
	"bunkrgrab/pkg/store"
)

// RunReport is the outcome of one album pass: what was observed, what
// changed in the store, what landed on disk, and what the removal policy did.
type RunReport struct {
	AlbumURL   string
	AlbumName  string
	TargetDir  string
	Sync       *models.SyncSummary
	Downloaded int
	Skipped    int
	Failed     int
	Errors     []string
	State      *models.DownloadStateSummary
	Removal    *models.RemovalPolicySummary
	Duration   time.Duration
}

// Scraper wires the album fetcher, link resolver, retrieval scheduler and
// album store into the end-to-end flows the CLI exposes.
type Scraper struct {
	cfg      *config.Config
	client   *bunkr.Client
	fetcher  *bunkr.Fetcher
	resolver *resolver.Resolver
	store    *store.Store
	files    *storage.Manager
	logger   logger.Logger
}

// New builds a scraper from configuration. The caller must Close it.
func New(cfg *config.Config, log logger.Logger) (*Scraper, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	limiter := ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)
	client := bunkr.NewClient(cfg.Download.ReadTimeout, limiter, log).
		WithRetry(cfg.Resolver.RetryAttempts, cfg.Resolver.BackoffBase)

	hostCache := resolver.NewHostCache(cfg.Resolver.ExtraCDNHosts, cfg.Resolver.CDNHostsFile)
	res := resolver.New(client, cfg.Resolver.APIBase, hostCache, cfg.Resolver.MaxHops, log)

	files, err := storage.NewManager(cfg.Output.BaseDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output directory: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:      cfg,
		client:   client,
		fetcher:  bunkr.NewFetcher(client, log),
		resolver: res,
		store:    st,
		files:    files,
		logger:   log,
	}, nil
}

// Store exposes the underlying album store for registry commands.
func (s *Scraper) Store() *store.Store {
	return s.store
}

// Close releases the scraper's persistent resources.
func (s *Scraper) Close() error {
	return s.store.Close()
}

// targetDirFor picks the destination folder: an explicit override wins,
// otherwise a per-album folder under the output base directory.
func (s *Scraper) targetDirFor(albumName, override string) (string, error) {
	if override != "" {
		return s.files.AlbumDirAt(override)
	}
	return s.files.AlbumDir(albumName)
}

// DownloadAlbum runs the full pipeline for one album: fetch, sync the store,
// download missing items, reconcile local state, then apply the removal
// policy. targetDir may be empty to derive a folder from the album name.
func (s *Scraper) DownloadAlbum(ctx context.Context, albumURL, targetDir string, deleteRemoved bool) (*RunReport, error) {
	start := time.Now()

	albumName, items, err := s.fetcher.Fetch(ctx, albumURL)
	if err != nil {
		return nil, err
	}

	report := &RunReport{AlbumURL: albumURL, AlbumName: albumName}

	report.Sync, err = s.store.SyncItems(albumURL, albumName, items)
	if err != nil {
		return nil, err
	}

	dir, err := s.targetDirFor(albumName, targetDir)
	if err != nil {
		return nil, err
	}
	report.TargetDir = dir

	batcher := downloader.NewBatcher(
		s.resolver, s.files,
		s.cfg.Download.ConcurrentDownloads,
		s.cfg.Download.ChunkSize,
		s.cfg.Download.ItemLimit,
		s.logger,
	)
	batch := batcher.DownloadAll(ctx, items, dir)
	report.Downloaded = len(batch.Downloaded)
	report.Skipped = len(batch.Skipped)
	report.Failed = len(batch.Failed)
	report.Errors = batch.Errors

	if err := s.store.RecordDownloadedPaths(albumURL, batch.PathsByKey); err != nil {
		s.logger.WarnWithFields("failed to record downloaded paths", map[string]interface{}{
			"album_url": albumURL,
			"error":     err.Error(),
		})
	}

	report.State, err = s.store.RefreshDownloadState(albumURL, dir)
	if err != nil {
		return nil, err
	}
	report.Removal, err = s.store.ApplyRemovedPolicy(albumURL, deleteRemoved, dir)
	if err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	s.logger.InfoWithFields("album pass complete", map[string]interface{}{
		"album_url":  albumURL,
		"album_name": albumName,
		"downloaded": report.Downloaded,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
		"duration":   report.Duration,
	})
	return report, nil
}

// SyncAlbum refreshes the stored view of one album without downloading
// anything. Local-state reconciliation and the removal policy still run so
// the store reflects reality.
func (s *Scraper) SyncAlbum(ctx context.Context, albumURL, targetDir string, deleteRemoved bool) (*RunReport, error) {
	start := time.Now()

	albumName, items, err := s.fetcher.Fetch(ctx, albumURL)
	if err != nil {
		return nil, err
	}

	report := &RunReport{AlbumURL: albumURL, AlbumName: albumName}

	report.Sync, err = s.store.SyncItems(albumURL, albumName, items)
	if err != nil {
		return nil, err
	}

	dir, err := s.targetDirFor(albumName, targetDir)
	if err != nil {
		return nil, err
	}
	report.TargetDir = dir

	report.State, err = s.store.RefreshDownloadState(albumURL, dir)
	if err != nil {
		return nil, err
	}
	report.Removal, err = s.store.ApplyRemovedPolicy(albumURL, deleteRemoved, dir)
	if err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	return report, nil
}

// RunManaged processes every enabled managed album in registration order,
// honoring each entry's target folder and removal policy. One album's failure
// does not stop the others; failures are collected and returned alongside the
// reports of the albums that succeeded.
func (s *Scraper) RunManaged(ctx context.Context, downloadMissing bool) ([]*RunReport, []error) {
	albums, err := s.store.ListManagedAlbums(true)
	if err != nil {
		return nil, []error{err}
	}

	var reports []*RunReport
	var errs []error
	for _, m := range albums {
		deleteRemoved := m.RemovePolicy == models.RemovePolicyDelete

		var report *RunReport
		var runErr error
		if downloadMissing {
			report, runErr = s.DownloadAlbum(ctx, m.URL, m.TargetFolder, deleteRemoved)
		} else {
			report, runErr = s.SyncAlbum(ctx, m.URL, m.TargetFolder, deleteRemoved)
		}
		if runErr != nil {
			s.logger.ErrorWithFields("managed album run failed", map[string]interface{}{
				"album_url": m.URL,
				"label":     m.Label,
				"error":     runErr.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", m.Label, runErr))
			continue
		}
		reports = append(reports, report)

		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return reports, errs
}
