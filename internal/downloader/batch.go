package downloader

import (
	"context"

	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/models"
	"bunkrgrab/pkg/storage"
)

// BatchResult aggregates per-item outcomes of one retrieval run. One item's
// failure never aborts siblings; errors are collected as data.
type BatchResult struct {
	Downloaded []string
	Failed     []string
	Skipped    []string
	Errors     []string
	// PathsByKey maps item keys to the paths they were saved at, for the
	// post-batch store refresh.
	PathsByKey map[string]string
}

// Batcher schedules retrieval of an item set with bounded concurrency.
type Batcher struct {
	opener      LinkOpener
	store       *storage.Manager
	concurrency int
	chunkSize   int
	itemLimit   int
	logger      logger.Logger
}

// NewBatcher creates a batch scheduler. itemLimit of 0 means no limit.
func NewBatcher(opener LinkOpener, store *storage.Manager, concurrency, chunkSize, itemLimit int, log logger.Logger) *Batcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Batcher{
		opener:      opener,
		store:       store,
		concurrency: concurrency,
		chunkSize:   chunkSize,
		itemLimit:   itemLimit,
		logger:      log,
	}
}

// DownloadAll retrieves every item into targetDir. Items whose expected
// destination filename already exists (including numbered duplicates) are
// skipped before scheduling; the remainder may be truncated by the item
// limit.
func (b *Batcher) DownloadAll(ctx context.Context, items []models.ItemDescriptor, targetDir string) *BatchResult {
	result := &BatchResult{PathsByKey: make(map[string]string)}

	active := make([]models.ItemDescriptor, 0, len(items))
	for _, item := range items {
		if item.SuggestedName != "" {
			expected := storage.FilenameFor(item.SuggestedName, "", item.DirectURL)
			if path, ok := storage.ExistingVariant(targetDir, expected); ok {
				b.logger.DebugWithFields("skipping existing file", map[string]interface{}{
					"item_key": item.ItemKey,
					"path":     path,
				})
				result.Skipped = append(result.Skipped, item.ItemKey)
				result.PathsByKey[item.ItemKey] = path
				continue
			}
		}
		active = append(active, item)
	}

	if b.itemLimit > 0 && len(active) > b.itemLimit {
		b.logger.InfoWithFields("limiting downloads", map[string]interface{}{
			"limit": b.itemLimit,
			"total": len(active),
		})
		active = active[:b.itemLimit]
	}

	if len(active) == 0 {
		return result
	}

	workers := b.concurrency
	if len(active) < workers {
		workers = len(active)
	}

	pool := NewWorkerPool(ctx, workers, b.chunkSize, b.opener, b.store, b.logger)
	pool.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range pool.Results() {
			if r.Success {
				result.Downloaded = append(result.Downloaded, r.Job.Item.ItemKey)
				result.PathsByKey[r.Job.Item.ItemKey] = r.Path
			} else {
				result.Failed = append(result.Failed, r.Job.Item.ItemKey)
				if r.Error != nil {
					result.Errors = append(result.Errors, r.Error.Error())
				}
			}
		}
	}()

	for _, item := range active {
		if err := pool.Submit(DownloadJob{Item: item, TargetDir: targetDir}); err != nil {
			result.Failed = append(result.Failed, item.ItemKey)
			result.Errors = append(result.Errors, err.Error())
		}
	}

	pool.Stop()
	<-done

	return result
}
