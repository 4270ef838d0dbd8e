package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bunkrgrab/pkg/bunkr"
	"bunkrgrab/pkg/errors"
	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/models"
	"bunkrgrab/pkg/storage"
)

// LinkOpener resolves a URL to an open, streamable media response.
type LinkOpener interface {
	Open(ctx context.Context, rawURL, referer, suggestedName string) (*http.Response, error)
}

// attemptState is the per-job fallback state machine.
type attemptState int

const (
	attemptPrimary attemptState = iota
	attemptFallback
	attemptFailed
)

// DownloadJob represents a single retrieval task
type DownloadJob struct {
	Item      models.ItemDescriptor
	TargetDir string
}

// DownloadResult represents the result of a download job
type DownloadResult struct {
	Job      DownloadJob
	Success  bool
	Path     string
	Error    error
	Duration time.Duration
	Size     int64
}

// WorkerPool manages concurrent retrieval workers
type WorkerPool struct {
	numWorkers  int
	chunkSize   int
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	opener      LinkOpener
	store       *storage.Manager
	logger      logger.Logger
}

// NewWorkerPool creates a new retrieval worker pool
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	chunkSize int,
	opener LinkOpener,
	store *storage.Manager,
	log logger.Logger,
) *WorkerPool {
	poolCtx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		chunkSize:   chunkSize,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		ctx:         poolCtx,
		cancel:      cancel,
		opener:      opener,
		store:       store,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the worker pool
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Submit adds a new download job to the queue
func (wp *WorkerPool) Submit(job DownloadJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processJob runs the Primary -> Fallback -> Failed attempt machine for one
// item. The fallback URL is tried exactly once, and only after the primary
// attempt failed.
func (wp *WorkerPool) processJob(job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{Job: job}

	item := job.Item
	state := attemptPrimary
	var lastErr error

	for state != attemptFailed {
		url := item.DirectURL
		if state == attemptFallback {
			url = item.FallbackURL
		}

		path, size, err := wp.attempt(url, item, job.TargetDir)
		if err == nil {
			result.Success = true
			result.Path = path
			result.Size = size
			result.Duration = time.Since(start)
			wp.logger.DebugWithFields("download complete", map[string]interface{}{
				"worker_id": workerID,
				"item_key":  item.ItemKey,
				"path":      path,
				"size":      size,
			})
			return result
		}
		lastErr = err

		if state == attemptPrimary && item.FallbackURL != "" && item.FallbackURL != item.DirectURL {
			wp.logger.DebugWithFields("primary attempt failed, trying fallback", map[string]interface{}{
				"worker_id": workerID,
				"item_key":  item.ItemKey,
				"error":     err.Error(),
			})
			state = attemptFallback
		} else {
			state = attemptFailed
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	wp.logger.ErrorWithFields("download failed", map[string]interface{}{
		"worker_id": workerID,
		"item_key":  item.ItemKey,
		"error":     lastErr.Error(),
	})
	return result
}

// attempt resolves one URL and streams it to disk.
func (wp *WorkerPool) attempt(url string, item models.ItemDescriptor, targetDir string) (string, int64, error) {
	if url == "" {
		return "", 0, errors.New(errors.ErrorTypeInvalidURL, "empty URL")
	}

	resp, err := wp.opener.Open(wp.ctx, url, item.RefererURL, item.SuggestedName)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	// The resolver only returns non-HTML responses, but a misbehaving CDN
	// can still lie after redirects.
	if bunkr.IsHTMLContentType(resp.Header.Get("Content-Type")) {
		return "", 0, errors.Newf(errors.ErrorTypeUnexpectedContent,
			"expected media but got HTML at %s", resp.Request.URL)
	}

	name := storage.FilenameFor(
		item.SuggestedName,
		resp.Header.Get("Content-Disposition"),
		resp.Request.URL.String(),
	)
	destPath, err := storage.ClaimPath(filepath.Join(targetDir, name))
	if err != nil {
		return "", 0, err
	}

	size, err := wp.store.SaveStream(resp.Body, destPath, wp.chunkSize)
	if err != nil {
		os.Remove(destPath)
		return "", size, err
	}
	return destPath, size, nil
}
