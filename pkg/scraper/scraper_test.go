package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunkrgrab/pkg/config"
	"bunkrgrab/pkg/models"
)

// albumServer serves an album page plus the media files it references. The
// returned toggle shrinks the album to its first item, simulating a removal
// upstream.
func albumServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()

	shrunk := false
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/a/trip", func(w http.ResponseWriter, r *http.Request) {
		second := `
  {
    slug: "two",
    original: "two.jpg",
    type: "image/jpeg",
    size: 3,
    cdnEndpoint: "/files/two.jpg",
    thumbnail: "` + server.URL + `/t/two.png",
  },`
		if shrunk {
			second = ""
		}
		fmt.Fprint(w, `<html><body>
<div class="mb-2 sm:text-lg"><h1>Trip Photos</h1></div>
<script>
window.albumFiles = [
  {
    slug: "one",
    original: "one.jpg",
    type: "image/jpeg",
    size: 3,
    cdnEndpoint: "/files/one.jpg",
    thumbnail: "`+server.URL+`/t/one.png",
  },`+second+`
];
</script>
</body></html>`)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		fmt.Fprint(w, "jpg")
	})

	return server, func() { shrunk = true }
}

func newTestScraper(t *testing.T) *Scraper {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "albums.db")
	cfg.Output.BaseDirectory = filepath.Join(dir, "out")
	cfg.Resolver.CDNHostsFile = filepath.Join(dir, "cdn_hosts.txt")
	cfg.Download.ConcurrentDownloads = 2

	s, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDownloadAlbumLifecycle(t *testing.T) {
	server, shrink := albumServer(t)
	s := newTestScraper(t)
	albumURL := server.URL + "/a/trip"

	// First pass: both items are new and get downloaded.
	report, err := s.DownloadAlbum(context.Background(), albumURL, "", false)
	require.NoError(t, err)

	assert.Equal(t, "Trip Photos", report.AlbumName)
	assert.Equal(t, 2, report.Sync.Added)
	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.State.Downloaded)
	assert.Equal(t, 0, report.State.Missing)

	for _, name := range []string{"one.jpg", "two.jpg"} {
		data, err := os.ReadFile(filepath.Join(report.TargetDir, name))
		require.NoError(t, err, "expected %s on disk", name)
		assert.Equal(t, "jpg", string(data))
	}

	// Second pass: nothing changed, everything already on disk.
	report, err = s.DownloadAlbum(context.Background(), albumURL, "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sync.Added)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 2, report.Skipped)

	// Third pass: item "two" disappeared upstream; the delete policy removes
	// its local file.
	shrink()
	report, err = s.DownloadAlbum(context.Background(), albumURL, "", true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sync.Removed)
	assert.Equal(t, 1, report.Removal.Deleted)
	assert.Equal(t, 0, report.Removal.DeleteErrors)

	_, err = os.Stat(filepath.Join(report.TargetDir, "two.jpg"))
	assert.True(t, os.IsNotExist(err), "removed item's file should be deleted")
	_, err = os.Stat(filepath.Join(report.TargetDir, "one.jpg"))
	assert.NoError(t, err, "surviving item's file must stay")
}

func TestSyncAlbumDoesNotDownload(t *testing.T) {
	server, _ := albumServer(t)
	s := newTestScraper(t)

	report, err := s.SyncAlbum(context.Background(), server.URL+"/a/trip", "", false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sync.Added)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 0, report.State.Downloaded)

	entries, err := os.ReadDir(report.TargetDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "sync must not fetch media")
}

func TestRunManaged(t *testing.T) {
	server, _ := albumServer(t)
	s := newTestScraper(t)
	target := t.TempDir()

	_, err := s.Store().UpsertManagedAlbum(server.URL+"/a/trip", "trip", target, models.RemovePolicyRetain)
	require.NoError(t, err)

	reports, errs := s.RunManaged(context.Background(), true)
	require.Empty(t, errs)
	require.Len(t, reports, 1)

	assert.Equal(t, 2, reports[0].Downloaded)
	_, err = os.Stat(filepath.Join(reports[0].TargetDir, "one.jpg"))
	assert.NoError(t, err)
	// The managed entry's folder override is honored.
	assert.Equal(t, target, reports[0].TargetDir)
}

func TestRunManagedSkipsDisabled(t *testing.T) {
	server, _ := albumServer(t)
	s := newTestScraper(t)

	m, err := s.Store().UpsertManagedAlbum(server.URL+"/a/trip", "trip", t.TempDir(), models.RemovePolicyRetain)
	require.NoError(t, err)
	ok, err := s.Store().SetManagedEnabled(m.ID, false)
	require.NoError(t, err)
	require.True(t, ok)

	reports, errs := s.RunManaged(context.Background(), true)
	assert.Empty(t, errs)
	assert.Empty(t, reports)
}
