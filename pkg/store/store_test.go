package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunkrgrab/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "albums.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(key, name string, size int64) models.ItemDescriptor {
	return models.ItemDescriptor{
		ItemKey:       key,
		Slug:          key,
		OriginalName:  name,
		SuggestedName: name,
		MediaType:     "image/jpeg",
		SizeBytes:     size,
		DirectURL:     "https://cdn.example.com/files/" + name,
		FallbackURL:   "https://bunkr.si/f/" + key,
	}
}

const albumURL = "https://bunkr.si/a/test"

func TestSyncItemsInitialAdd(t *testing.T) {
	s := newTestStore(t)

	summary, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("a", "a.jpg", 1),
		item("b", "b.jpg", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Removed)
}

func TestSyncItemsIdempotent(t *testing.T) {
	s := newTestStore(t)
	items := []models.ItemDescriptor{item("a", "a.jpg", 1), item("b", "b.jpg", 2)}

	_, err := s.SyncItems(albumURL, "Test Album", items)
	require.NoError(t, err)

	summary, err := s.SyncItems(albumURL, "Test Album", items)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Added)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Removed)
}

func TestSyncItemsDiff(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("a", "a.jpg", 1), item("b", "b.jpg", 2), item("c", "c.jpg", 3),
	})
	require.NoError(t, err)

	// {a,b,c} -> {b,c,d}: one added, one removed, none updated.
	summary, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("b", "b.jpg", 2), item("c", "c.jpg", 3), item("d", "d.jpg", 4),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.Removed)
}

func TestSyncItemsDetectsChange(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)

	summary, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 999)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Added)
}

func TestSyncItemsReappearCountsAsUpdate(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)
	_, err = s.SyncItems(albumURL, "Test Album", nil)
	require.NoError(t, err)

	summary, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Added)

	items, err := s.ListMediaItems(albumURL, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsActive)
	assert.Nil(t, items[0].RemovedAt)
}

func TestSyncItemsDedupesLastWins(t *testing.T) {
	s := newTestStore(t)

	summary, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("a", "first.jpg", 1),
		item("a", "second.jpg", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Added)

	items, err := s.ListMediaItems(albumURL, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "second.jpg", items[0].DisplayName)
}

func TestSyncItemsDiscardsKeylessDescriptors(t *testing.T) {
	s := newTestStore(t)

	summary, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		{OriginalName: "no identity at all"},
		item("a", "a.jpg", 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

func TestSyncItemsBlankNameKeepsStored(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SyncItems(albumURL, "Real Name", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)
	_, err = s.SyncItems(albumURL, "", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)

	var name string
	err = s.db.QueryRow("SELECT album_name FROM albums WHERE album_url = ?", albumURL).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "Real Name", name)
}

func TestRefreshDownloadState(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("a", "present.jpg", 1),
		item("b", "absent.jpg", 2),
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.jpg"), []byte("x"), 0644))

	summary, err := s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Downloaded)
	// Every item without a local file counts as missing, downloaded or not.
	assert.Equal(t, 1, summary.Missing)

	require.NoError(t, os.Remove(filepath.Join(dir, "present.jpg")))
	summary, err = s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Downloaded)
	assert.Equal(t, 2, summary.Missing)
}

func TestRefreshDownloadStateIncludesRemovedItems(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("a", "a.jpg", 1),
		item("b", "b.jpg", 2),
	})
	require.NoError(t, err)
	_, err = s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)

	// Nothing on disk: both rows are walked, the removed one included.
	summary, err := s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Missing)

	// A removed-but-downloaded item whose file disappears is reconciled too.
	path := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, s.RecordDownloadedPaths(albumURL, map[string]string{"b": path}))
	require.NoError(t, os.Remove(path))

	_, err = s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)

	all, err := s.ListMediaItems(albumURL, true)
	require.NoError(t, err)
	for _, it := range all {
		assert.False(t, it.IsDownloaded, "%s should be reconciled to not-downloaded", it.DisplayName)
		if it.ItemKey == "b" {
			assert.False(t, it.IsActive, "refresh must not touch is_active")
		}
	}
}

func TestRefreshDownloadStateMatchesNumberedDuplicate(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "photo.jpg", 1)})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo (2).jpg"), []byte("x"), 0644))

	summary, err := s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Downloaded)
}

func TestApplyRemovedPolicyRetain(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "keep.jpg", 1)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.jpg"), []byte("x"), 0644))
	_, err = s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)

	// Item disappears remotely.
	_, err = s.SyncItems(albumURL, "Test Album", nil)
	require.NoError(t, err)

	summary, err := s.ApplyRemovedPolicy(albumURL, false, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retained)
	assert.Equal(t, 0, summary.Deleted)

	// The file stays. The item is still a candidate on later passes, so a
	// second retain pass re-marks it.
	_, statErr := os.Stat(filepath.Join(dir, "keep.jpg"))
	assert.NoError(t, statErr)

	summary, err = s.ApplyRemovedPolicy(albumURL, false, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retained)
	assert.Equal(t, 0, summary.Deleted)
}

func TestApplyRemovedPolicyDeleteAfterRetain(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "flip.jpg", 1)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flip.jpg"), []byte("x"), 0644))
	_, err = s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)

	_, err = s.SyncItems(albumURL, "Test Album", nil)
	require.NoError(t, err)

	summary, err := s.ApplyRemovedPolicy(albumURL, false, dir)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Retained)

	// Flipping the policy to delete still removes a previously retained file.
	summary, err = s.ApplyRemovedPolicy(albumURL, true, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 0, summary.DeleteErrors)

	_, statErr := os.Stat(filepath.Join(dir, "flip.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyRemovedPolicyAlreadyGoneFileNotCountedDeleted(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "ghost.jpg", 1)})
	require.NoError(t, err)
	path := filepath.Join(dir, "ghost.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	_, err = s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)

	_, err = s.SyncItems(albumURL, "Test Album", nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	// The file is already gone: stamped so it leaves the candidate set, but
	// nothing was actually deleted.
	summary, err := s.ApplyRemovedPolicy(albumURL, true, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 0, summary.DeleteErrors)

	summary, err = s.ApplyRemovedPolicy(albumURL, true, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 0, summary.Retained)
}

func TestApplyRemovedPolicyDelete(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "gone.jpg", 1)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.jpg"), []byte("x"), 0644))
	_, err = s.RefreshDownloadState(albumURL, dir)
	require.NoError(t, err)

	_, err = s.SyncItems(albumURL, "Test Album", nil)
	require.NoError(t, err)

	summary, err := s.ApplyRemovedPolicy(albumURL, true, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 0, summary.DeleteErrors)

	_, statErr := os.Stat(filepath.Join(dir, "gone.jpg"))
	assert.True(t, os.IsNotExist(statErr))

	// Already stamped: a second pass finds nothing to do.
	summary, err = s.ApplyRemovedPolicy(albumURL, true, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deleted)
}

func TestApplyRemovedPolicyRefusesOutsidePath(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "outside.jpg", 1)})
	require.NoError(t, err)
	// Simulate a recorded path pointing outside the target folder.
	require.NoError(t, s.RecordDownloadedPaths(albumURL, map[string]string{"a": outside}))

	_, err = s.SyncItems(albumURL, "Test Album", nil)
	require.NoError(t, err)

	summary, err := s.ApplyRemovedPolicy(albumURL, true, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 1, summary.DeleteErrors)

	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr, "file outside the target folder must survive")
}

func TestManagedAlbumLifecycle(t *testing.T) {
	s := newTestStore(t)

	m, err := s.UpsertManagedAlbum(albumURL, "My Label", "./target", models.RemovePolicyRetain)
	require.NoError(t, err)
	assert.Equal(t, "My Label", m.Label)
	assert.Equal(t, models.RemovePolicyRetain, m.RemovePolicy)
	assert.True(t, m.Enabled)
	assert.True(t, filepath.IsAbs(m.TargetFolder))

	// Blank label keeps the stored one.
	m, err = s.UpsertManagedAlbum(albumURL, "", "./elsewhere", models.RemovePolicyDelete)
	require.NoError(t, err)
	assert.Equal(t, "My Label", m.Label)
	assert.Equal(t, models.RemovePolicyDelete, m.RemovePolicy)

	list, err := s.ListManagedAlbums(false)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ok, err := s.SetManagedEnabled(m.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	enabled, err := s.ListManagedAlbums(true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	ok, err = s.SetRemovePolicy(m.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)
	got, found, err := s.GetManagedAlbum(m.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.RemovePolicyRetain, got.RemovePolicy)

	removed, err := s.DeleteManagedAlbum(m.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	_, found, err = s.GetManagedAlbum(m.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertManagedAlbumDefaultsLabelToURL(t *testing.T) {
	s := newTestStore(t)

	m, err := s.UpsertManagedAlbum(albumURL, "", ".", "")
	require.NoError(t, err)
	assert.Equal(t, albumURL, m.Label)
	assert.Equal(t, models.RemovePolicyRetain, m.RemovePolicy)
}

func TestUpsertManagedAlbumRejectsBadInput(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertManagedAlbum("", "x", ".", models.RemovePolicyRetain)
	assert.Error(t, err)

	_, err = s.UpsertManagedAlbum(albumURL, "x", ".", "purge")
	assert.Error(t, err)
}

func TestGetItemCountsMap(t *testing.T) {
	s := newTestStore(t)

	img := item("a", "a.jpg", 1)
	vid := item("b", "b.mp4", 2)
	vid.MediaType = "video/mp4"
	arc := item("c", "c.zip", 3)
	arc.MediaType = "application/zip"

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{img, vid, arc})
	require.NoError(t, err)

	counts, err := s.GetItemCountsMap([]string{albumURL, "https://bunkr.si/a/unknown"}, true)
	require.NoError(t, err)

	c := counts[albumURL]
	assert.Equal(t, 1, c.Images)
	assert.Equal(t, 1, c.Videos)
	assert.Equal(t, 1, c.Archives)
	assert.Equal(t, 3, c.Total)

	_, tracked := counts["https://bunkr.si/a/unknown"]
	assert.False(t, tracked)
}

func TestListMediaItems(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{
		item("a", "a.jpg", 1), item("b", "b.jpg", 2),
	})
	require.NoError(t, err)
	_, err = s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)

	active, err := s.ListMediaItems(albumURL, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := s.ListMediaItems(albumURL, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].IsActive)
	assert.False(t, all[1].IsActive)
	assert.NotNil(t, all[1].RemovedAt)
}

func TestDeleteMediaItem(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "del.jpg", 1)})
	require.NoError(t, err)

	path := filepath.Join(dir, "del.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, s.RecordDownloadedPaths(albumURL, map[string]string{"a": path}))

	items, err := s.ListMediaItems(albumURL, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	result, err := s.DeleteMediaItem(albumURL, items[0].ID, true, dir)
	require.NoError(t, err)
	assert.True(t, result.RowDeleted)
	assert.True(t, result.FileDeleted)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	remaining, err := s.ListMediaItems(albumURL, true)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeleteMediaItemRefusesOutsideRoot(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

	_, err := s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "outside.jpg", 1)})
	require.NoError(t, err)
	require.NoError(t, s.RecordDownloadedPaths(albumURL, map[string]string{"a": outside}))

	items, err := s.ListMediaItems(albumURL, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	result, err := s.DeleteMediaItem(albumURL, items[0].ID, true, dir)
	require.NoError(t, err)
	assert.True(t, result.RowDeleted)
	assert.False(t, result.FileDeleted)
	assert.NotEmpty(t, result.Message)

	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr)
}

func TestMigrationAddsColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "albums.db")

	// First open creates the schema; a second open must be a no-op.
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.SyncItems(albumURL, "Test Album", []models.ItemDescriptor{item("a", "a.jpg", 1)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.ListMediaItems(albumURL, false)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestExtractSlug(t *testing.T) {
	assert.Equal(t, "abc123", extractSlug("https://bunkr.si/f/abc123"))
	assert.Equal(t, "", extractSlug("https://bunkr.si/a/abc123"))
	assert.Equal(t, "", extractSlug(""))
}
