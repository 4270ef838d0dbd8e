package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bunkrgrab/pkg/errors"
	"bunkrgrab/pkg/models"
	"bunkrgrab/pkg/storage"
)

func parseStoredTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func removePolicyValue(deleteOnRemove bool) string {
	if deleteOnRemove {
		return models.RemovePolicyDelete
	}
	return models.RemovePolicyRetain
}

// UpsertManagedAlbum registers an album for recurring syncs, or refreshes an
// existing registration. A blank label keeps the stored one; on first insert
// a blank label defaults to the URL itself. The target folder is stored as an
// absolute path.
func (s *Store) UpsertManagedAlbum(albumURL, label, targetFolder, removePolicy string) (*models.ManagedAlbum, error) {
	albumURL = strings.TrimSpace(albumURL)
	if albumURL == "" {
		return nil, errors.New(errors.ErrorTypeInvalidURL, "album URL is required")
	}
	if removePolicy == "" {
		removePolicy = models.RemovePolicyRetain
	}
	if !models.ValidRemovePolicy(removePolicy) {
		return nil, errors.Newf(errors.ErrorTypeStore, "unknown remove policy %q", removePolicy)
	}

	absTarget, err := filepath.Abs(targetFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target folder: %w", err)
	}

	label = strings.TrimSpace(label)
	insertLabel := label
	if insertLabel == "" {
		insertLabel = albumURL
	}
	deleteOnRemove := 0
	if removePolicy == models.RemovePolicyDelete {
		deleteOnRemove = 1
	}

	now := utcNow()
	_, err = s.db.Exec(`
        INSERT INTO managed_albums (
            album_url, album_label, target_folder,
            delete_local_on_remote_remove, enabled, created_at, updated_at
        )
        VALUES (?, ?, ?, ?, 1, ?, ?)
        ON CONFLICT(album_url) DO UPDATE SET
            album_label = CASE
                WHEN ? <> '' THEN ?
                ELSE managed_albums.album_label
            END,
            target_folder = excluded.target_folder,
            delete_local_on_remote_remove = excluded.delete_local_on_remote_remove,
            enabled = 1,
            updated_at = excluded.updated_at`,
		albumURL, insertLabel, absTarget, deleteOnRemove, now, now,
		label, label)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert managed album: %w", err)
	}

	return s.getManagedAlbumByURL(albumURL)
}

func (s *Store) scanManagedAlbum(row interface {
	Scan(dest ...interface{}) error
}) (*models.ManagedAlbum, error) {
	var (
		m              models.ManagedAlbum
		deleteOnRemove int
		enabled        int
		created        string
		updated        string
	)
	err := row.Scan(&m.ID, &m.URL, &m.Label, &m.TargetFolder,
		&deleteOnRemove, &enabled, &created, &updated)
	if err != nil {
		return nil, err
	}
	m.RemovePolicy = removePolicyValue(deleteOnRemove == 1)
	m.Enabled = enabled == 1
	m.CreatedAt = parseStoredTime(created)
	m.UpdatedAt = parseStoredTime(updated)
	return &m, nil
}

const managedColumns = `id, album_url, album_label, target_folder,
    delete_local_on_remote_remove, enabled, created_at, updated_at`

func (s *Store) getManagedAlbumByURL(albumURL string) (*models.ManagedAlbum, error) {
	row := s.db.QueryRow(
		"SELECT "+managedColumns+" FROM managed_albums WHERE album_url = ?", albumURL)
	m, err := s.scanManagedAlbum(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read managed album: %w", err)
	}
	return m, nil
}

// GetManagedAlbum returns the registry entry with the given id, or false when
// no such entry exists.
func (s *Store) GetManagedAlbum(id int64) (*models.ManagedAlbum, bool, error) {
	row := s.db.QueryRow(
		"SELECT "+managedColumns+" FROM managed_albums WHERE id = ?", id)
	m, err := s.scanManagedAlbum(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read managed album: %w", err)
	}
	return m, true, nil
}

// ListManagedAlbums returns registry entries ordered by id. With enabledOnly
// true, disabled entries are filtered out.
func (s *Store) ListManagedAlbums(enabledOnly bool) ([]models.ManagedAlbum, error) {
	query := "SELECT " + managedColumns + " FROM managed_albums"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed albums: %w", err)
	}
	defer rows.Close()

	var albums []models.ManagedAlbum
	for rows.Next() {
		m, err := s.scanManagedAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan managed album: %w", err)
		}
		albums = append(albums, *m)
	}
	return albums, rows.Err()
}

// DeleteManagedAlbum drops a registry entry. The album's sync history stays.
func (s *Store) DeleteManagedAlbum(id int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM managed_albums WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete managed album: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRemovePolicy switches a managed album between retain and delete.
func (s *Store) SetRemovePolicy(id int64, deleteOnRemove bool) (bool, error) {
	value := 0
	if deleteOnRemove {
		value = 1
	}
	res, err := s.db.Exec(`
        UPDATE managed_albums
        SET delete_local_on_remote_remove = ?, updated_at = ?
        WHERE id = ?`, value, utcNow(), id)
	if err != nil {
		return false, fmt.Errorf("failed to set remove policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetManagedEnabled toggles whether a managed album participates in
// sync-all runs.
func (s *Store) SetManagedEnabled(id int64, enabled bool) (bool, error) {
	value := 0
	if enabled {
		value = 1
	}
	res, err := s.db.Exec(`
        UPDATE managed_albums
        SET enabled = ?, updated_at = ?
        WHERE id = ?`, value, utcNow(), id)
	if err != nil {
		return false, fmt.Errorf("failed to toggle managed album: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetItemCountsMap aggregates per-category item counts for each given album
// URL. URLs with no stored album simply have no entry in the result.
func (s *Store) GetItemCountsMap(urls []string, activeOnly bool) (map[string]models.AlbumItemCounts, error) {
	counts := make(map[string]models.AlbumItemCounts, len(urls))
	if len(urls) == 0 {
		return counts, nil
	}

	placeholders := strings.Repeat("?,", len(urls))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
        SELECT a.album_url, i.media_type, i.suggested_name, i.original_name, i.direct_url
        FROM albums a
        JOIN album_items i ON i.album_id = a.id
        WHERE a.album_url IN (%s)`, placeholders)
	if activeOnly {
		query += " AND i.is_active = 1"
	}

	args := make([]interface{}, len(urls))
	for i, u := range urls {
		args[i] = u
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		var mediaType, suggested, original, direct sql.NullString
		if err := rows.Scan(&url, &mediaType, &suggested, &original, &direct); err != nil {
			return nil, fmt.Errorf("failed to scan item counts: %w", err)
		}
		d := models.ItemDescriptor{
			MediaType:     mediaType.String,
			SuggestedName: suggested.String,
			OriginalName:  original.String,
			DirectURL:     direct.String,
		}
		c := counts[url]
		switch d.Categorize() {
		case models.CategoryImage:
			c.Images++
		case models.CategoryVideo:
			c.Videos++
		case models.CategoryArchive:
			c.Archives++
		default:
			c.Other++
		}
		c.Total++
		counts[url] = c
	}
	return counts, rows.Err()
}

// ListMediaItems returns the stored items of an album for display, active
// first, newest-seen last. Soft-removed items are included only on request.
func (s *Store) ListMediaItems(albumURL string, includeRemoved bool) ([]models.AlbumMediaItem, error) {
	albumID, ok, err := s.albumID(albumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up album: %w", err)
	}
	if !ok {
		return nil, nil
	}

	query := `
        SELECT id, item_key, suggested_name, original_name, media_type,
               direct_url, size_bytes, is_active, is_downloaded,
               COALESCE(downloaded_path, ''), removed_at
        FROM album_items
        WHERE album_id = ?`
	if !includeRemoved {
		query += " AND is_active = 1"
	}
	query += " ORDER BY is_active DESC, id"

	rows, err := s.db.Query(query, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []models.AlbumMediaItem
	for rows.Next() {
		var (
			item                                      models.AlbumMediaItem
			suggested, original, mediaType, directURL sql.NullString
			sizeBytes                                 sql.NullInt64
			active, downloaded                        int
			removedAt                                 sql.NullString
		)
		err := rows.Scan(&item.ID, &item.ItemKey, &suggested, &original,
			&mediaType, &directURL, &sizeBytes, &active, &downloaded,
			&item.DownloadedPath, &removedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		d := models.ItemDescriptor{
			ItemKey:       item.ItemKey,
			SuggestedName: suggested.String,
			OriginalName:  original.String,
			MediaType:     mediaType.String,
			DirectURL:     directURL.String,
		}
		item.DisplayName = d.DisplayName()
		item.Category = d.Categorize()
		item.SizeBytes = sizeBytes.Int64
		item.IsActive = active == 1
		item.IsDownloaded = downloaded == 1
		if removedAt.Valid {
			t := parseStoredTime(removedAt.String)
			item.RemovedAt = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteMediaItem removes one stored item row and, on request, its local
// file. File deletion is refused when the recorded path escapes allowedRoot;
// the row is still deleted in that case and the refusal is reported in the
// result message.
func (s *Store) DeleteMediaItem(albumURL string, mediaID int64, deleteLocalFile bool, allowedRoot string) (*models.MediaDeleteResult, error) {
	albumID, ok, err := s.albumID(albumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up album: %w", err)
	}
	if !ok {
		return &models.MediaDeleteResult{Message: "album not tracked"}, nil
	}

	var downloadedPath string
	err = s.db.QueryRow(`
        SELECT COALESCE(downloaded_path, '')
        FROM album_items
        WHERE album_id = ? AND id = ?`, albumID, mediaID).Scan(&downloadedPath)
	if err == sql.ErrNoRows {
		return &models.MediaDeleteResult{Message: "item not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item: %w", err)
	}

	result := &models.MediaDeleteResult{}

	if deleteLocalFile && downloadedPath != "" {
		if !storage.ContainsPath(allowedRoot, downloadedPath) {
			result.Message = fmt.Sprintf("refused to delete %s: outside %s",
				downloadedPath, allowedRoot)
		} else if err := os.Remove(downloadedPath); err != nil {
			if !os.IsNotExist(err) {
				result.Message = fmt.Sprintf("failed to delete file: %v", err)
			}
		} else {
			result.FileDeleted = true
		}
	}

	res, err := s.db.Exec(
		"DELETE FROM album_items WHERE album_id = ? AND id = ?", albumID, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete item row: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		result.RowDeleted = true
	}
	return result, nil
}
