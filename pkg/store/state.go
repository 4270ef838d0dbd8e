package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"bunkrgrab/pkg/models"
	"bunkrgrab/pkg/storage"
)

// RecordDownloadedPaths marks items as downloaded at the given paths. Keys
// without a stored row are ignored.
func (s *Store) RecordDownloadedPaths(albumURL string, pathsByKey map[string]string) error {
	if len(pathsByKey) == 0 {
		return nil
	}
	albumID, ok, err := s.albumID(albumURL)
	if err != nil {
		return fmt.Errorf("failed to look up album: %w", err)
	}
	if !ok {
		return nil
	}

	now := utcNow()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, path := range pathsByKey {
		_, err := tx.Exec(`
            UPDATE album_items
            SET is_downloaded = 1,
                downloaded_path = ?,
                downloaded_at = COALESCE(downloaded_at, ?),
                local_missing_at = NULL,
                updated_at = ?
            WHERE album_id = ? AND item_key = ?`,
			path, now, now, albumID, key)
		if err != nil {
			return fmt.Errorf("failed to record download for %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// RefreshDownloadState walks every stored item of the album, removed ones
// included, and reconciles the download flags against what is actually on
// disk in targetFolder. is_active is never touched here. Every item without a
// local file counts as missing, but only items that were believed present get
// a local_missing_at stamp.
func (s *Store) RefreshDownloadState(albumURL, targetFolder string) (*models.DownloadStateSummary, error) {
	albumID, ok, err := s.albumID(albumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up album: %w", err)
	}
	if !ok {
		return &models.DownloadStateSummary{}, nil
	}

	type itemRow struct {
		id             int64
		suggested      string
		original       string
		directURL      string
		fallbackURL    string
		isDownloaded   bool
		downloadedPath string
	}

	rows, err := s.db.Query(`
        SELECT id, suggested_name, original_name, direct_url, fallback_url,
               is_downloaded, COALESCE(downloaded_path, '')
        FROM album_items
        WHERE album_id = ?`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	var items []itemRow
	for rows.Next() {
		var r itemRow
		var suggested, original, direct, fallback sql.NullString
		var downloaded int
		if err := rows.Scan(&r.id, &suggested, &original, &direct, &fallback,
			&downloaded, &r.downloadedPath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		r.suggested = suggested.String
		r.original = original.String
		r.directURL = direct.String
		r.fallbackURL = fallback.String
		r.isDownloaded = downloaded == 1
		items = append(items, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := utcNow()
	summary := &models.DownloadStateSummary{Total: len(items)}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		foundPath := ""

		// A recorded path wins when it still exists; otherwise re-derive the
		// expected filename and look for it, numbered duplicates included.
		if item.downloadedPath != "" {
			if info, err := os.Stat(item.downloadedPath); err == nil && !info.IsDir() {
				foundPath = item.downloadedPath
			}
		}
		if foundPath == "" {
			expected := guessExpectedFilename(item.suggested, item.original, item.directURL, item.fallbackURL)
			if expected != "" {
				if path, ok := storage.ExistingVariant(targetFolder, expected); ok {
					foundPath = path
				}
			}
		}

		if foundPath != "" {
			summary.Downloaded++
			_, err := tx.Exec(`
                UPDATE album_items
                SET is_downloaded = 1,
                    downloaded_path = ?,
                    downloaded_at = COALESCE(downloaded_at, ?),
                    local_missing_at = NULL,
                    updated_at = ?
                WHERE id = ?`,
				foundPath, now, now, item.id)
			if err != nil {
				return nil, fmt.Errorf("failed to mark downloaded: %w", err)
			}
			continue
		}

		summary.Missing++

		// Only items we believed were present get flipped to missing.
		if item.isDownloaded || item.downloadedPath != "" {
			_, err := tx.Exec(`
                UPDATE album_items
                SET is_downloaded = 0,
                    local_missing_at = COALESCE(local_missing_at, ?),
                    updated_at = ?
                WHERE id = ?`,
				now, now, item.id)
			if err != nil {
				return nil, fmt.Errorf("failed to mark missing: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refresh: %w", err)
	}
	return summary, nil
}

// ApplyRemovedPolicy processes items that were removed remotely but are still
// present locally. With deleteLocal false they are marked retained; with
// deleteLocal true their files are removed, but only when the candidate path
// is contained in targetFolder. Items stay candidates until local_deleted_at
// is stamped, so a retained item is still deleted once the policy flips.
func (s *Store) ApplyRemovedPolicy(albumURL string, deleteLocal bool, targetFolder string) (*models.RemovalPolicySummary, error) {
	albumID, ok, err := s.albumID(albumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up album: %w", err)
	}
	if !ok {
		return &models.RemovalPolicySummary{}, nil
	}

	type removedRow struct {
		id             int64
		suggested      string
		original       string
		directURL      string
		fallbackURL    string
		downloadedPath string
	}

	rows, err := s.db.Query(`
        SELECT id, suggested_name, original_name, direct_url, fallback_url,
               COALESCE(downloaded_path, '')
        FROM album_items
        WHERE album_id = ? AND is_active = 0 AND is_downloaded = 1
          AND local_deleted_at IS NULL`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to load removed items: %w", err)
	}

	var candidates []removedRow
	for rows.Next() {
		var r removedRow
		var suggested, original, direct, fallback sql.NullString
		if err := rows.Scan(&r.id, &suggested, &original, &direct, &fallback,
			&r.downloadedPath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan removed item: %w", err)
		}
		r.suggested = suggested.String
		r.original = original.String
		r.directURL = direct.String
		r.fallbackURL = fallback.String
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := utcNow()
	summary := &models.RemovalPolicySummary{}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range candidates {
		if !deleteLocal {
			summary.Retained++
			_, err := tx.Exec(`
                UPDATE album_items
                SET retained_on_remove = 1, updated_at = ?
                WHERE id = ?`, now, item.id)
			if err != nil {
				return nil, fmt.Errorf("failed to mark retained: %w", err)
			}
			continue
		}

		candidate := item.downloadedPath
		if candidate == "" {
			expected := guessExpectedFilename(item.suggested, item.original, item.directURL, item.fallbackURL)
			if expected != "" {
				if path, ok := storage.ExistingVariant(targetFolder, expected); ok {
					candidate = path
				}
			}
		}

		if candidate != "" {
			if !storage.ContainsPath(targetFolder, candidate) {
				summary.DeleteErrors++
				s.logger.WarnWithFields("refusing to delete file outside target folder", map[string]interface{}{
					"path":   candidate,
					"folder": targetFolder,
				})
				continue
			}
			switch err := os.Remove(candidate); {
			case err == nil:
				summary.Deleted++
			case !os.IsNotExist(err):
				summary.DeleteErrors++
				s.logger.WarnWithFields("local delete failed", map[string]interface{}{
					"file":  filepath.Base(candidate),
					"error": err.Error(),
				})
				continue
			}
		}

		// The file is gone (deleted now, or already absent); stamp the item
		// either way so it is not reprocessed.
		_, err := tx.Exec(`
            UPDATE album_items
            SET local_deleted_at = ?, is_downloaded = 0,
                retained_on_remove = 0, updated_at = ?
            WHERE id = ?`, now, now, item.id)
		if err != nil {
			return nil, fmt.Errorf("failed to mark deleted: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit removal pass: %w", err)
	}
	return summary, nil
}
