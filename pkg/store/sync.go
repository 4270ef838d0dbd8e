package store

import (
	"fmt"
	"strings"

	"bunkrgrab/pkg/models"
)

// normalizeItem fills derived fields so every row carries a stable identity:
// slug from the URLs when absent, item key from slug, else fallback URL,
// else direct URL.
func normalizeItem(item models.ItemDescriptor) (models.ItemDescriptor, bool) {
	item.Slug = strings.TrimSpace(item.Slug)
	if item.Slug == "" {
		item.Slug = extractSlug(item.FallbackURL)
	}
	if item.Slug == "" {
		item.Slug = extractSlug(item.DirectURL)
	}
	if item.ItemKey == "" {
		if !item.Normalize() {
			return item, false
		}
	}
	return item, true
}

// SyncItems diffs the observed item set against the stored one. It is
// idempotent: an unchanged observation yields zero counts. Removed items are
// soft-removed only. The whole pass runs in one transaction and records one
// sync_runs audit row.
func (s *Store) SyncItems(albumURL, albumName string, items []models.ItemDescriptor) (*models.SyncSummary, error) {
	// Dedupe by item key, last write wins.
	order := make([]string, 0, len(items))
	deduped := make(map[string]models.ItemDescriptor, len(items))
	for _, raw := range items {
		item, ok := normalizeItem(raw)
		if !ok {
			continue
		}
		if _, exists := deduped[item.ItemKey]; !exists {
			order = append(order, item.ItemKey)
		}
		deduped[item.ItemKey] = item
	}

	now := utcNow()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	albumID, err := upsertAlbum(tx, albumURL, albumName, now)
	if err != nil {
		return nil, err
	}

	type prevRow struct {
		signature string
		isActive  bool
	}
	existing := make(map[string]prevRow)
	rows, err := tx.Query(
		"SELECT item_key, signature, is_active FROM album_items WHERE album_id = ?", albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing items: %w", err)
	}
	for rows.Next() {
		var key, sig string
		var active int
		if err := rows.Scan(&key, &sig, &active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan existing item: %w", err)
		}
		existing[key] = prevRow{signature: sig, isActive: active == 1}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	added, updated := 0, 0
	seen := make(map[string]bool, len(order))

	for _, key := range order {
		item := deduped[key]
		seen[key] = true
		signature := item.Signature()
		prev, exists := existing[key]

		if !exists {
			_, err := tx.Exec(`
                INSERT INTO album_items (
                    album_id, item_key, slug, original_name, suggested_name,
                    media_type, size_bytes, direct_url, fallback_url, referer_url,
                    cdn_origin, cdn_endpoint, thumbnail_url, signature,
                    first_seen_at, last_seen_at, removed_at, is_active,
                    created_at, updated_at
                )
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1, ?, ?)`,
				albumID, key, item.Slug, item.OriginalName, item.SuggestedName,
				item.MediaType, item.SizeBytes, item.DirectURL, item.FallbackURL, item.RefererURL,
				item.CDNOrigin, item.CDNEndpoint, item.ThumbnailURL, signature,
				now, now, now, now)
			if err != nil {
				return nil, fmt.Errorf("failed to insert item %s: %w", key, err)
			}
			added++
			continue
		}

		// A reappearing item is treated as fresh: retained/deleted markers
		// are cleared along with the removal timestamp.
		if prev.signature != signature || !prev.isActive {
			updated++
		}
		_, err := tx.Exec(`
            UPDATE album_items
            SET slug = ?, original_name = ?, suggested_name = ?,
                media_type = ?, size_bytes = ?, direct_url = ?, fallback_url = ?,
                referer_url = ?, cdn_origin = ?, cdn_endpoint = ?,
                thumbnail_url = ?, signature = ?, last_seen_at = ?,
                removed_at = NULL, is_active = 1, retained_on_remove = 0,
                local_deleted_at = NULL, updated_at = ?
            WHERE album_id = ? AND item_key = ?`,
			item.Slug, item.OriginalName, item.SuggestedName,
			item.MediaType, item.SizeBytes, item.DirectURL, item.FallbackURL,
			item.RefererURL, item.CDNOrigin, item.CDNEndpoint,
			item.ThumbnailURL, signature, now,
			now, albumID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to update item %s: %w", key, err)
		}
	}

	removed := 0
	for key, prev := range existing {
		if seen[key] || !prev.isActive {
			continue
		}
		_, err := tx.Exec(`
            UPDATE album_items
            SET is_active = 0, removed_at = ?, retained_on_remove = 0,
                local_deleted_at = NULL, updated_at = ?
            WHERE album_id = ? AND item_key = ?`,
			now, now, albumID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to soft-remove item %s: %w", key, err)
		}
		removed++
	}

	_, err = tx.Exec(`
        INSERT INTO sync_runs (
            album_id, synced_at, total_items, added_items, updated_items, removed_items
        )
        VALUES (?, ?, ?, ?, ?, ?)`,
		albumID, now, len(deduped), added, updated, removed)
	if err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sync: %w", err)
	}

	s.logger.InfoWithFields("album synced", map[string]interface{}{
		"album_url": albumURL,
		"total":     len(deduped),
		"added":     added,
		"updated":   updated,
		"removed":   removed,
	})

	return &models.SyncSummary{
		Total:   len(deduped),
		Added:   added,
		Updated: updated,
		Removed: removed,
	}, nil
}
