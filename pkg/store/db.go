package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/storage"
)

// Store is the SQLite-backed album tracker. Connections are long-lived but
// all mutation happens through one control flow; the schema is created and
// migrated on open.
type Store struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS albums (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    album_url TEXT NOT NULL UNIQUE,
    album_name TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    last_synced_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS album_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    album_id INTEGER NOT NULL,
    item_key TEXT NOT NULL,
    slug TEXT,
    original_name TEXT,
    suggested_name TEXT,
    media_type TEXT,
    size_bytes INTEGER,
    direct_url TEXT,
    fallback_url TEXT,
    referer_url TEXT,
    cdn_origin TEXT,
    cdn_endpoint TEXT,
    thumbnail_url TEXT,
    signature TEXT NOT NULL,
    first_seen_at TEXT NOT NULL,
    last_seen_at TEXT NOT NULL,
    removed_at TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    is_downloaded INTEGER NOT NULL DEFAULT 0,
    downloaded_path TEXT,
    downloaded_at TEXT,
    local_missing_at TEXT,
    retained_on_remove INTEGER NOT NULL DEFAULT 0,
    local_deleted_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(album_id, item_key),
    FOREIGN KEY(album_id) REFERENCES albums(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    album_id INTEGER NOT NULL,
    synced_at TEXT NOT NULL,
    total_items INTEGER NOT NULL,
    added_items INTEGER NOT NULL,
    updated_items INTEGER NOT NULL,
    removed_items INTEGER NOT NULL,
    FOREIGN KEY(album_id) REFERENCES albums(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS managed_albums (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    album_url TEXT NOT NULL UNIQUE,
    album_label TEXT NOT NULL,
    target_folder TEXT NOT NULL,
    delete_local_on_remote_remove INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_album_items_album_id
    ON album_items(album_id);
CREATE INDEX IF NOT EXISTS idx_album_items_active
    ON album_items(album_id, is_active);
CREATE INDEX IF NOT EXISTS idx_sync_runs_album_id
    ON sync_runs(album_id, synced_at);
CREATE INDEX IF NOT EXISTS idx_managed_albums_enabled
    ON managed_albums(enabled, id);
`

// migratedColumns are added to album_items when opening a database created
// before they existed. The migration is additive only.
var migratedColumns = []struct {
	name    string
	sqlType string
}{
	{"direct_url", "TEXT"},
	{"fallback_url", "TEXT"},
	{"referer_url", "TEXT"},
	{"is_downloaded", "INTEGER NOT NULL DEFAULT 0"},
	{"downloaded_path", "TEXT"},
	{"downloaded_at", "TEXT"},
	{"local_missing_at", "TEXT"},
	{"retained_on_remove", "INTEGER NOT NULL DEFAULT 0"},
	{"local_deleted_at", "TEXT"},
}

// Open opens (creating if necessary) the album database at path.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	s := &Store{db: db, path: abs, logger: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the resolved database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return s.ensureColumns("album_items", migratedColumns)
}

// ensureColumns adds any missing columns; existing data is never touched.
func (s *Store) ensureColumns(table string, columns []struct{ name, sqlType string }) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.sqlType)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
		}
		s.logger.DebugWithFields("added column", map[string]interface{}{
			"table":  table,
			"column": col.name,
		})
	}
	return nil
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// upsertAlbum creates or refreshes the album row and returns its id. A blank
// incoming name never overwrites a stored one.
func upsertAlbum(tx *sql.Tx, albumURL, albumName, now string) (int64, error) {
	_, err := tx.Exec(`
        INSERT INTO albums (album_url, album_name, created_at, updated_at, last_synced_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(album_url) DO UPDATE SET
            album_name = CASE
                WHEN excluded.album_name <> '' THEN excluded.album_name
                ELSE albums.album_name
            END,
            updated_at = excluded.updated_at,
            last_synced_at = excluded.last_synced_at`,
		albumURL, strings.TrimSpace(albumName), now, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert album: %w", err)
	}

	var id int64
	err = tx.QueryRow("SELECT id FROM albums WHERE album_url = ? LIMIT 1", albumURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read album row: %w", err)
	}
	return id, nil
}

func (s *Store) albumID(albumURL string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM albums WHERE album_url = ? LIMIT 1", albumURL).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

var duplicateSuffixSlug = regexp.MustCompile(`/f/([A-Za-z0-9]+)`)

func extractSlug(url string) string {
	if url == "" {
		return ""
	}
	m := duplicateSuffixSlug.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// guessExpectedFilename recomputes the destination filename an item would
// have been saved under, so refresh and policy passes can find it on disk.
func guessExpectedFilename(suggested, original, directURL, fallbackURL string) string {
	name := strings.TrimSpace(suggested)
	if name == "" {
		name = strings.TrimSpace(original)
	}
	baseURL := directURL
	if baseURL == "" {
		baseURL = fallbackURL
	}

	if baseURL != "" {
		return storage.FilenameFor(name, "", baseURL)
	}
	if name != "" {
		return storage.Sanitize(name)
	}
	return ""
}
