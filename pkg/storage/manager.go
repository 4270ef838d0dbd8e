package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manager handles the on-disk layout of downloaded albums
type Manager struct {
	baseDir string
}

// NewManager creates a new storage manager rooted at baseDir
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	return &Manager{baseDir: abs}, nil
}

// BaseDir returns the absolute output root
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// AlbumDir returns (and creates) the folder for one album. The album name is
// sanitized the same way filenames are.
func (m *Manager) AlbumDir(albumName string) (string, error) {
	name := Sanitize(albumName)
	if name == "" {
		name = "album"
	}
	dir := filepath.Join(m.baseDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create album directory: %w", err)
	}
	return dir, nil
}

// AlbumDirAt creates (if needed) an explicit album folder outside the
// managed layout and returns its absolute path.
func (m *Manager) AlbumDirAt(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve album directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create album directory: %w", err)
	}
	return abs, nil
}

// SaveStream writes r to destPath in chunkSize reads, going through a
// temporary file and an atomic rename so partial downloads never land under
// the final name. Returns the byte count written.
func (m *Manager) SaveStream(r io.Reader, destPath string, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}

	tempPath := destPath + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	buf := make([]byte, chunkSize)
	written, err := io.CopyBuffer(out, r, buf)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempPath)
		return written, fmt.Errorf("failed to save file data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return written, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return written, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return written, nil
}

// ContainsPath reports whether target resolves to a location inside root.
// Used as the guard before any local file deletion.
func ContainsPath(root, target string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
