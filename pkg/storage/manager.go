package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyBody is returned when a write would produce a zero-byte file.
var ErrEmptyBody = errors.New("empty document body")

// Manager handles one dataset output directory
type Manager struct {
	dir        string
	ext        string
	tempSuffix string
}

// NewManager creates the directory if needed.
func NewManager(dir, ext, tempSuffix string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{dir: dir, ext: ext, tempSuffix: tempSuffix}, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the final path of a document.
func (m *Manager) Path(id string) string {
	return filepath.Join(m.dir, id+m.ext)
}

// CleanStale removes temp files left behind by interrupted runs.
func (m *Manager) CleanStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), m.tempSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale temp file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// CountComplete returns how many documents are complete in the directory.
func (m *Manager) CountComplete() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}

	n := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != m.ext {
			continue
		}
		if info, err := entry.Info(); err == nil && info.Size() > 0 {
			n++
		}
	}
	return n, nil
}

// IsComplete reports whether path exists as a regular file with data.
func IsComplete(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// WriteAtomic streams r into path+tempSuffix, syncs it, and renames it to
// path once at least one byte was written. On failure the temp file is
// removed and path is left untouched.
func WriteAtomic(path, tempSuffix string, r io.Reader) (int64, error) {
	tempFile := path + tempSuffix
	out, err := os.OpenFile(tempFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	n, err := io.Copy(out, r)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return n, fmt.Errorf("failed to write document data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return n, fmt.Errorf("failed to close file: %w", closeErr)
	}
	if n == 0 {
		os.Remove(tempFile)
		return 0, ErrEmptyBody
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return n, fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return n, nil
}
