package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docharvest/pkg/logger"
)

// Store reads and writes the session state file. A Sealer, when set,
// encrypts the file at rest.
type Store struct {
	path   string
	sealer Sealer
	logger logger.Logger
}

// NewStore creates a store for the given file.
func NewStore(path string, sealer Sealer, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{path: path, sealer: sealer, logger: log}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted state, or nil when there is none usable.
// A corrupt or undecryptable file is logged and treated as absent.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WarnWithFields("session state unreadable, starting fresh", map[string]interface{}{
				"path":  s.path,
				"error": err.Error(),
			})
		}
		return nil
	}

	if s.sealer != nil {
		data, err = s.sealer.Open(data)
		if err != nil {
			s.logger.WarnWithFields("session state could not be decrypted, starting fresh", map[string]interface{}{
				"path":  s.path,
				"error": err.Error(),
			})
			return nil
		}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.WarnWithFields("session state corrupt, starting fresh", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
		return nil
	}

	s.logger.DebugWithFields("session state loaded", map[string]interface{}{
		"cookies":      len(st.Cookies),
		"gate_cleared": st.GateCleared,
		"saved_at":     st.SavedAt,
	})
	return &st
}

// Save writes the state atomically: temp file, fsync, rename.
func (s *Store) Save(st *State) error {
	if st == nil {
		return fmt.Errorf("nil session state")
	}
	st.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if s.sealer != nil {
		if data, err = s.sealer.Seal(data); err != nil {
			return fmt.Errorf("failed to encrypt session state: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.DebugWithFields("session state saved", map[string]interface{}{
		"path":    s.path,
		"cookies": len(st.Cookies),
	})
	return nil
}

// Clear removes the state file.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}

// Exists reports whether a state file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
