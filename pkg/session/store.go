package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Flags are the only values persisted across process recreation.
type Flags struct {
	Running bool `yaml:"running" json:"running"`
	Started bool `yaml:"started" json:"started"`
}

// Store saves and restores Flags.
type Store interface {
	// Load returns the saved flags. ok is false when nothing was saved.
	Load() (f Flags, ok bool, err error)
	Save(f Flags) error
	Clear() error
}

// FileStore keeps flags in a YAML file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultStatePath returns $XDG_STATE_HOME/oakview/state.yaml, falling back
// to ~/.local/state.
func DefaultStatePath() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "oakview", "state.yaml")
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load() (Flags, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Flags{}, false, nil
	}
	if err != nil {
		return Flags{}, false, fmt.Errorf("session: read state: %w", err)
	}

	var f Flags
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Flags{}, false, fmt.Errorf("session: parse state %s: %w", s.path, err)
	}
	return f, true, nil
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(f Flags) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("session: create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: replace state: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: clear state: %w", err)
	}
	return nil
}

// MemoryStore is a Store held in memory, standing in for a host-managed
// save bundle.
type MemoryStore struct {
	flags *Flags
}

// Load implements Store.
func (m *MemoryStore) Load() (Flags, bool, error) {
	if m.flags == nil {
		return Flags{}, false, nil
	}
	return *m.flags, true, nil
}

// Save implements Store.
func (m *MemoryStore) Save(f Flags) error {
	m.flags = &f
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear() error {
	m.flags = nil
	return nil
}
