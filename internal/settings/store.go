// Package settings persists opaque user preferences in a small JSON file
// in the user's home directory. Neither the wire protocol nor the core
// capture/viewer logic depends on its contents (spec.md §6.5); it exists
// so a launcher can remember things like the last-used host address.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/desknet/tilecast/internal/logging"
)

const defaultFileName = ".tilecast.json"

// Store is a simple key/value string store backed by a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// Open loads the store from the user's home directory, creating an empty
// one if it doesn't exist yet. Any I/O or decode failure is logged and a
// fresh, empty in-memory store is returned instead — per spec.md §7,
// "IOError on settings" is never fatal; defaults are used.
func Open() *Store {
	home, err := os.UserHomeDir()
	if err != nil {
		logging.IOError("settings: could not resolve home directory: %v", err)
		return &Store{data: map[string]string{}}
	}

	s := &Store{path: filepath.Join(home, defaultFileName), data: map[string]string{}}
	s.load()
	return s
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.IOError("settings: failed to read %s: %v", s.path, err)
		}
		return
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		logging.IOError("settings: failed to parse %s: %v", s.path, err)
		s.data = map[string]string{}
	}
}

// Get returns the persisted value for key, or ("", false) if unset.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// GetOrDefault returns the persisted value for key, or fallback if unset.
func (s *Store) GetOrDefault(key, fallback string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return fallback
}

// Set persists key=value immediately. A write failure is logged and
// swallowed; the in-memory value is still updated so the process sees
// its own write within the session.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.data[key] = value
	data := make(map[string]string, len(s.data))
	for k, v := range s.data {
		data[k] = v
	}
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		logging.IOError("settings: failed to marshal store: %v", err)
		return
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		logging.IOError("settings: failed to write %s: %v", path, err)
	}
}
