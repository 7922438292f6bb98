package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PrefStore remembers, per source, the column projection of the last load
// that named columns explicitly. Later loads without an explicit list fall
// back to it before the configured default.
type PrefStore struct {
	mu    sync.Mutex
	path  string
	prefs map[string][]string
}

// NewPrefStore loads column preferences from dir/column_prefs.json. A
// missing or unreadable file starts empty.
func NewPrefStore(dir string) *PrefStore {
	s := &PrefStore{
		path:  filepath.Join(dir, "column_prefs.json"),
		prefs: make(map[string][]string),
	}
	data, err := os.ReadFile(s.path) //nolint:gosec // under the state dir
	if err == nil {
		_ = json.Unmarshal(data, &s.prefs)
	}
	return s
}

// Get returns the recorded projection for a source, or nil.
func (s *PrefStore) Get(source string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prefs[prefKey(source)]...)
}

// Set records a projection and persists the store best effort.
func (s *PrefStore) Set(source string, columns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefKey(source)] = append([]string(nil), columns...)

	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}

func prefKey(source string) string {
	return strings.ToUpper(strings.TrimSpace(source))
}
