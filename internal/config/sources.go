package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"flexreport/internal/domain"
)

// Registry holds the configured sources, keyed case-insensitively by
// display name. The original display name casing is preserved for output.
type Registry struct {
	byKey []domain.Source
}

type registryFile struct {
	Sources []domain.Source `yaml:"sources"`
}

// LoadRegistry reads and validates a YAML source registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read source registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML from memory.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}

	seen := make(map[string]string, len(file.Sources))
	for i := range file.Sources {
		s := &file.Sources[i]
		if strings.TrimSpace(s.DisplayName) == "" {
			return nil, fmt.Errorf("source %d: display_name is required", i)
		}
		key := normalizeKey(s.DisplayName)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate source name %q (conflicts with %q)", s.DisplayName, prev)
		}
		seen[key] = s.DisplayName

		switch s.Type {
		case domain.SourceCloudBlob, domain.SourceSharedDocument, domain.SourceLocalFile, domain.SourcePartitionedDir:
		default:
			return nil, fmt.Errorf("source %q: unknown source_type %q", s.DisplayName, s.Type)
		}
		if s.Location == "" {
			return nil, fmt.Errorf("source %q: location is required", s.DisplayName)
		}
		if s.Type == domain.SourcePartitionedDir && s.FilePattern == "" {
			return nil, fmt.Errorf("source %q: file_pattern is required for partitioned sources", s.DisplayName)
		}
		if e := s.Enrichment; e != nil {
			if e.Source == "" || e.JoinColumn == "" || len(e.Columns) == 0 {
				return nil, fmt.Errorf("source %q: enrichment needs source, join_column and columns", s.DisplayName)
			}
		}
	}

	return &Registry{byKey: file.Sources}, nil
}

// Lookup resolves a source by display name, case-insensitively.
func (r *Registry) Lookup(name string) (*domain.Source, bool) {
	key := normalizeKey(name)
	for i := range r.byKey {
		if normalizeKey(r.byKey[i].DisplayName) == key {
			return &r.byKey[i], true
		}
	}
	return nil, false
}

// All returns the registered sources in file order.
func (r *Registry) All() []domain.Source {
	return append([]domain.Source(nil), r.byKey...)
}

func normalizeKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
