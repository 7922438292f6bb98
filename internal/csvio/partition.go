package csvio

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"flexreport/internal/domain"
)

// ReadPartitioned reads a directory of shard files sharing a glob pattern
// and concatenates them into one table.
//
// The first shard that parses sets the reference schema. A later shard with
// a different column set fails the whole read: silently reconciling schema
// drift could drop data. A shard that fails to parse for any other reason
// is logged and skipped.
func ReadPartitioned(dir, pattern string, columns []string, logPrefix string, logger *slog.Logger) (*domain.Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, domain.ErrNotFound("%s: partition directory %s does not exist", logPrefix, dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, domain.ErrNotFound("%s: bad file pattern %q: %v", logPrefix, pattern, err)
	}
	if len(matches) == 0 {
		return nil, domain.ErrNotFound("%s: no files matching %q in %s", logPrefix, pattern, dir)
	}
	sort.Strings(matches)

	var result *domain.Table
	var refColumns []string
	parsed := 0

	for _, path := range matches {
		name := filepath.Base(path)
		data, err := os.ReadFile(path) //nolint:gosec // paths come from the glob above
		if err != nil {
			logger.Warn("skipping unreadable shard", "prefix", logPrefix, "file", name, "error", err)
			continue
		}

		shard, err := Parse(data, ParseOptions{Columns: columns})
		if err != nil {
			logger.Warn("skipping corrupt shard", "prefix", logPrefix, "file", name, "error", err)
			continue
		}

		if result == nil {
			refColumns = shard.Columns
			result = domain.NewTable(append([]string(nil), refColumns...))
		} else if missing, extra := diffColumns(refColumns, shard.Columns); len(missing) > 0 || len(extra) > 0 {
			return nil, domain.ErrSchemaMismatch(name, missing, extra)
		}

		result.Rows = append(result.Rows, shard.Rows...)
		parsed++
		logger.Info("read shard", "prefix", logPrefix, "file", name, "size_bytes", len(data), "rows", shard.RowCount())
	}

	if parsed == 0 {
		return nil, domain.ErrEmptyResult("%s: no shard in %s could be parsed", logPrefix, dir)
	}
	return result, nil
}

// diffColumns compares a shard's columns to the reference schema as sets.
// missing lists reference columns the shard lacks; extra lists shard
// columns the reference lacks.
func diffColumns(ref, got []string) (missing, extra []string) {
	refSet := make(map[string]bool, len(ref))
	for _, c := range ref {
		refSet[c] = true
	}
	gotSet := make(map[string]bool, len(got))
	for _, c := range got {
		gotSet[c] = true
	}
	for _, c := range ref {
		if !gotSet[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range got {
		if !refSet[c] {
			extra = append(extra, c)
		}
	}
	return missing, extra
}
