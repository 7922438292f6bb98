package cache

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"flexreport/internal/domain"
)

// writeGzipCSV is the fallback cache format when DuckDB is unavailable.
// Projected reads fall back to a full read plus in-memory projection.
func writeGzipCSV(path string, t *domain.Table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
	}

	gz, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
	if err != nil {
		cleanup()
		return err
	}
	w := csv.NewWriter(gz)

	if err := w.Write(t.Columns); err != nil {
		cleanup()
		return err
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			cleanup()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		cleanup()
		return err
	}
	if err := gz.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	return os.Rename(tmpName, path)
}

func readGzipCSV(path string) (*domain.Table, error) {
	f, err := os.Open(path) //nolint:gosec // under the cache dir
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close() //nolint:errcheck

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return domain.NewTable(nil), nil
	}

	table := domain.NewTable(records[0])
	for _, rec := range records[1:] {
		row := make([]string, len(table.Columns))
		for i := range table.Columns {
			if i < len(rec) {
				row[i] = rec[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
