// Package cache stores loaded tables on local disk, one entry per source,
// with checksum validation, age expiry, and remote staleness checks.
//
// Caching is best effort throughout: a failed write degrades to an uncached
// load, a corrupt entry is deleted and reported as a miss, and a failed
// staleness probe fails open. The primary data path never blocks on it.
package cache

import (
	"context"
	"crypto/md5" //nolint:gosec // checksum for corruption detection, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flexreport/internal/domain"
)

const (
	formatParquet = "parquet"
	formatCSVGz   = "csv-gz"

	// clockSkewTolerance absorbs small clock differences between this host
	// and the remote store when comparing timestamps.
	clockSkewTolerance = 2 * time.Minute

	probeAttempts       = 3
	probeInitialBackoff = 500 * time.Millisecond
)

// Metadata is the sidecar record written atomically next to the data file.
type Metadata struct {
	SourceName string             `json:"source_name"`
	Locator    string             `json:"locator"`
	CachedAt   time.Time          `json:"cached_at"`
	Checksum   string             `json:"checksum_md5"`
	RowCount   int                `json:"row_count"`
	Columns    []string           `json:"columns"`
	SizeBytes  int64              `json:"size_bytes"`
	Format     string             `json:"format"`
	Remote     domain.RemoteStamp `json:"remote"`
}

// EntryStatus describes one cache entry for the status report.
type EntryStatus struct {
	SourceName string    `json:"source_name"`
	CachedAt   time.Time `json:"cached_at"`
	AgeHours   float64   `json:"age_hours"`
	RowCount   int       `json:"row_count"`
	SizeBytes  int64     `json:"size_bytes"`
	Format     string    `json:"format"`
	Expired    bool      `json:"expired"`
}

// Cache is the on-disk table store.
type Cache struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
	pq     *parquetIO // nil when DuckDB could not be opened
}

// New creates a cache rooted at dir. When DuckDB is unavailable the cache
// falls back to gzip CSV entries, which do not support projected reads.
func New(dir string, maxAge time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{dir: dir, maxAge: maxAge, logger: logger.With("component", "cache")}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		c.logger.Warn("cannot create cache directory, caching disabled", "dir", dir, "error", err)
		return c
	}
	pq, err := newParquetIO()
	if err != nil {
		c.logger.Warn("DuckDB unavailable, falling back to gzip CSV cache format", "error", err)
	} else {
		c.pq = pq
	}
	return c
}

// Close releases the parquet engine.
func (c *Cache) Close() error {
	if c.pq != nil {
		return c.pq.Close()
	}
	return nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Has reports whether a complete entry (data plus metadata) exists.
func (c *Cache) Has(name string) bool {
	meta, err := c.readMeta(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(c.dataPath(name, meta.Format))
	return err == nil
}

// Save persists a table. Returns false on any failure; it never raises.
func (c *Cache) Save(name string, table *domain.Table, locator string, remote domain.RemoteStamp) bool {
	if table == nil {
		return false
	}
	format := formatCSVGz
	if c.pq != nil {
		format = formatParquet
	}
	path := c.dataPath(name, format)

	var err error
	if format == formatParquet {
		err = c.pq.write(path, table)
	} else {
		err = writeGzipCSV(path, table)
	}
	if err != nil {
		c.logger.Warn("cache write failed", "source", name, "error", err)
		c.removeEntry(name)
		return false
	}

	checksum, size, err := fileChecksum(path)
	if err != nil {
		c.logger.Warn("cache checksum failed", "source", name, "error", err)
		c.removeEntry(name)
		return false
	}

	meta := Metadata{
		SourceName: name,
		Locator:    locator,
		CachedAt:   time.Now().UTC(),
		Checksum:   checksum,
		RowCount:   table.RowCount(),
		Columns:    append([]string(nil), table.Columns...),
		SizeBytes:  size,
		Format:     format,
		Remote:     remote,
	}
	if err := c.writeMeta(name, meta); err != nil {
		c.logger.Warn("cache metadata write failed", "source", name, "error", err)
		c.removeEntry(name)
		return false
	}
	c.logger.Info("cached", "source", name, "rows", meta.RowCount, "size_bytes", size, "format", format)
	return true
}

// Load reads an entry, optionally projected to columns. Any corruption or
// format problem deletes the entry and returns nil so the caller falls
// through to a fresh fetch.
func (c *Cache) Load(name string, columns []string) *domain.Table {
	meta, err := c.readMeta(name)
	if err != nil {
		return nil
	}
	path := c.dataPath(name, meta.Format)

	checksum, _, err := fileChecksum(path)
	if err != nil || checksum != meta.Checksum {
		c.logger.Warn("cache entry corrupt, discarding", "source", name, "checksum_ok", err == nil)
		c.removeEntry(name)
		return nil
	}

	var table *domain.Table
	switch meta.Format {
	case formatParquet:
		if c.pq == nil {
			c.logger.Warn("parquet cache entry but DuckDB unavailable, discarding", "source", name)
			c.removeEntry(name)
			return nil
		}
		table, err = c.pq.read(path, projectExisting(meta.Columns, columns))
	case formatCSVGz:
		table, err = readGzipCSV(path)
		if err == nil && len(columns) > 0 {
			table = table.Project(columns)
		}
	default:
		err = fmt.Errorf("unknown cache format %q", meta.Format)
	}
	if err != nil {
		c.logger.Warn("cache entry unreadable, discarding", "source", name, "error", err)
		c.removeEntry(name)
		return nil
	}
	return table
}

// Clear deletes an entry. Returns true when something was removed.
func (c *Cache) Clear(name string) bool {
	return c.removeEntry(name)
}

// Expired reports whether an entry's age exceeds the maximum, independent
// of remote staleness.
func (c *Cache) Expired(name string) bool {
	meta, err := c.readMeta(name)
	if err != nil {
		return false
	}
	return time.Since(meta.CachedAt) > c.maxAge
}

// Meta returns the metadata sidecar for an entry.
func (c *Cache) Meta(name string) (*Metadata, error) {
	m, err := c.readMeta(name)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CheckRemoteUpdate compares the cached fingerprint with the live remote
// one obtained via probe. It retries transient probe failures with backoff
// and never returns a Go error: probe failures ride in the Error field so
// the caller fails open.
func (c *Cache) CheckRemoteUpdate(ctx context.Context, name string, probe func(context.Context) (domain.RemoteStamp, error)) domain.RemoteCheck {
	meta, err := c.readMeta(name)
	if err != nil {
		return domain.RemoteCheck{Reason: "no cache entry to compare against"}
	}

	var stamp domain.RemoteStamp
	var probeErr error
	backoff := probeInitialBackoff
	for attempt := 1; attempt <= probeAttempts; attempt++ {
		stamp, probeErr = probe(ctx)
		if probeErr == nil {
			break
		}
		if attempt < probeAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				probeErr = ctx.Err()
				attempt = probeAttempts
			}
			backoff *= 2
		}
	}
	if probeErr != nil {
		return domain.RemoteCheck{
			Reason: "remote verification failed",
			Error:  probeErr.Error(),
		}
	}

	// ETag comparison is exact when both sides have one.
	if stamp.ETag != "" && meta.Remote.ETag != "" {
		if stamp.ETag != meta.Remote.ETag {
			return domain.RemoteCheck{UpdateAvailable: true, Reason: "remote ETag changed"}
		}
		return domain.RemoteCheck{Reason: "remote ETag unchanged"}
	}

	if stamp.LastModified > 0 {
		remoteTime := time.Unix(stamp.LastModified, 0)
		if remoteTime.After(meta.CachedAt.Add(clockSkewTolerance)) {
			return domain.RemoteCheck{
				UpdateAvailable: true,
				Reason:          fmt.Sprintf("remote modified %s, cached %s", remoteTime.UTC().Format(time.RFC3339), meta.CachedAt.Format(time.RFC3339)),
			}
		}
		return domain.RemoteCheck{Reason: "remote not modified since cache"}
	}

	return domain.RemoteCheck{Reason: "remote offers no fingerprint, assuming unchanged"}
}

// Status lists all cache entries.
func (c *Cache) Status() []EntryStatus {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name())) //nolint:gosec // under the cache dir
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, EntryStatus{
			SourceName: meta.SourceName,
			CachedAt:   meta.CachedAt,
			AgeHours:   time.Since(meta.CachedAt).Hours(),
			RowCount:   meta.RowCount,
			SizeBytes:  meta.SizeBytes,
			Format:     meta.Format,
			Expired:    time.Since(meta.CachedAt) > c.maxAge,
		})
	}
	return out
}

func (c *Cache) entryKey(name string) string {
	key := strings.ToUpper(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range key {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (c *Cache) dataPath(name, format string) string {
	ext := ".parquet"
	if format == formatCSVGz {
		ext = ".csv.gz"
	}
	return filepath.Join(c.dir, c.entryKey(name)+ext)
}

func (c *Cache) metaPath(name string) string {
	return filepath.Join(c.dir, c.entryKey(name)+".meta.json")
}

func (c *Cache) readMeta(name string) (Metadata, error) {
	data, err := os.ReadFile(c.metaPath(name)) //nolint:gosec // under the cache dir
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (c *Cache) writeMeta(name string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(c.metaPath(name), data)
}

func (c *Cache) removeEntry(name string) bool {
	removed := false
	for _, path := range []string{
		c.dataPath(name, formatParquet),
		c.dataPath(name, formatCSVGz),
		c.metaPath(name),
	} {
		if err := os.Remove(path); err == nil {
			removed = true
		}
	}
	return removed
}

// atomicWrite writes to a temp file in the same directory and renames it
// into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck
		os.Remove(tmpName)   //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	return os.Rename(tmpName, path)
}

func fileChecksum(path string) (string, int64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // under the cache dir
	if err != nil {
		return "", 0, err
	}
	sum := md5.Sum(data) //nolint:gosec // corruption detection only
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}

// projectExisting intersects the requested projection with the stored
// columns, preserving request order. An empty request means all columns.
func projectExisting(stored, requested []string) []string {
	if len(requested) == 0 {
		return nil
	}
	have := make(map[string]bool, len(stored))
	for _, c := range stored {
		have[c] = true
	}
	out := make([]string, 0, len(requested))
	for _, c := range requested {
		n := strings.ToLower(strings.TrimSpace(c))
		if have[n] {
			out = append(out, n)
		}
	}
	return out
}
