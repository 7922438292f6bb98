package fetch

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"flexreport/internal/domain"
)

var _ Fetcher = (*LocalFetcher)(nil)

// LocalFetcher reads files from the local filesystem.
type LocalFetcher struct{}

// NewLocalFetcher creates the fetcher.
func NewLocalFetcher() *LocalFetcher { return &LocalFetcher{} }

// Fetch reads the file at locator.
func (f *LocalFetcher) Fetch(_ context.Context, locator string) ([]byte, error) {
	data, err := os.ReadFile(locator) //nolint:gosec // locator comes from the source registry
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound("file %s does not exist", locator)
		}
		return nil, err
	}
	return data, nil
}

// Probe stats the file.
func (f *LocalFetcher) Probe(_ context.Context, locator string) (domain.RemoteStamp, error) {
	info, err := os.Stat(locator)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.RemoteStamp{}, domain.ErrNotFound("file %s does not exist", locator)
		}
		return domain.RemoteStamp{}, err
	}
	return domain.RemoteStamp{
		LastModified: info.ModTime().Unix(),
		Size:         info.Size(),
	}, nil
}

// ProbeDir fingerprints a partitioned directory: the newest mtime and the
// aggregate size over files matching pattern.
func ProbeDir(dir, pattern string) (domain.RemoteStamp, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return domain.RemoteStamp{}, err
	}
	if len(matches) == 0 {
		return domain.RemoteStamp{}, domain.ErrNotFound("no files matching %q in %s", pattern, dir)
	}
	sort.Strings(matches)

	var stamp domain.RemoteStamp
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mt := info.ModTime().Unix(); mt > stamp.LastModified {
			stamp.LastModified = mt
		}
		stamp.Size += info.Size()
	}
	return stamp, nil
}
