// Package fetch retrieves raw source bytes from cloud blobs, shared
// documents, and the local filesystem. Fetchers never retry; retry and
// fallback policy belongs to the loader.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"flexreport/internal/config"
	"flexreport/internal/domain"
)

// Fetcher retrieves one locator's bytes and probes its remote fingerprint.
type Fetcher interface {
	// Fetch returns the raw bytes at locator.
	Fetch(ctx context.Context, locator string) ([]byte, error)
	// Probe returns the remote fingerprint for staleness comparison
	// without downloading the payload.
	Probe(ctx context.Context, locator string) (domain.RemoteStamp, error)
}

// Dispatcher routes a source to the fetcher for its type and locator.
type Dispatcher struct {
	azure  *AzureFetcher
	s3     *S3Fetcher
	shared *SharedDocFetcher
	local  *LocalFetcher
}

// NewDispatcher builds fetchers from the configured credentials. Cloud
// fetchers are nil when their credentials are absent; resolving a source
// that needs one then fails at fetch time, not startup.
func NewDispatcher(cfg *config.Config) (*Dispatcher, error) {
	d := &Dispatcher{
		shared: NewSharedDocFetcher(cfg.SharedDocToken, cfg.FetchTimeout),
		local:  NewLocalFetcher(),
	}
	if cfg.Azure.Configured() {
		az, err := NewAzureFetcher(cfg.Azure.AccountName, cfg.Azure.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("configure Azure fetcher: %w", err)
		}
		d.azure = az
	}
	if cfg.S3.Configured() {
		s3f, err := NewS3Fetcher(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("configure S3 fetcher: %w", err)
		}
		d.s3 = s3f
	}
	return d, nil
}

// Resolve picks the fetcher for a source. Partitioned directories are read
// by the partition reader, not fetched as bytes, so they resolve to the
// local fetcher for probing only.
func (d *Dispatcher) Resolve(src *domain.Source) (Fetcher, error) {
	switch src.Type {
	case domain.SourceCloudBlob:
		if isS3Locator(src.Location) {
			if d.s3 == nil {
				return nil, domain.ErrSourceUnavailable("source %s: S3 credentials are not configured", src.DisplayName)
			}
			return d.s3, nil
		}
		if d.azure == nil {
			return nil, domain.ErrSourceUnavailable("source %s: Azure credentials are not configured", src.DisplayName)
		}
		return d.azure, nil
	case domain.SourceSharedDocument:
		return d.shared, nil
	case domain.SourceLocalFile, domain.SourcePartitionedDir:
		return d.local, nil
	default:
		return nil, domain.ErrValidation("unknown source type %q", src.Type)
	}
}

func isS3Locator(locator string) bool {
	return strings.HasPrefix(locator, "s3://")
}
