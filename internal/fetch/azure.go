package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"flexreport/internal/domain"
)

var _ Fetcher = (*AzureFetcher)(nil)

// AzureFetcher downloads blobs from Azure Blob Storage with shared-key
// credentials.
type AzureFetcher struct {
	client      *azblob.Client
	accountName string
}

// NewAzureFetcher creates a fetcher authenticated with an account key.
func NewAzureFetcher(accountName, accountKey string) (*AzureFetcher, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureFetcher{client: client, accountName: accountName}, nil
}

// Fetch downloads one blob. locator is an az://, abfss:// or https:// URI.
func (f *AzureFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	container, key, err := parseAzurePath(locator)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", locator, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob body %s: %w", locator, err)
	}
	return data, nil
}

// Probe reads the blob's properties for staleness comparison.
func (f *AzureFetcher) Probe(ctx context.Context, locator string) (domain.RemoteStamp, error) {
	container, key, err := parseAzurePath(locator)
	if err != nil {
		return domain.RemoteStamp{}, err
	}
	blobClient := f.client.ServiceClient().NewContainerClient(container).NewBlobClient(key)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return domain.RemoteStamp{}, fmt.Errorf("get properties %s: %w", locator, err)
	}
	stamp := domain.RemoteStamp{}
	if props.LastModified != nil {
		stamp.LastModified = props.LastModified.Unix()
	}
	if props.ETag != nil {
		stamp.ETag = string(*props.ETag)
	}
	if props.ContentLength != nil {
		stamp.Size = *props.ContentLength
	}
	return stamp, nil
}

// parseAzurePath extracts container and key from an Azure storage URI.
//
// Supported formats:
//
//	abfss://container@account.dfs.core.windows.net/path/to/file
//	az://container/path/to/file
//	https://account.blob.core.windows.net/container/path/to/file
func parseAzurePath(path string) (container, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	switch u.Scheme {
	case "abfss":
		// url.Parse treats "container" as userinfo (before @) and the
		// account host as Host.
		if u.User == nil {
			return "", "", fmt.Errorf("abfss path %q missing container@account component", path)
		}
		container = u.User.Username()
		key = strings.TrimPrefix(u.Path, "/")

	case "az":
		container = u.Host
		key = strings.TrimPrefix(u.Path, "/")

	case "https":
		if !strings.Contains(u.Host, ".blob.core.windows.net") {
			return "", "", fmt.Errorf("unrecognized Azure HTTPS host %q in path %q", u.Host, path)
		}
		trimmed := strings.TrimPrefix(u.Path, "/")
		parts := strings.SplitN(trimmed, "/", 2)
		container = parts[0]
		if len(parts) > 1 {
			key = parts[1]
		}

	default:
		return "", "", fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}

	if container == "" {
		return "", "", fmt.Errorf("empty container in Azure path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in Azure path %q", path)
	}
	return container, key, nil
}
