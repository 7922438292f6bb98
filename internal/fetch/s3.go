package fetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"flexreport/internal/config"
	"flexreport/internal/domain"
)

var _ Fetcher = (*S3Fetcher)(nil)

// S3Fetcher downloads objects from S3 or an S3-compatible store.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher creates a fetcher with static credentials.
func NewS3Fetcher(cfg config.S3Config) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{client: client}, nil
}

// Fetch downloads one object. locator is an s3://bucket/key URI.
func (f *S3Fetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	bucket, key, err := parseS3Path(locator)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", locator, err)
	}
	defer out.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body %s: %w", locator, err)
	}
	return data, nil
}

// Probe heads the object for staleness comparison.
func (f *S3Fetcher) Probe(ctx context.Context, locator string) (domain.RemoteStamp, error) {
	bucket, key, err := parseS3Path(locator)
	if err != nil {
		return domain.RemoteStamp{}, err
	}
	out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.RemoteStamp{}, fmt.Errorf("head object %s: %w", locator, err)
	}
	stamp := domain.RemoteStamp{}
	if out.LastModified != nil {
		stamp.LastModified = out.LastModified.Unix()
	}
	if out.ETag != nil {
		stamp.ETag = strings.Trim(*out.ETag, `"`)
	}
	if out.ContentLength != nil {
		stamp.Size = *out.ContentLength
	}
	return stamp, nil
}

func parseS3Path(locator string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(locator, "s3://")
	if trimmed == locator {
		return "", "", fmt.Errorf("locator %q is not an s3:// URI", locator)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("locator %q must be s3://bucket/key", locator)
	}
	return parts[0], parts[1], nil
}
