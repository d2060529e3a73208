package assetmgr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nplex/streamenrich/internal/awsutil"
)

// S3Fetcher downloads assets addressed as s3://bucket/key.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds a Fetcher backed by an S3 client resolved from cfg.
func NewS3Fetcher(ctx context.Context, cfg awsutil.SessionConfig) (*S3Fetcher, error) {
	awsConf, err := awsutil.GetConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve aws config: %w", err)
	}
	return &S3Fetcher{client: s3.NewFromConfig(awsConf)}, nil
}

// Fetch downloads the object at uri into destDir, returning its local path
// and content hash.
func (f *S3Fetcher) Fetch(ctx context.Context, uri, destDir string) (string, string, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return "", "", err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return "", "", fmt.Errorf("failed to get s3 object %s: %w", uri, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create asset dir %s: %w", destDir, err)
	}

	path := destPath(destDir, uri)
	file, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create local asset file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, out.Body); err != nil {
		return "", "", fmt.Errorf("failed to write asset file %s: %w", path, err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash asset file %s: %w", path, err)
	}
	return path, hash, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	const prefix = "s3://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	rest := uri[len(prefix):]
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("s3 uri missing key: %s", uri)
	}
	return rest[:idx], rest[idx+1:], nil
}
