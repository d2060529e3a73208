package assetmgr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSFetcher downloads assets addressed as gs://bucket/object.
type GCSFetcher struct {
	client *storage.Client
}

// gcsEmulatorTransport forwards requests to a Cloud Storage emulator,
// grounded on the teacher's GCP_CLOUD_STORAGE_EMULATOR_URL workaround for
// the broken STORAGE_EMULATOR_HOST environment variable.
type gcsEmulatorTransport struct {
	URL *url.URL
}

func (t gcsEmulatorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Host = t.URL.Host
	req.URL.Scheme = t.URL.Scheme
	return http.DefaultTransport.RoundTrip(req)
}

// NewGCSFetcher builds a Fetcher backed by a Cloud Storage client. If
// GCP_CLOUD_STORAGE_EMULATOR_URL is set, requests are routed to it.
func NewGCSFetcher(ctx context.Context) (*GCSFetcher, error) {
	var opts []option.ClientOption
	if rawURL := os.Getenv("GCP_CLOUD_STORAGE_EMULATOR_URL"); rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil {
			opts = append(opts, option.WithHTTPClient(&http.Client{Transport: gcsEmulatorTransport{URL: u}}))
		}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCSFetcher{client: client}, nil
}

// Fetch downloads the object at uri into destDir, returning its local path
// and content hash.
func (f *GCSFetcher) Fetch(ctx context.Context, uri, destDir string) (string, string, error) {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return "", "", err
	}

	rc, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to open gcs object %s: %w", uri, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create asset dir %s: %w", destDir, err)
	}

	path := destPath(destDir, uri)
	file, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create local asset file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, rc); err != nil {
		return "", "", fmt.Errorf("failed to write asset file %s: %w", path, err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash asset file %s: %w", path, err)
	}
	return path, hash, nil
}

func parseGCSURI(uri string) (bucket, object string, err error) {
	const prefix = "gs://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("not a gcs uri: %s", uri)
	}
	rest := uri[len(prefix):]
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("gcs uri missing object: %s", uri)
	}
	return rest[:idx], rest[idx+1:], nil
}
