// Package gcs implements a Google Cloud Storage blob store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Store reads and writes artifacts in a GCS bucket. Authentication uses
// Application Default Credentials.
type Store struct {
	client *storage.Client
	bucket string
}

// New initializes a GCS client and verifies the bucket is reachable, failing
// fast on startup if the configuration is wrong.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get bucket %q attributes: %w", bucket, err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Put uploads the data to the bucket and returns a gs:// URI.
func (s *Store) Put(ctx context.Context, path, contentType string, data []byte) (string, error) {
	wc := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		wc.ContentType = contentType
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write gcs object %s: %w", path, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Get downloads the object contents.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", path, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", path, err)
	}
	return data, nil
}

// List returns the object names under the prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var paths []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate bucket %q: %w", s.bucket, err)
		}
		paths = append(paths, attrs.Name)
	}
	return paths, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
