// Package blobstore defines the artifact storage abstraction used for
// snapshot chunks and cached media. Implementations exist for the local
// filesystem, Google Cloud Storage, and memory (tests/dev).
package blobstore

import "context"

// Store persists named blobs. Put returns a URI describing where the blob
// landed (file://, gs://, memory://).
type Store interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
