// Package snapshot partitions the business directory into fixed size JSON
// chunks suitable for static hosting.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/blobstore"
	"github.com/localpages/directory/internal/directory"
)

// DefaultChunkSize is the number of businesses per chunk artifact.
const DefaultChunkSize = 50

const (
	indexObject     = "index.json"
	firstPageObject = "first-page.json"
	contentType     = "application/json"
)

// IndexPath returns the object path of the snapshot index under prefix.
func IndexPath(prefix string) string { return path.Join(prefix, indexObject) }

// FirstPagePath returns the object path of the first page artifact.
func FirstPagePath(prefix string) string { return path.Join(prefix, firstPageObject) }

// ChunkPath returns the object path of the 1-indexed chunk n.
func ChunkPath(prefix string, n int) string {
	return path.Join(prefix, fmt.Sprintf("chunk-%d.json", n))
}

// Builder writes snapshot artifacts to a blob store.
type Builder struct {
	blobs     blobstore.Store
	prefix    string
	chunkSize int
	logger    *zap.Logger
}

// Result summarizes one snapshot build.
type Result struct {
	Index     directory.ChunkIndex
	ChunkURIs []string
	IndexURI  string
}

// NewBuilder constructs a Builder writing under prefix. A non-positive
// chunkSize falls back to DefaultChunkSize.
func NewBuilder(blobs blobstore.Store, prefix string, chunkSize int, logger *zap.Logger) *Builder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{blobs: blobs, prefix: prefix, chunkSize: chunkSize, logger: logger}
}

// Build partitions businesses into chunks in input order and writes
// chunk-1.json through chunk-N.json plus index.json and first-page.json.
// Records are normalized with defaults before serialization. The artifacts
// contain no timestamps, so rebuilding from identical input produces
// byte-identical output.
func (b *Builder) Build(ctx context.Context, businesses []directory.Business) (Result, error) {
	normalized := make([]directory.Business, len(businesses))
	copy(normalized, businesses)
	for i := range normalized {
		directory.ApplyDefaults(&normalized[i])
	}

	chunks := partition(normalized, b.chunkSize)

	result := Result{
		Index: directory.ChunkIndex{
			TotalBusinesses:    len(normalized),
			TotalChunks:        len(chunks),
			BusinessesPerChunk: b.chunkSize,
			Chunks:             make([]directory.ChunkInfo, 0, len(chunks)),
		},
	}

	for i, chunk := range chunks {
		number := i + 1
		uri, err := b.putJSON(ctx, ChunkPath(b.prefix, number), chunk)
		if err != nil {
			return Result{}, fmt.Errorf("write chunk %d: %w", number, err)
		}
		result.ChunkURIs = append(result.ChunkURIs, uri)
		result.Index.Chunks = append(result.Index.Chunks, directory.ChunkInfo{
			Number:    number,
			Count:     len(chunk),
			FirstName: chunk[0].Name,
			LastName:  chunk[len(chunk)-1].Name,
		})
		b.logger.Debug("wrote snapshot chunk",
			zap.Int("chunk", number),
			zap.Int("count", len(chunk)),
		)
	}

	// first-page.json mirrors chunk-1 so static frontends can render an
	// initial page without reading the index. An empty snapshot still
	// gets an (empty) first page.
	firstPage := []directory.Business{}
	if len(chunks) > 0 {
		firstPage = chunks[0]
	}
	if _, err := b.putJSON(ctx, FirstPagePath(b.prefix), firstPage); err != nil {
		return Result{}, fmt.Errorf("write first page: %w", err)
	}

	uri, err := b.putJSON(ctx, IndexPath(b.prefix), result.Index)
	if err != nil {
		return Result{}, fmt.Errorf("write index: %w", err)
	}
	result.IndexURI = uri

	b.logger.Info("snapshot build complete",
		zap.Int("businesses", result.Index.TotalBusinesses),
		zap.Int("chunks", result.Index.TotalChunks),
	)
	return result, nil
}

// BuildFromStore snapshots the full operational directory in popularity
// order.
func (b *Builder) BuildFromStore(ctx context.Context, store directory.Store) (Result, error) {
	businesses, _, err := store.Query(ctx, directory.Filter{}, directory.PageRequest{All: true})
	if err != nil {
		return Result{}, fmt.Errorf("load businesses: %w", err)
	}
	return b.Build(ctx, businesses)
}

func (b *Builder) putJSON(ctx context.Context, objectPath string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", objectPath, err)
	}
	return b.blobs.Put(ctx, objectPath, contentType, data)
}

func partition(businesses []directory.Business, size int) [][]directory.Business {
	var chunks [][]directory.Business
	for start := 0; start < len(businesses); start += size {
		end := start + size
		if end > len(businesses) {
			end = len(businesses)
		}
		chunks = append(chunks, businesses[start:end])
	}
	return chunks
}
