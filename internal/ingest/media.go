package ingest

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/localpages/directory/internal/blobstore"
	"github.com/localpages/directory/internal/directory"
)

// MediaConfig controls the media fetcher.
type MediaConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Prefix is the blob path prefix cached assets land under.
	Prefix string
	// MaxPhotos caps the photos cached per business. Zero means all.
	MaxPhotos int
}

// MediaCacher downloads logo and photo assets during ingestion and stores
// them in a blob store. It implements directory.MediaCache.
type MediaCacher struct {
	cfg           MediaConfig
	blobs         blobstore.Store
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewMediaCacher builds a MediaCacher on a shared base collector.
func NewMediaCacher(cfg MediaConfig, blobs blobstore.Store, logger *zap.Logger) *MediaCacher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "media"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &MediaCacher{cfg: cfg, blobs: blobs, baseCollector: c, logger: logger}
}

// CacheMedia fetches the record's logo and photo URLs and rewrites the
// record to the stored copies. Individual fetch failures are logged and
// skipped; the record always remains usable with its original URLs.
func (m *MediaCacher) CacheMedia(ctx context.Context, biz *directory.Business) (logos, photos int) {
	if biz.Logo != nil && biz.Logo.URL != "" && biz.Logo.CachedURL == "" {
		uri, err := m.fetchAndStore(ctx, biz.Logo.URL, path.Join(m.cfg.Prefix, biz.ID, "logo"))
		if err != nil {
			m.logger.Debug("logo cache failed",
				zap.String("id", biz.ID),
				zap.Error(err),
			)
		} else {
			biz.Logo.CachedURL = uri
			logos++
		}
	}

	for i := range biz.Photos {
		if m.cfg.MaxPhotos > 0 && photos >= m.cfg.MaxPhotos {
			break
		}
		photo := &biz.Photos[i]
		if photo.URL == "" || photo.CachedURL != "" {
			continue
		}
		uri, err := m.fetchAndStore(ctx, photo.URL,
			path.Join(m.cfg.Prefix, biz.ID, fmt.Sprintf("photo-%d", i+1)))
		if err != nil {
			m.logger.Debug("photo cache failed",
				zap.String("id", biz.ID),
				zap.String("url", photo.URL),
				zap.Error(err),
			)
			continue
		}
		photo.CachedURL = uri
		photos++
	}
	return logos, photos
}

// fetchAndStore downloads one asset with a cloned collector and writes it to
// the blob store under basePath plus a content-type derived extension.
func (m *MediaCacher) fetchAndStore(ctx context.Context, rawURL, basePath string) (string, error) {
	var (
		body        []byte
		contentType string
		fetchErr    error
	)

	collector := m.baseCollector.Clone()
	if m.cfg.UserAgent != "" {
		collector.UserAgent = m.cfg.UserAgent
	}
	collector.SetRequestTimeout(m.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("media fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("visit %s: %w", rawURL, err)
		}
	}
	if fetchErr != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("fetch %s: empty body", rawURL)
	}

	objectPath := basePath + extensionFor(contentType, rawURL)
	uri, err := m.blobs.Put(ctx, objectPath, contentType, body)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", objectPath, err)
	}
	return uri, nil
}

func extensionFor(contentType, rawURL string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		switch mediaType {
		case "image/jpeg":
			return ".jpg"
		case "image/png":
			return ".png"
		case "image/gif":
			return ".gif"
		case "image/webp":
			return ".webp"
		case "image/svg+xml":
			return ".svg"
		}
	}
	if ext := path.Ext(rawURL); ext != "" && !strings.ContainsAny(ext, "?&") {
		return ext
	}
	return ".bin"
}
