// Package places is the HTTP client for the external place search source.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
)

const defaultTimeout = 15 * time.Second

// Config controls the source client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client implements directory.PlaceSource against a JSON search endpoint.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *zap.Logger
}

// searchResponse accepts both a bare array and an enveloped result list.
type searchResponse struct {
	Results []directory.RawPlace `json:"results"`
}

// New constructs a source client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ingest.source_base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse source base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}, nil
}

// SearchCategory fetches the raw place records for one category query.
// Failures come back as *directory.NetworkError so callers can decide
// retryability and pick a user-facing message.
func (c *Client) SearchCategory(ctx context.Context, category string) ([]directory.RawPlace, error) {
	endpoint := fmt.Sprintf("%s/search?query=%s", c.baseURL, url.QueryEscape(category))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &directory.NetworkError{Kind: directory.NetworkUnknown, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &directory.NetworkError{
			Kind: directory.NetworkServerDown,
			Err:  fmt.Errorf("source returned %d", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &directory.NetworkError{
			Kind: directory.NetworkFetchFailed,
			Err:  fmt.Errorf("source returned %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	places, err := decodePlaces(body)
	if err != nil {
		return nil, &directory.NetworkError{Kind: directory.NetworkInvalidResponse, Err: err}
	}
	c.logger.Debug("source search complete",
		zap.String("category", category),
		zap.Int("places", len(places)),
	)
	return places, nil
}

func decodePlaces(body []byte) ([]directory.RawPlace, error) {
	var bare []directory.RawPlace
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}
	var envelope searchResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if envelope.Results == nil {
		return nil, errors.New("search response carries no results field")
	}
	return envelope.Results, nil
}

func classifyTransport(err error) *directory.NetworkError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &directory.NetworkError{Kind: directory.NetworkTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &directory.NetworkError{Kind: directory.NetworkTimeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return &directory.NetworkError{Kind: directory.NetworkServerDown, Err: err}
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return &directory.NetworkError{Kind: directory.NetworkServerDown, Err: err}
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return &directory.NetworkError{Kind: directory.NetworkFetchFailed, Err: err}
		}
		return &directory.NetworkError{Kind: directory.NetworkUnknown, Err: err}
	}
}
