// Package query normalizes list requests and shapes paginated responses.
package query

import (
	"context"
	"fmt"

	"github.com/localpages/directory/internal/directory"
)

const (
	// DefaultPageSize applies when a request carries no limit.
	DefaultPageSize = 20
	// MaxPageSize caps the per-page limit; larger requests are clamped,
	// never rejected.
	MaxPageSize = 200
)

// Engine answers directory list queries against any storage adapter.
type Engine struct {
	store directory.Store
}

// NewEngine wraps a storage adapter.
func NewEngine(store directory.Store) *Engine {
	return &Engine{store: store}
}

// Normalize clamps a raw page request into the supported range. Page numbers
// below 1 become 1; sizes below 1 become DefaultPageSize; sizes above
// MaxPageSize become MaxPageSize. All requests pass through untouched.
func Normalize(page directory.PageRequest) directory.PageRequest {
	if page.All {
		return directory.PageRequest{All: true}
	}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize < 1 {
		page.PageSize = DefaultPageSize
	} else if page.PageSize > MaxPageSize {
		page.PageSize = MaxPageSize
	}
	return page
}

// List runs the filtered, paginated query and shapes the result. Results are
// ordered by rating, then review count. A page past the last match returns an
// empty page with accurate totals.
func (e *Engine) List(
	ctx context.Context,
	filter directory.Filter,
	page directory.PageRequest,
) (directory.Page, error) {
	page = Normalize(page)

	items, total, err := e.store.Query(ctx, filter, page)
	if err != nil {
		return directory.Page{}, fmt.Errorf("list businesses: %w", err)
	}
	if items == nil {
		items = []directory.Business{}
	}

	if page.All {
		return directory.Page{
			Businesses: items,
			Total:      total,
			Page:       1,
			TotalPages: 1,
			Limit:      len(items),
		}, nil
	}

	totalPages := int(total) / page.PageSize
	if int(total)%page.PageSize != 0 {
		totalPages++
	}
	return directory.Page{
		Businesses: items,
		Total:      total,
		Page:       page.Page,
		TotalPages: totalPages,
		Limit:      page.PageSize,
	}, nil
}
