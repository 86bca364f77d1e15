// Package directory defines the core data contracts for the business
// directory: the Business record, derived statistics, snapshot chunk
// metadata, and the interfaces the storage adapters implement.
package directory

import (
	"sort"
	"time"
)

// BusinessStatus describes whether a listing is still trading.
type BusinessStatus string

// Supported business statuses.
const (
	StatusOperational BusinessStatus = "OPERATIONAL"
	StatusClosed      BusinessStatus = "CLOSED"
	StatusUnknown     BusinessStatus = "UNKNOWN"
)

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Logo references a business logo. At most one of URL/CachedURL is
// authoritative; CachedURL wins once the media cacher has stored a copy.
type Logo struct {
	URL       string `json:"url,omitempty"`
	CachedURL string `json:"cachedUrl,omitempty"`
}

// Photo is one entry in a business's ordered photo gallery.
type Photo struct {
	URL       string `json:"url"`
	Caption   string `json:"caption,omitempty"`
	CachedURL string `json:"cachedUrl,omitempty"`
}

// Business is one directory entry. ID is the stable external identifier and
// the primary key across every storage adapter.
type Business struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Address     string         `json:"address,omitempty"`
	Category    string         `json:"category,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Website     string         `json:"website,omitempty"`
	Email       string         `json:"email,omitempty"`
	Rating      float64        `json:"rating"`
	ReviewCount int            `json:"reviewCount"`
	Coordinates *Coordinates   `json:"coordinates,omitempty"`
	Status      BusinessStatus `json:"status"`
	Logo        *Logo          `json:"logo,omitempty"`
	Photos      []Photo        `json:"photos,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Validate enforces the record invariants required before an upsert.
func (b Business) Validate() error {
	if b.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if b.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if b.Rating < 0 || b.Rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 0 and 5"}
	}
	if b.ReviewCount < 0 {
		return &ValidationError{Field: "reviewCount", Reason: "must be >= 0"}
	}
	return nil
}

// Default values applied to heterogeneous source records. Source feeds
// frequently omit ratings and categories, so the builder and the ingestion
// boundary fill them consistently.
const (
	DefaultRating   = 4.0
	DefaultCategory = "General Services"
)

// ApplyDefaults fills missing optional fields with the documented defaults.
func ApplyDefaults(b *Business) {
	if b.Rating == 0 {
		b.Rating = DefaultRating
	}
	if b.Category == "" {
		b.Category = DefaultCategory
	}
	if b.Status == "" {
		b.Status = StatusOperational
	}
}

// Stats is derived from the full business set of one adapter. A cached row
// may lag the live data; UpdatedAt records when it was computed.
type Stats struct {
	TotalBusinesses int64     `json:"totalBusinesses"`
	TotalReviews    int64     `json:"totalReviews"`
	AvgRating       float64   `json:"avgRating"`
	Locations       int64     `json:"locations"`
	ScamReports     int64     `json:"scamReports"`
	UpdatedAt       time.Time `json:"lastUpdated"`
}

// ChunkInfo describes one snapshot chunk. First/last names are diagnostic
// only.
type ChunkInfo struct {
	Number    int    `json:"number"`
	Count     int    `json:"count"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// ChunkIndex describes a full snapshot partition. Concatenating the chunks in
// index order reproduces the original ordered sequence exactly.
type ChunkIndex struct {
	TotalBusinesses    int         `json:"totalBusinesses"`
	TotalChunks        int         `json:"totalChunks"`
	BusinessesPerChunk int         `json:"businessesPerChunk"`
	Chunks             []ChunkInfo `json:"chunks"`
}

// Filter selects businesses for queries. The zero value matches every
// OPERATIONAL record.
type Filter struct {
	// Category matches case-insensitively as a substring of the category.
	Category string
	// Search matches case-insensitively across name, address and category.
	Search string
	// Status defaults to OPERATIONAL when empty.
	Status BusinessStatus
}

// EffectiveStatus resolves the default status policy.
func (f Filter) EffectiveStatus() BusinessStatus {
	if f.Status == "" {
		return StatusOperational
	}
	return f.Status
}

// Matches reports whether the business satisfies the filter. In-memory
// adapters use it; relational adapters express the same predicate in SQL.
func (f Filter) Matches(b Business) bool {
	if b.Status != f.EffectiveStatus() {
		return false
	}
	if f.Category != "" && !containsFold(b.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		if !containsFold(b.Name, f.Search) &&
			!containsFold(b.Address, f.Search) &&
			!containsFold(b.Category, f.Search) {
			return false
		}
	}
	return true
}

// PageRequest describes pagination for a query. Page is 1-indexed. All
// bypasses pagination and returns every matching record.
type PageRequest struct {
	Page     int
	PageSize int
	All      bool
}

// Page is the normalized result shape every adapter produces.
type Page struct {
	Businesses []Business `json:"businesses"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
	Limit      int        `json:"limit"`
}

// UpsertOutcome reports whether an upsert created or replaced a record.
type UpsertOutcome string

// Upsert outcomes.
const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// SortByPopularity orders businesses by rating descending, then review count
// descending, with ID ascending as a stable final key so pagination is
// deterministic across adapters.
func SortByPopularity(items []Business) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Rating != items[j].Rating {
			return items[i].Rating > items[j].Rating
		}
		if items[i].ReviewCount != items[j].ReviewCount {
			return items[i].ReviewCount > items[j].ReviewCount
		}
		return items[i].ID < items[j].ID
	})
}
