package directory

import (
	"encoding/json"
	"strings"
)

// RawPlace is one record as returned by the external place source. Source
// feeds are heterogeneous: the same concept arrives under different field
// names depending on the upstream provider. Normalize maps the closed set of
// known aliases onto the canonical Business schema; Business itself never
// carries aliases.
type RawPlace map[string]json.RawMessage

// Alias tables, first match wins.
var (
	idAliases       = []string{"id", "place_id", "placeId"}
	nameAliases     = []string{"name", "title", "business_name", "businessName"}
	addressAliases  = []string{"address", "formatted_address", "vicinity"}
	categoryAliases = []string{"category", "type", "primary_type"}
	phoneAliases    = []string{"phone", "formatted_phone_number", "phoneNumber"}
	websiteAliases  = []string{"website", "url", "site"}
	emailAliases    = []string{"email", "contact_email"}
	ratingAliases   = []string{"rating", "stars", "score"}
	reviewAliases   = []string{"reviewCount", "review_count", "reviews", "user_ratings_total"}
	logoAliases     = []string{"logo", "logo_url", "icon"}
	statusAliases   = []string{"status", "business_status"}
	latAliases      = []string{"latitude", "lat"}
	lngAliases      = []string{"longitude", "lng", "lon"}
)

// Normalize maps the raw record onto the canonical Business type, applying
// the documented defaults for missing optional fields. It fails only when the
// record lacks a usable identity (id or name).
func (r RawPlace) Normalize() (Business, error) {
	b := Business{
		ID:          r.stringField(idAliases),
		Name:        r.stringField(nameAliases),
		Address:     r.stringField(addressAliases),
		Category:    r.stringField(categoryAliases),
		Phone:       r.stringField(phoneAliases),
		Website:     r.stringField(websiteAliases),
		Email:       r.stringField(emailAliases),
		Rating:      r.floatField(ratingAliases),
		ReviewCount: r.intField(reviewAliases),
		Status:      normalizeStatus(r.stringField(statusAliases)),
	}
	if b.Rating < 0 {
		b.Rating = 0
	}
	if b.Rating > 5 {
		b.Rating = 5
	}
	if b.ReviewCount < 0 {
		b.ReviewCount = 0
	}
	b.Coordinates = r.coordinates()
	if logo := r.stringField(logoAliases); logo != "" {
		b.Logo = &Logo{URL: logo}
	}
	b.Photos = r.photos()
	ApplyDefaults(&b)
	if err := b.Validate(); err != nil {
		return Business{}, err
	}
	return b, nil
}

func (r RawPlace) stringField(keys []string) string {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func (r RawPlace) floatField(keys []string) float64 {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return f
		}
		// Some feeds ship numbers as strings.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			var parsed float64
			if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &parsed); err == nil {
				return parsed
			}
		}
	}
	return 0
}

func (r RawPlace) intField(keys []string) int {
	return int(r.floatField(keys))
}

func (r RawPlace) coordinates() *Coordinates {
	lat, latOK := r.lookupFloat(latAliases)
	lng, lngOK := r.lookupFloat(lngAliases)
	if latOK && lngOK {
		return &Coordinates{Latitude: lat, Longitude: lng}
	}
	for _, key := range []string{"coordinates", "location", "geometry"} {
		raw, ok := r[key]
		if !ok {
			continue
		}
		var nested RawPlace
		if err := json.Unmarshal(raw, &nested); err != nil {
			continue
		}
		nlat, nlatOK := nested.lookupFloat(latAliases)
		nlng, nlngOK := nested.lookupFloat(lngAliases)
		if nlatOK && nlngOK {
			return &Coordinates{Latitude: nlat, Longitude: nlng}
		}
	}
	return nil
}

func (r RawPlace) lookupFloat(keys []string) (float64, bool) {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (r RawPlace) photos() []Photo {
	raw, ok := r["photos"]
	if !ok {
		if raw, ok = r["images"]; !ok {
			return nil
		}
	}
	var entries []RawPlace
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Some feeds ship a bare list of URL strings.
		var urls []string
		if err := json.Unmarshal(raw, &urls); err != nil {
			return nil
		}
		photos := make([]Photo, 0, len(urls))
		for _, u := range urls {
			if u != "" {
				photos = append(photos, Photo{URL: u})
			}
		}
		return photos
	}
	photos := make([]Photo, 0, len(entries))
	for _, entry := range entries {
		p := Photo{
			URL:       entry.stringField([]string{"url", "photo_url", "src"}),
			Caption:   entry.stringField([]string{"caption", "title", "description"}),
			CachedURL: entry.stringField([]string{"cachedUrl", "cached_url"}),
		}
		if p.URL == "" && p.CachedURL == "" {
			continue
		}
		photos = append(photos, p)
	}
	if len(photos) == 0 {
		return nil
	}
	return photos
}

func normalizeStatus(s string) BusinessStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OPERATIONAL", "OPEN", "ACTIVE":
		return StatusOperational
	case "CLOSED", "CLOSED_PERMANENTLY", "CLOSED_TEMPORARILY", "PERMANENTLY_CLOSED":
		return StatusClosed
	default:
		return StatusUnknown
	}
}
