package directory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawPlaceFromJSON(t *testing.T, payload string) RawPlace {
	t.Helper()
	var raw RawPlace
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestNormalizeCanonicalFields(t *testing.T) {
	t.Parallel()

	raw := rawPlaceFromJSON(t, `{
		"id": "biz-1",
		"name": "Acme Plumbing",
		"address": "10 Main St",
		"category": "Plumber",
		"phone": "555-0100",
		"website": "https://acme.example",
		"rating": 4.6,
		"reviewCount": 31,
		"latitude": 40.7,
		"longitude": -74.0,
		"logo": "https://acme.example/logo.png",
		"photos": [{"url": "https://acme.example/p1.jpg", "caption": "storefront"}]
	}`)

	b, err := raw.Normalize()
	require.NoError(t, err)
	require.Equal(t, "biz-1", b.ID)
	require.Equal(t, "Acme Plumbing", b.Name)
	require.Equal(t, "Plumber", b.Category)
	require.Equal(t, 4.6, b.Rating)
	require.Equal(t, 31, b.ReviewCount)
	require.Equal(t, StatusOperational, b.Status)
	require.NotNil(t, b.Coordinates)
	require.Equal(t, 40.7, b.Coordinates.Latitude)
	require.NotNil(t, b.Logo)
	require.Equal(t, "https://acme.example/logo.png", b.Logo.URL)
	require.Len(t, b.Photos, 1)
	require.Equal(t, "storefront", b.Photos[0].Caption)
}

func TestNormalizeFieldAliases(t *testing.T) {
	t.Parallel()

	raw := rawPlaceFromJSON(t, `{
		"place_id": "biz-2",
		"title": "Beta Bakery",
		"formatted_address": "2 Oak Ave",
		"type": "Bakery",
		"user_ratings_total": 120,
		"stars": 4.1,
		"business_status": "CLOSED_PERMANENTLY",
		"location": {"lat": 51.5, "lng": -0.1}
	}`)

	b, err := raw.Normalize()
	require.NoError(t, err)
	require.Equal(t, "biz-2", b.ID)
	require.Equal(t, "Beta Bakery", b.Name)
	require.Equal(t, "2 Oak Ave", b.Address)
	require.Equal(t, 120, b.ReviewCount)
	require.Equal(t, 4.1, b.Rating)
	require.Equal(t, StatusClosed, b.Status)
	require.NotNil(t, b.Coordinates)
	require.Equal(t, 51.5, b.Coordinates.Latitude)
	require.Equal(t, -0.1, b.Coordinates.Longitude)
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	raw := rawPlaceFromJSON(t, `{"id": "biz-3", "name": "Gamma"}`)
	b, err := raw.Normalize()
	require.NoError(t, err)
	require.Equal(t, DefaultRating, b.Rating)
	require.Equal(t, DefaultCategory, b.Category)
	require.Equal(t, StatusOperational, b.Status)
	require.Nil(t, b.Coordinates)
	require.Nil(t, b.Logo)
}

func TestNormalizeRejectsAnonymousRecords(t *testing.T) {
	t.Parallel()

	_, err := rawPlaceFromJSON(t, `{"name": "No ID"}`).Normalize()
	require.Error(t, err)

	_, err = rawPlaceFromJSON(t, `{"id": "biz-4"}`).Normalize()
	require.Error(t, err)
}

func TestNormalizeClampsOutOfRangeValues(t *testing.T) {
	t.Parallel()

	raw := rawPlaceFromJSON(t, `{"id": "biz-5", "name": "Delta", "rating": 9.9, "reviews": -4}`)
	b, err := raw.Normalize()
	require.NoError(t, err)
	require.Equal(t, 5.0, b.Rating)
	require.Equal(t, 0, b.ReviewCount)
}

func TestNormalizePhotoStringList(t *testing.T) {
	t.Parallel()

	raw := rawPlaceFromJSON(t, `{"id": "biz-6", "name": "Epsilon", "images": ["https://x/1.jpg", "https://x/2.jpg"]}`)
	b, err := raw.Normalize()
	require.NoError(t, err)
	require.Len(t, b.Photos, 2)
	require.Equal(t, "https://x/1.jpg", b.Photos[0].URL)
}
