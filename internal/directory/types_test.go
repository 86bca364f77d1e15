package directory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusinessValidate(t *testing.T) {
	t.Parallel()

	valid := Business{ID: "biz-1", Name: "Acme Plumbing", Rating: 4.5, ReviewCount: 12}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		biz  Business
	}{
		{"missing id", Business{Name: "Acme"}},
		{"missing name", Business{ID: "biz-1"}},
		{"rating too high", Business{ID: "biz-1", Name: "Acme", Rating: 5.5}},
		{"rating negative", Business{ID: "biz-1", Name: "Acme", Rating: -1}},
		{"negative reviews", Business{ID: "biz-1", Name: "Acme", ReviewCount: -3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.biz.Validate()
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	b := Business{ID: "biz-1", Name: "Acme"}
	ApplyDefaults(&b)
	require.Equal(t, DefaultRating, b.Rating)
	require.Equal(t, DefaultCategory, b.Category)
	require.Equal(t, StatusOperational, b.Status)

	set := Business{ID: "biz-2", Name: "Beta", Rating: 3.5, Category: "Bakery", Status: StatusClosed}
	ApplyDefaults(&set)
	require.Equal(t, 3.5, set.Rating)
	require.Equal(t, "Bakery", set.Category)
	require.Equal(t, StatusClosed, set.Status)
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	biz := Business{
		ID:       "biz-1",
		Name:     "Riverside Dental",
		Address:  "42 River Road, Springfield",
		Category: "Dentist",
		Status:   StatusOperational,
	}

	require.True(t, Filter{}.Matches(biz))
	require.True(t, Filter{Category: "dent"}.Matches(biz))
	require.True(t, Filter{Search: "SPRINGFIELD"}.Matches(biz))
	require.True(t, Filter{Search: "riverside"}.Matches(biz))
	require.False(t, Filter{Category: "bakery"}.Matches(biz))
	require.False(t, Filter{Search: "pizza"}.Matches(biz))

	closed := biz
	closed.Status = StatusClosed
	require.False(t, Filter{}.Matches(closed), "default filter only matches operational records")
	require.True(t, Filter{Status: StatusClosed}.Matches(closed))
}

func TestSortByPopularity(t *testing.T) {
	t.Parallel()

	items := []Business{
		{ID: "c", Rating: 4.0, ReviewCount: 10},
		{ID: "a", Rating: 4.5, ReviewCount: 2},
		{ID: "b", Rating: 4.0, ReviewCount: 50},
		{ID: "d", Rating: 4.0, ReviewCount: 10},
	}
	SortByPopularity(items)

	got := make([]string, 0, len(items))
	for _, b := range items {
		got = append(got, b.ID)
	}
	// Rating desc, then review count desc, then ID for determinism.
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestNetworkErrorRetryAndMessage(t *testing.T) {
	t.Parallel()

	timeout := &NetworkError{Kind: NetworkTimeout}
	require.True(t, timeout.ShouldRetry())
	require.NotEmpty(t, timeout.UserMessage())

	invalid := &NetworkError{Kind: NetworkInvalidResponse}
	require.False(t, invalid.ShouldRetry())
	require.NotEqual(t, invalid.Error(), invalid.UserMessage())
}
