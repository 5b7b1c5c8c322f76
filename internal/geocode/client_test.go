package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return client
}

func TestGeocodeResolvesArea(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Austin, TX", r.URL.Query().Get("address"))
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "Austin, TX, USA",
				"geometry": {"location": {"lat": 30.2672, "lng": -97.7431}}
			}]
		}`))
	})

	loc, err := client.Geocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	require.NotNil(t, loc)
	require.Equal(t, 30.2672, loc.Lat)
	require.Equal(t, -97.7431, loc.Lng)
	require.Equal(t, "Austin, TX, USA", loc.FormattedAddress)
}

func TestGeocodeZipCodeUsesComponentsFilter(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "postal_code:78701|country:US", r.URL.Query().Get("components"))
		require.Empty(t, r.URL.Query().Get("address"))
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "Austin, TX 78701, USA",
				"geometry": {"location": {"lat": 30.2711, "lng": -97.7437}}
			}]
		}`))
	})

	loc, err := client.Geocode(context.Background(), "78701")
	require.NoError(t, err)
	require.NotNil(t, loc)
	require.Equal(t, "Austin, TX 78701, USA", loc.FormattedAddress)
}

func TestGeocodeZeroResultsReturnsNil(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	})

	loc, err := client.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	require.Nil(t, loc)
}

func TestGeocodeServerErrorReturnsNilNotError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	loc, err := client.Geocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	require.Nil(t, loc)
}

func TestGeocodeTransportFailureReturnsNilNotError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // force connection refused

	client, err := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	loc, err := client.Geocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	require.Nil(t, loc)
}

func TestIsZipCode(t *testing.T) {
	t.Parallel()

	require.True(t, IsZipCode("78701"))
	require.True(t, IsZipCode("78701-1234"))
	require.False(t, IsZipCode("Austin, TX"))
	require.False(t, IsZipCode("7870"))
}
