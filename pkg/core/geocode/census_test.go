package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGeocode_Match(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geographies/onelineaddress", r.URL.Path)
		assert.Equal(t, "100 Main St, TX 78701", r.URL.Query().Get("address"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"result":{"addressMatches":[{
			"matchedAddress":"100 MAIN ST, AUSTIN, TX, 78701",
			"coordinates":{"x":-97.74,"y":30.27},
			"geographies":{"Metropolitan Statistical Areas":[{"NAME":"Austin-Round Rock-San Marcos, TX Metro Area"}]}
		}]}}`))
	}))
	defer srv.Close()

	c := NewClient(zaptest.NewLogger(t))
	c.BaseURL = srv.URL
	res, err := c.Geocode(context.Background(), "100 Main St, TX 78701")
	require.NoError(t, err)
	assert.Equal(t, 30.27, res.Lat)
	assert.Equal(t, -97.74, res.Lon)
	assert.Equal(t, "Austin-Round Rock-San Marcos, TX Metro Area", res.MSA)
}

func TestGeocode_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"addressMatches":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL
	_, err := c.Geocode(context.Background(), "nowhere")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.Geocode(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGeocode_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL
	_, err := c.Geocode(context.Background(), "100 Main St")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEOCODE_API_ERROR")
	assert.False(t, errors.Is(err, ErrNotFound))
}
