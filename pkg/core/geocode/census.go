// Package geocode resolves street addresses to coordinates and metro areas
// through the US Census geocoder.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://geocoding.geo.census.gov/geocoder"
	// SourceCensus is recorded as a deal's msa_source.
	SourceCensus = "census"

	msaLayer = "Metropolitan Statistical Areas"
)

var ErrNotFound = errors.New("address not matched")

// Result is a geocoder answer. MSA is empty when the point lies outside any
// metropolitan statistical area.
type Result struct {
	Lat float64
	Lon float64
	MSA string
}

// Client calls the Census one-line address endpoint.
type Client struct {
	BaseURL    string
	Benchmark  string
	Vintage    string
	HTTPClient *http.Client
	logger     *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		Benchmark:  "Public_AR_Current",
		Vintage:    "Current_Current",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
			Geographies map[string][]struct {
				Name string `json:"NAME"`
			} `json:"geographies"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Geocode resolves a one-line address. An address without a match returns
// ErrNotFound.
func (c *Client) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNotFound)
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", c.Benchmark)
	q.Set("vintage", c.Vintage)
	q.Set("layers", msaLayer)
	q.Set("format", "json")
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/geographies/onelineaddress?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("GEOCODE_REQUEST_FAILED: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GEOCODE_REQUEST_FAILED: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GEOCODE_API_ERROR: status %d", resp.StatusCode)
	}

	var body censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("GEOCODE_DECODE_FAILED: %w", err)
	}
	if len(body.Result.AddressMatches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}

	m := body.Result.AddressMatches[0]
	res := &Result{Lat: m.Coordinates.Y, Lon: m.Coordinates.X}
	if areas := m.Geographies[msaLayer]; len(areas) > 0 {
		res.MSA = areas[0].Name
	}
	c.logger.Debug("address geocoded",
		zap.String("matched", m.MatchedAddress),
		zap.Float64("lat", res.Lat),
		zap.Float64("lon", res.Lon),
		zap.String("msa", res.MSA))
	return res, nil
}
