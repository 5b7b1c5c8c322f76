// Package geocode resolves area strings to coordinates via the Google
// Geocoding web service.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

var zipCodeRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// Config controls the geocoding client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client implements prospector.Geocoder. Resolution failures return
// (nil, nil) so callers can degrade to text search.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Client. APIKey is required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("geocode api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves an area string to coordinates. Any failure, from
// transport errors to zero results, yields (nil, nil): geocoding is
// best-effort and must never fail the batch.
func (c *Client) Geocode(ctx context.Context, area string) (*prospector.GeoLocation, error) {
	params := url.Values{}
	if IsZipCode(area) {
		// Bare ZIP codes match ambiguously as addresses; a components
		// filter pins the lookup to the US postal code.
		params.Set("components", "postal_code:"+area+"|country:US")
	} else {
		params.Set("address", area)
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		c.logger.Warn("geocode request build failed", zap.String("area", area), zap.Error(err))
		return nil, nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("geocode fetch failed", zap.String("area", area), zap.Error(err))
		return nil, nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close geocode response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("geocode returned non-OK status",
			zap.String("area", area),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Warn("geocode body read failed", zap.String("area", area), zap.Error(err))
		return nil, nil
	}
	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("geocode body decode failed", zap.String("area", area), zap.Error(err))
		return nil, nil
	}
	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		c.logger.Info("geocode resolution failed",
			zap.String("area", area),
			zap.String("status", parsed.Status),
		)
		return nil, nil
	}

	result := parsed.Results[0]
	return &prospector.GeoLocation{
		Lat:              result.Geometry.Location.Lat,
		Lng:              result.Geometry.Location.Lng,
		FormattedAddress: result.FormattedAddress,
	}, nil
}

// IsZipCode reports whether the area string looks like a US ZIP code.
func IsZipCode(area string) bool {
	return zipCodeRe.MatchString(area)
}
