// Package places implements the search provider against the Google Places
// web service.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// detailFields limits the detail payload to what the prospect record needs.
const detailFields = "place_id,name,formatted_address,international_phone_number,website,rating,user_ratings_total,geometry/location,types"

// Config controls the Places client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the Places nearby/text search and details endpoints.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Client. APIKey is required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("places api key is required")
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

type searchResponse struct {
	Results []struct {
		PlaceID string `json:"place_id"`
		Name    string `json:"name"`
	} `json:"results"`
	NextPageToken string `json:"next_page_token"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message"`
}

type detailsResponse struct {
	Result struct {
		PlaceID                  string   `json:"place_id"`
		Name                     string   `json:"name"`
		FormattedAddress         string   `json:"formatted_address"`
		InternationalPhoneNumber string   `json:"international_phone_number"`
		Website                  string   `json:"website"`
		Rating                   *float64 `json:"rating"`
		UserRatingsTotal         *int     `json:"user_ratings_total"`
		Types                    []string `json:"types"`
		Geometry                 struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"result"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// SearchNearby issues a nearby search biased to the given coordinates.
func (c *Client) SearchNearby(ctx context.Context, lat, lng float64, radiusMeters int, keyword, pageToken string) (prospector.SearchPage, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", lat, lng))
	params.Set("radius", strconv.Itoa(radiusMeters))
	if keyword != "" {
		params.Set("keyword", keyword)
	}
	if pageToken != "" {
		params.Set("pagetoken", pageToken)
	}
	return c.search(ctx, "nearbysearch", params)
}

// SearchText issues a free-form text search.
func (c *Client) SearchText(ctx context.Context, query, pageToken string) (prospector.SearchPage, error) {
	params := url.Values{}
	params.Set("query", query)
	if pageToken != "" {
		params.Set("pagetoken", pageToken)
	}
	return c.search(ctx, "textsearch", params)
}

func (c *Client) search(ctx context.Context, endpoint string, params url.Values) (prospector.SearchPage, error) {
	var parsed searchResponse
	if err := c.get(ctx, endpoint, params, &parsed); err != nil {
		return prospector.SearchPage{}, err
	}
	if err := statusError("places "+endpoint, parsed.Status, parsed.ErrorMessage); err != nil {
		return prospector.SearchPage{}, err
	}
	page := prospector.SearchPage{NextPageToken: parsed.NextPageToken}
	for _, r := range parsed.Results {
		page.Candidates = append(page.Candidates, prospector.Candidate{
			PlaceID: r.PlaceID,
			Name:    r.Name,
		})
	}
	return page, nil
}

// GetDetails fetches the full listing record for one place.
func (c *Client) GetDetails(ctx context.Context, placeID string) (prospector.PlaceDetails, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)

	var parsed detailsResponse
	if err := c.get(ctx, "details", params, &parsed); err != nil {
		return prospector.PlaceDetails{}, err
	}
	if err := statusError("places details", parsed.Status, parsed.ErrorMessage); err != nil {
		return prospector.PlaceDetails{}, err
	}
	r := parsed.Result
	return prospector.PlaceDetails{
		PlaceID:     r.PlaceID,
		Name:        r.Name,
		Phone:       r.InternationalPhoneNumber,
		Address:     r.FormattedAddress,
		Website:     r.Website,
		Lat:         r.Geometry.Location.Lat,
		Lng:         r.Geometry.Location.Lng,
		Types:       r.Types,
		Rating:      r.Rating,
		RatingCount: r.UserRatingsTotal,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("key", c.apiKey)
	reqURL := fmt.Sprintf("%s/%s/json?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("new %s request: %w", endpoint, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close places response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return &prospector.ProviderError{
			Provider:   "places " + endpoint,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s body: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s body: %w", endpoint, err)
	}
	return nil
}

// statusError maps API-level status strings onto provider errors so the
// retry envelope can classify them. ZERO_RESULTS is a valid empty page.
func statusError(provider, status, message string) error {
	switch status {
	case "OK", "ZERO_RESULTS":
		return nil
	case "OVER_QUERY_LIMIT", "RESOURCE_EXHAUSTED":
		return &prospector.ProviderError{
			Provider:   provider,
			StatusCode: http.StatusTooManyRequests,
			Message:    orStatus(message, status),
		}
	case "UNKNOWN_ERROR":
		return &prospector.ProviderError{
			Provider:   provider,
			StatusCode: http.StatusInternalServerError,
			Message:    orStatus(message, status),
		}
	default:
		return &prospector.ProviderError{
			Provider:   provider,
			StatusCode: http.StatusBadRequest,
			Message:    orStatus(message, status),
		}
	}
}

func orStatus(message, status string) string {
	if message != "" {
		return message
	}
	return status
}
