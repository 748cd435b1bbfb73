package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
)

const (
	placesURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

	// Agrovets are usually shop POIs or the trading centre they sit in.
	forwardTypes = "poi,neighborhood,locality,place"
	reverseTypes = "neighborhood,locality,place"

	// defaultMinRelevance drops forward hits that only matched part of the query.
	defaultMinRelevance = 0.6
)

var (
	// ErrUnauthorized means the access token was rejected.
	ErrUnauthorized = errors.New("mapbox: token rejected")
	// ErrRateLimited means the account exceeded its request quota.
	ErrRateLimited = errors.New("mapbox: rate limited")
)

// Client implements domain.Geocoder against the Mapbox Geocoding v5 API,
// scoped to one country.
type Client struct {
	token        string
	httpClient   *http.Client
	baseURL      string
	country      string
	proximity    *domain.Coordinate
	minRelevance float64
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithCountry restricts results to an ISO 3166-1 alpha-2 country code.
func WithCountry(code string) Option {
	return func(c *Client) { c.country = strings.ToLower(code) }
}

// WithProximity biases forward results towards a point, typically the
// county centre.
func WithProximity(p domain.Coordinate) Option {
	return func(c *Client) { c.proximity = &p }
}

// NewClient creates a Mapbox geocoding client limited to Kenya by default.
func NewClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Client {
	c := &Client{
		token:        token,
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      placesURL,
		country:      "ke",
		minRelevance: defaultMinRelevance,
		metrics:      metrics,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForwardGeocode locates a named place, e.g. an agrovet's trading centre,
// within an area such as "Kinangop, Nyandarua".
func (c *Client) ForwardGeocode(ctx context.Context, name, area string) (domain.GeocodingResult, error) {
	query := strings.TrimSpace(name)
	if area != "" {
		query += ", " + area
	}
	params := c.params(forwardTypes)
	if c.proximity != nil {
		params.Set("proximity", lonLat(*c.proximity))
	}

	result, err := c.call(ctx, "forward", url.PathEscape(query), params)
	if err == nil && result.Confidence < c.minRelevance {
		c.logger.Debug("mapbox match below relevance floor", "query", query, "relevance", result.Confidence)
		return domain.GeocodingResult{}, nil
	}
	return result, err
}

// ReverseGeocode names the locality around a coordinate.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	return c.call(ctx, "reverse", lonLat(domain.Coordinate{Lat: lat, Lon: lon}), c.params(reverseTypes))
}

func (c *Client) params(types string) url.Values {
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"language":     {"en"},
		"types":        {types},
	}
	if c.country != "" {
		params.Set("country", c.country)
	}
	return params
}

// call performs one lookup and records its outcome.
func (c *Client) call(ctx context.Context, method, path string, params url.Values) (domain.GeocodingResult, error) {
	endpoint := fmt.Sprintf("%s/%s.json?%s", c.baseURL, path, params.Encode())
	result, err := c.fetch(ctx, method, endpoint)

	outcome := "success"
	switch {
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case err != nil:
		outcome = "error"
	case result.FormattedAddress == "":
		outcome = "empty"
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, outcome).Inc()
	if err != nil {
		c.logger.Debug("mapbox request failed", "method", method, "error", err)
	}
	return result, err
}

func (c *Client) fetch(ctx context.Context, method, endpoint string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("%s geocode request: %w", method, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.GeocodingResult{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusTooManyRequests:
		return domain.GeocodingResult{}, fmt.Errorf("%w: retry after %q", ErrRateLimited, resp.Header.Get("Retry-After"))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var payload featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Features) == 0 {
		return domain.GeocodingResult{}, nil
	}
	return payload.Features[0].result(), nil
}

// lonLat renders a coordinate in the lon,lat order Mapbox expects.
func lonLat(p domain.Coordinate) string {
	return strconv.FormatFloat(p.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}

func (f feature) result() domain.GeocodingResult {
	r := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		r.Lon, r.Lat = f.Center[0], f.Center[1]
	}
	return r
}
