//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
	"github.com/couchcryptid/crop-diagnosis/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests call the live Mapbox API with MAPBOX_TOKEN.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

// olKalou is the county headquarters, used to bias and bound results.
var olKalou = domain.Coordinate{Lat: -0.27, Lon: 36.38}

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetricsForTesting(), WithProximity(olKalou))
}

func TestSmoke_ForwardGeocode_CountyHeadquarters(t *testing.T) {
	c := smokeClient(t)

	result, err := c.ForwardGeocode(context.Background(), "Ol Kalou", "Nyandarua")
	require.NoError(t, err)

	assert.Less(t, domain.DistanceKm(olKalou, domain.Coordinate{Lat: result.Lat, Lon: result.Lon}), 20.0)
	assert.Contains(t, result.FormattedAddress, "Kenya")
	assert.GreaterOrEqual(t, result.Confidence, defaultMinRelevance)
}

// Every registry ward should resolve to somewhere inside the county.
func TestSmoke_RegistryWardsResolveInCounty(t *testing.T) {
	c := smokeClient(t)
	registry, err := reference.ReadRegistry("")
	require.NoError(t, err)

	for _, r := range registry.Regions {
		for _, sr := range r.SubRegions {
			t.Run(sr.Name, func(t *testing.T) {
				result, err := c.ForwardGeocode(context.Background(), sr.Name, r.Name+", "+registry.County)
				require.NoError(t, err)
				if result.FormattedAddress == "" {
					t.Skipf("no confident match for %s", sr.Name)
				}
				at := domain.Coordinate{Lat: result.Lat, Lon: result.Lon}
				assert.Less(t, domain.DistanceKm(olKalou, at), 80.0, result.FormattedAddress)
			})
		}
	}
}

func TestSmoke_ReverseGeocode_Kinangop(t *testing.T) {
	c := smokeClient(t)

	result, err := c.ReverseGeocode(context.Background(), -0.682, 36.65)
	require.NoError(t, err)

	assert.NotEmpty(t, result.FormattedAddress)
	assert.NotEmpty(t, result.PlaceName)
}

func TestSmoke_ForwardGeocode_Nonsense(t *testing.T) {
	c := smokeClient(t)

	// Weak fuzzy matches fall under the relevance floor and come back empty.
	_, err := c.ForwardGeocode(context.Background(), "XYZNONEXISTENT99", "Nyandarua")
	require.NoError(t, err)
}

func TestSmoke_CachedReverseLookups(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(smokeClient(t), 10, metrics)

	r1, err := cached.ReverseGeocode(context.Background(), -0.68201, 36.65001)
	require.NoError(t, err)
	r2, err := cached.ReverseGeocode(context.Background(), -0.68203, 36.64999)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, cached.cache.len())
}
