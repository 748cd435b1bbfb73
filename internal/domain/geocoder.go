package domain

import "context"

// GeocodingResult is one place match. An empty FormattedAddress means the
// provider had nothing usable.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // provider relevance, 0 to 1
}

// Geocoder places registry suppliers that lack coordinates and names the
// locality around a farmer's position.
type Geocoder interface {
	// ForwardGeocode finds a named place, such as a trading centre, inside
	// area (e.g. "Kinangop, Nyandarua").
	ForwardGeocode(ctx context.Context, name, area string) (GeocodingResult, error)

	// ReverseGeocode names the locality at a coordinate.
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
