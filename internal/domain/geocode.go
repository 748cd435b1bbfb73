package domain

import (
	"context"
	"log/slog"
	"strings"
)

// ResolveSupplierCoordinates fills in coordinates for registry entries that
// only carry a local-area name. Suppliers that already have coordinates pass
// through untouched. Entries that stay unlocated (no geocoder, lookup error,
// or empty result) are dropped with a warning, because every directory entry
// must be rankable by distance.
func ResolveSupplierCoordinates(ctx context.Context, suppliers []Supplier, county string, geocoder Geocoder, logger *slog.Logger) []Supplier {
	out := make([]Supplier, 0, len(suppliers))
	for _, s := range suppliers {
		if !s.Coordinate.IsZero() {
			out = append(out, s)
			continue
		}
		if geocoder == nil {
			logger.Warn("supplier has no coordinates and geocoding is disabled, skipping",
				"supplier", s.Name,
				"region", s.Region,
				"sub_region", s.SubRegion,
			)
			continue
		}

		place := s.LocalArea
		if place == "" {
			place = s.SubRegion
		}
		area := joinNonEmpty(", ", s.SubRegion, county)

		result, err := geocoder.ForwardGeocode(ctx, place, area)
		if err != nil {
			logger.Warn("forward geocoding failed, skipping supplier",
				"supplier", s.Name,
				"place", place,
				"area", area,
				"error", err,
			)
			continue
		}
		c := Coordinate{Lat: result.Lat, Lon: result.Lon}
		if c.IsZero() || !c.Valid() {
			logger.Warn("no geocoding match for supplier, skipping",
				"supplier", s.Name,
				"place", place,
				"area", area,
			)
			continue
		}
		s.Coordinate = c
		out = append(out, s)
	}
	return out
}

// DescribeOrigin returns a human-readable place name for the farmer's
// position, or "" when it cannot be resolved. Failures are logged and
// otherwise ignored.
func DescribeOrigin(ctx context.Context, origin Coordinate, geocoder Geocoder, logger *slog.Logger) string {
	if geocoder == nil {
		return ""
	}
	result, err := geocoder.ReverseGeocode(ctx, origin.Lat, origin.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", origin.Lat,
			"lon", origin.Lon,
			"error", err,
		)
		return ""
	}
	if result.FormattedAddress != "" {
		return result.FormattedAddress
	}
	return result.PlaceName
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
