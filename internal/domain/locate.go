package domain

// Scope records how wide the supplier search had to go.
type Scope string

const (
	// ScopeSubRegion means results come from the requested sub-region.
	ScopeSubRegion Scope = "sub_region"
	// ScopeRegion means the sub-region was empty and the search was widened
	// to the whole region.
	ScopeRegion Scope = "region"
	// ScopeNone means no supplier was found at any allowed scope.
	ScopeNone Scope = "none"
)

// LocateQuery is a farmer's supplier search.
type LocateQuery struct {
	// Confirmed is the farmer's answer to "are you inside the service area?".
	Confirmed bool
	Region    string
	SubRegion string
	// Origin is the device-reported position. Without it suppliers are listed
	// in registry order and not ranked.
	Origin *Coordinate
	// K caps the number of ranked results.
	K int
	// AllowRegionFallback permits widening to the region when the sub-region
	// has no suppliers.
	AllowRegionFallback bool
}

// SupplierMatch is the result of a supplier search.
type SupplierMatch struct {
	Scope     Scope            `json:"scope"`
	Ranked    bool             `json:"ranked"`
	Suppliers []RankedSupplier `json:"suppliers"`
}

// Widened reports whether the region-level fallback was applied.
func (m SupplierMatch) Widened() bool { return m.Scope == ScopeRegion }

// Locator runs the gated supplier search over a Directory.
type Locator struct {
	dir      *Directory
	distance func(a, b Coordinate) float64
}

// LocatorOption customises a Locator.
type LocatorOption func(*Locator)

// WithDistanceFunc replaces the haversine distance, e.g. to count calls.
func WithDistanceFunc(fn func(a, b Coordinate) float64) LocatorOption {
	return func(l *Locator) { l.distance = fn }
}

// NewLocator returns a Locator over dir.
func NewLocator(dir *Directory, opts ...LocatorOption) *Locator {
	l := &Locator{dir: dir, distance: DistanceKm}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Directory returns the registry the locator searches.
func (l *Locator) Directory() *Directory { return l.dir }

// Locate applies the location gate, collects candidates from the requested
// sub-region (widening to the region only when allowed and the sub-region is
// empty) and ranks them by distance when an origin is known. When the gate
// declines it returns ErrIneligibleLocation and computes nothing.
func (l *Locator) Locate(q LocateQuery) (SupplierMatch, error) {
	if !IsEligible(q.Confirmed) {
		return SupplierMatch{}, ErrIneligibleLocation
	}

	scope := ScopeSubRegion
	candidates := l.dir.SuppliersIn(q.Region, q.SubRegion)
	if len(candidates) == 0 && q.AllowRegionFallback {
		scope = ScopeRegion
		candidates = l.dir.SuppliersInRegion(q.Region)
	}
	if len(candidates) == 0 {
		return SupplierMatch{Scope: ScopeNone, Suppliers: []RankedSupplier{}}, nil
	}

	if q.Origin == nil {
		listed := make([]RankedSupplier, len(candidates))
		for i, s := range candidates {
			listed[i] = RankedSupplier{Supplier: s}
		}
		return SupplierMatch{Scope: scope, Suppliers: listed}, nil
	}

	return SupplierMatch{
		Scope:     scope,
		Ranked:    true,
		Suppliers: nearestWith(l.distance, candidates, *q.Origin, q.K),
	}, nil
}
