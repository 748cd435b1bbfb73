package domain

import (
	"fmt"
	"sort"
)

// Supplier is a verified agrovet outlet.
type Supplier struct {
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	LocalArea  string     `json:"local_area,omitempty"`
	Coordinate Coordinate `json:"coordinate"`
	Region     string     `json:"region"`
	SubRegion  string     `json:"sub_region"`
}

// RankedSupplier pairs a supplier with its distance from a query origin.
type RankedSupplier struct {
	Supplier
	DistanceKm float64 `json:"distance_km"`
}

// RegionInfo describes one region and its sub-regions in registry order.
type RegionInfo struct {
	Name       string   `json:"name"`
	SubRegions []string `json:"sub_regions"`
}

type subRegionNode struct {
	name      string
	suppliers []Supplier
}

type regionNode struct {
	name       string
	subRegions []*subRegionNode
	index      map[string]*subRegionNode
}

// Directory is the read-only supplier registry for one service area
// (county), organised as region -> sub-region -> suppliers. Insertion order is
// preserved at every level.
type Directory struct {
	county  string
	regions []*regionNode
	index   map[string]*regionNode
	size    int
}

// DirectoryBuilder assembles a Directory. It is not safe for concurrent use.
type DirectoryBuilder struct {
	d *Directory
}

// NewDirectoryBuilder starts a registry for the named service area.
func NewDirectoryBuilder(county string) *DirectoryBuilder {
	return &DirectoryBuilder{d: &Directory{
		county: county,
		index:  make(map[string]*regionNode),
	}}
}

// AddSubRegion declares (region, subRegion) so it exists even without suppliers.
func (b *DirectoryBuilder) AddSubRegion(region, subRegion string) *DirectoryBuilder {
	b.node(region, subRegion)
	return b
}

// AddSupplier registers s under its own (Region, SubRegion), creating the
// hierarchy nodes when needed.
func (b *DirectoryBuilder) AddSupplier(s Supplier) error {
	if s.Name == "" {
		return fmt.Errorf("supplier without name in %s/%s", s.Region, s.SubRegion)
	}
	if s.Region == "" || s.SubRegion == "" {
		return fmt.Errorf("supplier %q: region and sub-region are required", s.Name)
	}
	if !s.Coordinate.Valid() {
		return fmt.Errorf("supplier %q: coordinate %+v out of range", s.Name, s.Coordinate)
	}
	n := b.node(s.Region, s.SubRegion)
	n.suppliers = append(n.suppliers, s)
	b.d.size++
	return nil
}

func (b *DirectoryBuilder) node(region, subRegion string) *subRegionNode {
	r, ok := b.d.index[region]
	if !ok {
		r = &regionNode{name: region, index: make(map[string]*subRegionNode)}
		b.d.index[region] = r
		b.d.regions = append(b.d.regions, r)
	}
	sr, ok := r.index[subRegion]
	if !ok {
		sr = &subRegionNode{name: subRegion}
		r.index[subRegion] = sr
		r.subRegions = append(r.subRegions, sr)
	}
	return sr
}

// Build returns the finished directory.
func (b *DirectoryBuilder) Build() *Directory {
	d := b.d
	b.d = nil
	return d
}

// County names the service area covered by the registry.
func (d *Directory) County() string { return d.county }

// Len returns the number of registered suppliers.
func (d *Directory) Len() int { return d.size }

// Regions returns the hierarchy in registry order.
func (d *Directory) Regions() []RegionInfo {
	out := make([]RegionInfo, 0, len(d.regions))
	for _, r := range d.regions {
		info := RegionInfo{Name: r.name, SubRegions: make([]string, 0, len(r.subRegions))}
		for _, sr := range r.subRegions {
			info.SubRegions = append(info.SubRegions, sr.name)
		}
		out = append(out, info)
	}
	return out
}

// HasSubRegion reports whether (region, subRegion) exists in the hierarchy.
func (d *Directory) HasSubRegion(region, subRegion string) bool {
	r, ok := d.index[region]
	if !ok {
		return false
	}
	_, ok = r.index[subRegion]
	return ok
}

// SuppliersIn returns the suppliers registered under exactly (region,
// subRegion), in insertion order. Unknown or empty pairs yield an empty result.
func (d *Directory) SuppliersIn(region, subRegion string) []Supplier {
	r, ok := d.index[region]
	if !ok {
		return nil
	}
	sr, ok := r.index[subRegion]
	if !ok || len(sr.suppliers) == 0 {
		return nil
	}
	return append([]Supplier(nil), sr.suppliers...)
}

// SuppliersInRegion returns every supplier of every sub-region of region, in
// hierarchy order.
func (d *Directory) SuppliersInRegion(region string) []Supplier {
	r, ok := d.index[region]
	if !ok {
		return nil
	}
	var out []Supplier
	for _, sr := range r.subRegions {
		out = append(out, sr.suppliers...)
	}
	return out
}

// All returns every supplier in hierarchy order.
func (d *Directory) All() []Supplier {
	out := make([]Supplier, 0, d.size)
	for _, r := range d.regions {
		for _, sr := range r.subRegions {
			out = append(out, sr.suppliers...)
		}
	}
	return out
}

// IsEligible is the location gate: the supplier search only runs when the
// farmer has confirmed being inside the service area.
func IsEligible(confirmed bool) bool {
	return confirmed
}

// Nearest ranks candidates by great-circle distance from origin and returns
// the closest min(k, len(candidates)). Ties keep candidate order. A k below 1
// is treated as 1.
func Nearest(candidates []Supplier, origin Coordinate, k int) []RankedSupplier {
	return nearestWith(DistanceKm, candidates, origin, k)
}

func nearestWith(distance func(a, b Coordinate) float64, candidates []Supplier, origin Coordinate, k int) []RankedSupplier {
	if len(candidates) == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}

	ranked := make([]RankedSupplier, len(candidates))
	for i, s := range candidates {
		ranked[i] = RankedSupplier{Supplier: s, DistanceKm: distance(origin, s.Coordinate)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	return ranked[:min(k, len(ranked))]
}
