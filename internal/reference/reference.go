// Package reference loads the advisory catalog and the supplier registry.
//
// Both datasets are YAML. Copies are embedded in the binary; a file path
// replaces the embedded copy when set.
package reference

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

//go:embed suppliers.yaml
var embeddedRegistry []byte

// CatalogFile is the on-disk shape of the advisory catalog.
type CatalogFile struct {
	Crops      []CropAdvice       `yaml:"crops"`
	Treatments []domain.Treatment `yaml:"treatments"`
}

// CropAdvice groups the advisories of one crop by label.
type CropAdvice struct {
	Crop   domain.Crop   `yaml:"crop"`
	Labels []LabelAdvice `yaml:"labels"`
}

// LabelAdvice is the ordered advice for one label.
type LabelAdvice struct {
	Label      domain.Label           `yaml:"label"`
	Advisories []domain.AdvisoryEntry `yaml:"advisories"`
}

// RegistryFile is the on-disk shape of the supplier registry.
type RegistryFile struct {
	County  string       `yaml:"county"`
	Regions []RegionFile `yaml:"regions"`
}

// RegionFile is one region with its sub-regions.
type RegionFile struct {
	Name       string          `yaml:"name"`
	SubRegions []SubRegionFile `yaml:"sub_regions"`
}

// SubRegionFile is one sub-region with its suppliers.
type SubRegionFile struct {
	Name      string         `yaml:"name"`
	Suppliers []SupplierFile `yaml:"suppliers"`
}

// SupplierFile is one registry entry. A nil Location asks for geocoding.
type SupplierFile struct {
	Name      string             `yaml:"name"`
	Phone     string             `yaml:"phone"`
	LocalArea string             `yaml:"local_area"`
	Location  *domain.Coordinate `yaml:"location"`
}

// LoadCatalog reads the catalog at path, or the embedded copy when path is empty.
func LoadCatalog(path string) (*domain.Catalog, error) {
	data, err := readOrEmbedded(path, embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML and builds the domain catalog.
func ParseCatalog(data []byte) (*domain.Catalog, error) {
	var f CatalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	b := domain.NewCatalogBuilder()
	for _, c := range f.Crops {
		if c.Crop == "" {
			return nil, fmt.Errorf("parse catalog: crop entry without name")
		}
		for _, l := range c.Labels {
			if !l.Label.Valid() {
				return nil, fmt.Errorf("parse catalog: crop %s: unknown label %q", c.Crop, l.Label)
			}
			b.Advise(c.Crop, l.Label, l.Advisories...)
		}
	}
	for _, t := range f.Treatments {
		if t.Disease == "" || t.Crop == "" {
			return nil, fmt.Errorf("parse catalog: treatment needs disease and crop")
		}
		for _, l := range t.Labels {
			if !l.Valid() {
				return nil, fmt.Errorf("parse catalog: treatment %q: unknown label %q", t.Disease, l)
			}
		}
		b.Treat(t)
	}
	return b.Build(), nil
}

// ReadRegistry reads the registry at path, or the embedded copy when path is
// empty, without resolving locations.
func ReadRegistry(path string) (RegistryFile, error) {
	data, err := readOrEmbedded(path, embeddedRegistry)
	if err != nil {
		return RegistryFile{}, fmt.Errorf("load registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes registry YAML.
func ParseRegistry(data []byte) (RegistryFile, error) {
	var f RegistryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RegistryFile{}, fmt.Errorf("parse registry: %w", err)
	}
	if f.County == "" {
		return RegistryFile{}, fmt.Errorf("parse registry: county is required")
	}
	return f, nil
}

// Suppliers flattens the registry into domain suppliers in file order.
// Entries without a location carry a zero coordinate.
func (f RegistryFile) Suppliers() []domain.Supplier {
	var out []domain.Supplier
	for _, r := range f.Regions {
		for _, sr := range r.SubRegions {
			for _, s := range sr.Suppliers {
				sup := domain.Supplier{
					Name:      s.Name,
					Phone:     s.Phone,
					LocalArea: s.LocalArea,
					Region:    r.Name,
					SubRegion: sr.Name,
				}
				if s.Location != nil {
					sup.Coordinate = *s.Location
				}
				out = append(out, sup)
			}
		}
	}
	return out
}

// LoadDirectory reads the registry, geocodes entries without a location and
// builds the directory. geocoder may be nil.
func LoadDirectory(ctx context.Context, path string, geocoder domain.Geocoder, logger *slog.Logger) (*domain.Directory, error) {
	f, err := ReadRegistry(path)
	if err != nil {
		return nil, err
	}
	return BuildDirectory(ctx, f, geocoder, logger)
}

// BuildDirectory turns a parsed registry into a directory. Every declared
// sub-region exists in the result, even when all its suppliers were dropped.
func BuildDirectory(ctx context.Context, f RegistryFile, geocoder domain.Geocoder, logger *slog.Logger) (*domain.Directory, error) {
	b := domain.NewDirectoryBuilder(f.County)
	for _, r := range f.Regions {
		for _, sr := range r.SubRegions {
			b.AddSubRegion(r.Name, sr.Name)
		}
	}

	suppliers := domain.ResolveSupplierCoordinates(ctx, f.Suppliers(), f.County, geocoder, logger)
	for _, s := range suppliers {
		if err := b.AddSupplier(s); err != nil {
			return nil, fmt.Errorf("build directory: %w", err)
		}
	}

	d := b.Build()
	logger.Info("supplier directory loaded",
		"county", d.County(),
		"regions", len(d.Regions()),
		"suppliers", d.Len(),
	)
	return d, nil
}

func readOrEmbedded(path string, embedded []byte) ([]byte, error) {
	if path == "" {
		return embedded, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
