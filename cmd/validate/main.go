// Command validate performs integrity checks on the reference data the
// diagnosis service ships with: the advisory catalog, the supplier registry
// and the colour heuristic. With -photos it also classifies every image in a
// directory and prints the outcome, which is useful when tuning rules against
// field samples.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -catalog internal/reference/catalog.yaml \
//	  -registry internal/reference/suppliers.yaml \
//	  -photos ./samples -crop potato
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/imaging"
	"github.com/couchcryptid/crop-diagnosis/internal/reference"
)

// options are the command-line inputs. Empty paths select the embedded data.
type options struct {
	catalogPath  string
	registryPath string
	photosDir    string
	crop         string
	maxSpreadKm  float64
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	var opts options
	flag.StringVar(&opts.catalogPath, "catalog", "", "advisory catalog YAML (default: embedded)")
	flag.StringVar(&opts.registryPath, "registry", "", "supplier registry YAML (default: embedded)")
	flag.StringVar(&opts.photosDir, "photos", "", "optional directory of sample photos to classify")
	flag.StringVar(&opts.crop, "crop", string(domain.CropPotato), "crop used for sample photos")
	flag.Float64Var(&opts.maxSpreadKm, "max-spread-km", 80, "maximum distance of a supplier from the registry centroid")
	flag.Parse()

	os.Exit(run(os.Stdout, opts))
}

func run(w io.Writer, opts options) int {
	fmt.Fprintln(w, "=== Crop Diagnosis Reference Data Validation ===")
	fmt.Fprintln(w)

	catalog, err := reference.LoadCatalog(opts.catalogPath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load catalog: %v\n", err)
		return 1
	}
	registry, err := reference.ReadRegistry(opts.registryPath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load registry: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory, err := reference.BuildDirectory(context.Background(), registry, nil, logger)
	if err != nil {
		fmt.Fprintf(w, "FATAL: build directory: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCatalog(catalog),
		validateRegistry(registry, directory, opts.maxSpreadKm),
		validateHeuristic(),
	}
	if opts.photosDir != "" {
		phases = append(phases, classifyPhotos(w, opts.photosDir, domain.Crop(opts.crop)))
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Catalog: %d crops, %d advisories. Registry: %s County, %d regions, %d suppliers\n",
		len(catalog.Crops()), catalog.Len(), directory.County(), len(directory.Regions()), directory.Len())

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// ── Catalog ──

func validateCatalog(c *domain.Catalog) *phase {
	p := &phase{name: "Advisory catalog"}

	for _, crop := range domain.Crops() {
		if len(c.Lookup(crop, domain.LabelNecrosisBlight)) == 0 {
			p.errorf("%s: no advice for %s", crop, domain.LabelNecrosisBlight)
		}
	}
	for _, crop := range c.Crops() {
		if crop != domain.Crop(strings.ToLower(string(crop))) {
			p.errorf("%s: crop keys are matched case-sensitively and must be lower case", crop)
		}
		for _, label := range domain.Labels() {
			seen := map[string]bool{}
			for i, a := range c.Lookup(crop, label) {
				if strings.TrimSpace(a.Topic) == "" || strings.TrimSpace(a.Message) == "" {
					p.errorf("%s/%s[%d]: empty topic or message", crop, label, i)
				}
				if seen[a.Message] {
					p.errorf("%s/%s: duplicate message %q", crop, label, a.Message)
				}
				seen[a.Message] = true
			}
			for _, t := range c.Treatments(crop, label) {
				if t.Chemical == "" && t.Alternatives == "" {
					p.errorf("%s/%s: treatment %q names neither a chemical nor an alternative", crop, label, t.Disease)
				}
			}
		}
	}
	return p
}

// ── Registry ──

func validateRegistry(f reference.RegistryFile, d *domain.Directory, maxSpreadKm float64) *phase {
	p := &phase{name: "Supplier registry"}

	for _, r := range f.Regions {
		if len(r.SubRegions) == 0 {
			p.errorf("%s: region has no sub-regions", r.Name)
		}
		seen := map[string]bool{}
		for _, sr := range r.SubRegions {
			if seen[sr.Name] {
				p.errorf("%s/%s: duplicate sub-region", r.Name, sr.Name)
			}
			seen[sr.Name] = true
			for _, s := range sr.Suppliers {
				if s.Phone == "" {
					p.errorf("%s/%s: %q has no phone number", r.Name, sr.Name, s.Name)
				}
				if s.Location == nil {
					p.errorf("%s/%s: %q has no coordinates and needs geocoding", r.Name, sr.Name, s.Name)
				}
			}
		}
	}

	all := d.All()
	if len(all) == 0 {
		p.errorf("registry has no located suppliers")
		return p
	}
	var centroid domain.Coordinate
	for _, s := range all {
		centroid.Lat += s.Coordinate.Lat
		centroid.Lon += s.Coordinate.Lon
	}
	centroid.Lat /= float64(len(all))
	centroid.Lon /= float64(len(all))

	for _, s := range all {
		if km := domain.DistanceKm(centroid, s.Coordinate); km > maxSpreadKm {
			p.errorf("%s/%s: %q is %.1f km from the registry centroid", s.Region, s.SubRegion, s.Name, km)
		}
	}
	return p
}

// ── Heuristic ──

// heuristicCases pin the decision list to known outcomes.
var heuristicCases = []struct {
	stats      domain.ChannelStats
	label      domain.Label
	confidence float64
}{
	{domain.ChannelStats{RedMean: 180, GreenMean: 120, BlueMean: 100}, domain.LabelNecrosisBlight, 0.89},
	{domain.ChannelStats{RedMean: 100, GreenMean: 90, BlueMean: 80, Variability: 80}, domain.LabelSevereSpotting, 0.75},
	{domain.ChannelStats{RedMean: 80, GreenMean: 160, BlueMean: 70}, domain.LabelHealthyOrDeficiency, 0.8},
	{domain.ChannelStats{RedMean: 120, GreenMean: 120, BlueMean: 120}, domain.LabelUnsureOrPest, 0.45},
}

func validateHeuristic() *phase {
	p := &phase{name: "Colour heuristic"}
	c := domain.NewClassifier()
	for _, tc := range heuristicCases {
		got := c.ClassifyStats(tc.stats)
		if got.Label != tc.label || got.Confidence != tc.confidence {
			p.errorf("%+v: got %s/%.2f, want %s/%.2f", tc.stats, got.Label, got.Confidence, tc.label, tc.confidence)
		}
	}
	return p
}

// ── Sample photos ──

func classifyPhotos(w io.Writer, dir string, crop domain.Crop) *phase {
	p := &phase{name: "Sample photos"}

	entries, err := os.ReadDir(dir)
	if err != nil {
		p.errorf("read %s: %v", dir, err)
		return p
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	decoder := imaging.NewDecoder(imaging.Limits{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	classifier := domain.NewClassifier()
	fmt.Fprintf(w, "Sample photos (%s):\n", crop)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		img, info, err := decoder.Decode(data)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		result, err := classifier.Classify(img, crop)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		fmt.Fprintf(w, "  %-32s %-5s %4dx%-4d %-22s %.2f\n", name, info.Format, info.Width, info.Height, result.Label, result.Confidence)
	}
	return p
}
