package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/imaging"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
)

// Notices attached to an outcome when the supplier search could not run as asked.
const (
	InvalidOriginNotice = "Your device location could not be read, so suppliers are listed without distances."
	SearchFailedNotice  = "Supplier search is unavailable right now. Please try again later."
)

// ImageDecoder turns uploaded bytes into an image.
type ImageDecoder interface {
	Decode(data []byte) (image.Image, imaging.Info, error)
}

// Options tune the supplier search.
type Options struct {
	// NearestK is used when a query does not set its own k.
	NearestK int
	// RegionFallback is the default for widening empty sub-regions.
	RegionFallback bool
}

// Diagnoser runs the full flow for one photo: decode, classify, look up
// advice and treatments, optionally find suppliers, and assemble the report.
// It is safe for concurrent use.
type Diagnoser struct {
	decoder    ImageDecoder
	classifier *domain.Classifier
	catalog    *domain.Catalog
	locator    *domain.Locator
	geocoder   domain.Geocoder
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewDiagnoser wires the diagnosis flow. geocoder may be nil.
func NewDiagnoser(
	decoder ImageDecoder,
	classifier *domain.Classifier,
	catalog *domain.Catalog,
	locator *domain.Locator,
	geocoder domain.Geocoder,
	opts Options,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Diagnoser {
	if opts.NearestK < 1 {
		opts.NearestK = 1
	}
	return &Diagnoser{
		decoder:    decoder,
		classifier: classifier,
		catalog:    catalog,
		locator:    locator,
		geocoder:   geocoder,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// Catalog returns the advisory catalog in use.
func (d *Diagnoser) Catalog() *domain.Catalog { return d.catalog }

// Directory returns the supplier registry in use.
func (d *Diagnoser) Directory() *domain.Directory { return d.locator.Directory() }

// Diagnose classifies the photo and gathers everything the farmer needs.
// An undecodable photo returns an error wrapping domain.ErrInvalidImage; an
// ineligible location or an out-of-range origin does not fail the diagnosis
// and is reported through SupplierNotice instead.
func (d *Diagnoser) Diagnose(ctx context.Context, crop domain.Crop, photo []byte, loc *domain.LocationInput) (domain.DiagnosisOutcome, error) {
	img, info, err := d.decoder.Decode(photo)
	if err != nil {
		d.metrics.InvalidImages.Inc()
		return domain.DiagnosisOutcome{}, err
	}
	start := time.Now()
	result, err := d.classifier.Classify(img, crop)
	if err != nil {
		d.metrics.InvalidImages.Inc()
		return domain.DiagnosisOutcome{}, err
	}
	d.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	d.metrics.Diagnoses.WithLabelValues(string(result.Label)).Inc()

	advisories := d.catalog.Lookup(crop, result.Label)
	treatments := d.catalog.Treatments(crop, result.Label)

	out := domain.DiagnosisOutcome{
		ID:             domain.DiagnosisID(crop, photo),
		Crop:           crop,
		Classification: result,
		LabelTitle:     result.Label.Title(),
		Advisories:     advisories,
		Treatments:     treatments,
		DiagnosedAt:    domain.Now(),
	}
	if out.Advisories == nil {
		out.Advisories = []domain.AdvisoryEntry{}
	}
	if len(advisories) == 0 {
		d.metrics.AdvisoryMisses.Inc()
		out.AdvisoryFallback = domain.NoAdvisoryMessage
	}

	if loc != nil {
		d.attachSuppliers(ctx, &out, *loc)
	}

	out.Report = domain.Assemble(crop, result, advisories, treatments...)

	d.logger.Debug("photo diagnosed",
		"id", out.ID,
		"crop", crop,
		"format", info.Format,
		"label", result.Label,
		"confidence", result.Confidence,
		"advisories", len(advisories),
	)
	return out, nil
}

// attachSuppliers adds the supplier search to out. Supplier problems never
// fail the diagnosis: an out-of-range origin is dropped and the ward is
// listed unranked.
func (d *Diagnoser) attachSuppliers(ctx context.Context, out *domain.DiagnosisOutcome, loc domain.LocationInput) {
	match, err := d.FindSuppliers(ctx, loc)
	if errors.Is(err, domain.ErrInvalidOrigin) {
		d.logger.Warn("ignoring out-of-range origin", "id", out.ID, "origin", *loc.Origin)
		out.SupplierNotice = InvalidOriginNotice
		loc.Origin = nil
		match, err = d.FindSuppliers(ctx, loc)
	}
	switch {
	case errors.Is(err, domain.ErrIneligibleLocation):
		out.SupplierNotice = d.IneligibleNotice()
		return
	case err != nil:
		d.logger.Error("supplier search failed", "id", out.ID, "error", err)
		out.SupplierNotice = SearchFailedNotice
		return
	}
	out.Suppliers = &match
	if loc.Origin != nil {
		out.OriginPlace = d.DescribeOrigin(ctx, *loc.Origin)
	}
}

// FindSuppliers runs the gated supplier search. Query values left unset fall
// back to the service options.
func (d *Diagnoser) FindSuppliers(_ context.Context, loc domain.LocationInput) (domain.SupplierMatch, error) {
	if loc.Origin != nil && !loc.Origin.Valid() {
		return domain.SupplierMatch{}, fmt.Errorf("%w: %+v", domain.ErrInvalidOrigin, *loc.Origin)
	}
	k := loc.K
	if k < 1 {
		k = d.opts.NearestK
	}
	widen := d.opts.RegionFallback
	if loc.Widen != nil {
		widen = *loc.Widen
	}

	match, err := d.locator.Locate(domain.LocateQuery{
		Confirmed:           loc.Confirmed,
		Region:              loc.Region,
		SubRegion:           loc.SubRegion,
		Origin:              loc.Origin,
		K:                   k,
		AllowRegionFallback: widen,
	})
	if errors.Is(err, domain.ErrIneligibleLocation) {
		d.metrics.IneligibleLocations.Inc()
		return domain.SupplierMatch{}, err
	}
	if err != nil {
		return domain.SupplierMatch{}, err
	}

	d.metrics.SupplierQueries.WithLabelValues(string(match.Scope)).Inc()
	if match.Widened() {
		d.logger.Info("no supplier in sub-region, widened search to region",
			"region", loc.Region,
			"sub_region", loc.SubRegion,
			"found", len(match.Suppliers),
		)
	}
	return match, nil
}

// IneligibleNotice is shown when the farmer has not confirmed being inside
// the service area.
func (d *Diagnoser) IneligibleNotice() string {
	return fmt.Sprintf("Supplier search is only available for farmers in %s County. Confirm your location to see nearby agrovets.",
		d.locator.Directory().County())
}

// DescribeOrigin names the place at origin, or returns "" without a geocoder.
func (d *Diagnoser) DescribeOrigin(ctx context.Context, origin domain.Coordinate) string {
	return domain.DescribeOrigin(ctx, origin, d.geocoder, d.logger)
}
