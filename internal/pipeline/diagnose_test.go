package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/imaging"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
	"github.com/couchcryptid/crop-diagnosis/internal/pipeline"
	"github.com/couchcryptid/crop-diagnosis/internal/reference"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	blightLeaf  = color.NRGBA{R: 180, G: 120, B: 100, A: 255}
	healthyLeaf = color.NRGBA{R: 80, G: 160, B: 70, A: 255}
	greyLeaf    = color.NRGBA{R: 120, G: 120, B: 120, A: 255}
)

func photo(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// wardDirectory has one empty ward (Kinangop/Gathara) next to two stocked ones.
func wardDirectory(t *testing.T) *domain.Directory {
	t.Helper()
	b := domain.NewDirectoryBuilder("Nyandarua")
	for _, s := range []domain.Supplier{
		{Name: "Nyakio Agrovet", Phone: "07XX888999", LocalArea: "Nyakio", Region: "Kinangop", SubRegion: "Nyakio", Coordinate: domain.Coordinate{Lat: -0.682, Lon: 36.650}},
		{Name: "Engineer Agrovet", Phone: "07XX111222", LocalArea: "Engineer Town", Region: "Kinangop", SubRegion: "Engineer", Coordinate: domain.Coordinate{Lat: -0.607, Lon: 36.595}},
		{Name: "Karau Agrovet", Phone: "07XX555666", LocalArea: "Karau", Region: "Ol Kalou", SubRegion: "Karau", Coordinate: domain.Coordinate{Lat: -0.224, Lon: 36.408}},
	} {
		require.NoError(t, b.AddSupplier(s))
	}
	b.AddSubRegion("Kinangop", "Gathara")
	return b.Build()
}

type stubGeocoder struct {
	place string
	calls int
}

func (g *stubGeocoder) ForwardGeocode(_ context.Context, _, _ string) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{}, nil
}

func (g *stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	g.calls++
	return domain.GeocodingResult{FormattedAddress: g.place}, nil
}

func newDiagnoser(t *testing.T, geocoder domain.Geocoder, metrics *observability.Metrics) *pipeline.Diagnoser {
	t.Helper()
	catalog, err := reference.LoadCatalog("")
	require.NoError(t, err)
	return pipeline.NewDiagnoser(
		imaging.NewDecoder(imaging.Limits{}, discardLogger()),
		domain.NewClassifier(),
		catalog,
		domain.NewLocator(wardDirectory(t)),
		geocoder,
		pipeline.Options{NearestK: 3, RegionFallback: true},
		discardLogger(),
		metrics,
	)
}

func TestDiagnose_BlightOnPotato(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	d := newDiagnoser(t, nil, metrics)

	out, err := d.Diagnose(context.Background(), domain.CropPotato, photo(t, blightLeaf), nil)

	require.NoError(t, err)
	assert.Equal(t, domain.LabelNecrosisBlight, out.Classification.Label)
	assert.InDelta(t, 0.89, out.Classification.Confidence, 1e-9)
	assert.Equal(t, "Likely: Leaf Blight / Necrosis", out.LabelTitle)
	require.NotEmpty(t, out.Advisories)
	assert.Equal(t, "Disease", out.Advisories[0].Topic)
	assert.Empty(t, out.AdvisoryFallback)
	assert.Nil(t, out.Suppliers)
	assert.Empty(t, out.SupplierNotice)
	assert.True(t, strings.HasPrefix(out.ID, "potato-"))
	assert.Contains(t, out.Report, "Predicted: Likely: Leaf Blight / Necrosis (confidence=0.89)")
	assert.Contains(t, out.Report, "- Disease: Late Blight")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Diagnoses.WithLabelValues("necrosis_blight")), 0)
}

func TestDiagnose_TomatoCarriesTreatments(t *testing.T) {
	d := newDiagnoser(t, nil, observability.NewMetricsForTesting())

	out, err := d.Diagnose(context.Background(), domain.CropTomato, photo(t, blightLeaf), nil)

	require.NoError(t, err)
	require.Len(t, out.Treatments, 1)
	assert.Equal(t, "Late Blight", out.Treatments[0].Disease)
	assert.Contains(t, out.Report, "Treatment options:")
}

func TestDiagnose_MissingAdviceFallsBack(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	d := newDiagnoser(t, nil, metrics)

	tests := []struct {
		name  string
		crop  domain.Crop
		color color.NRGBA
		label domain.Label
	}{
		{"cabbage has no unsure advice", domain.CropCabbage, greyLeaf, domain.LabelUnsureOrPest},
		{"unknown crop", domain.Crop("beans"), healthyLeaf, domain.LabelHealthyOrDeficiency},
		{"lookup is case sensitive", domain.Crop("Potato"), blightLeaf, domain.LabelNecrosisBlight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := d.Diagnose(context.Background(), tt.crop, photo(t, tt.color), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.label, out.Classification.Label)
			assert.Empty(t, out.Advisories)
			assert.NotNil(t, out.Advisories)
			assert.Equal(t, domain.NoAdvisoryMessage, out.AdvisoryFallback)
			assert.Contains(t, out.Report, "No recommendations found")
		})
	}
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.AdvisoryMisses), 0)
}

func TestDiagnose_InvalidPhoto(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	d := newDiagnoser(t, nil, metrics)

	_, err := d.Diagnose(context.Background(), domain.CropPotato, []byte("not a photo"), nil)

	require.ErrorIs(t, err, domain.ErrInvalidImage)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.InvalidImages), 0)
}

func TestDiagnose_SuppliersNearOrigin(t *testing.T) {
	geo := &stubGeocoder{place: "Nyakio, Nyandarua, Kenya"}
	d := newDiagnoser(t, geo, observability.NewMetricsForTesting())
	origin := domain.Coordinate{Lat: -0.682, Lon: 36.650}

	out, err := d.Diagnose(context.Background(), domain.CropPotato, photo(t, blightLeaf), &domain.LocationInput{
		Confirmed: true,
		Region:    "Kinangop",
		SubRegion: "Nyakio",
		Origin:    &origin,
	})

	require.NoError(t, err)
	want := &domain.SupplierMatch{
		Scope:  domain.ScopeSubRegion,
		Ranked: true,
		Suppliers: []domain.RankedSupplier{{
			Supplier: domain.Supplier{
				Name: "Nyakio Agrovet", Phone: "07XX888999", LocalArea: "Nyakio",
				Region: "Kinangop", SubRegion: "Nyakio", Coordinate: origin,
			},
			DistanceKm: 0,
		}},
	}
	if diff := cmp.Diff(want, out.Suppliers, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("supplier match mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Nyakio, Nyandarua, Kenya", out.OriginPlace)
	assert.Equal(t, 1, geo.calls)
}

func TestDiagnose_IneligibleSkipsSupplierSearch(t *testing.T) {
	geo := &stubGeocoder{place: "somewhere"}
	metrics := observability.NewMetricsForTesting()
	d := newDiagnoser(t, geo, metrics)
	origin := domain.Coordinate{Lat: -0.682, Lon: 36.650}

	out, err := d.Diagnose(context.Background(), domain.CropPotato, photo(t, blightLeaf), &domain.LocationInput{
		Confirmed: false,
		Region:    "Kinangop",
		SubRegion: "Nyakio",
		Origin:    &origin,
	})

	require.NoError(t, err)
	assert.Nil(t, out.Suppliers)
	assert.Contains(t, out.SupplierNotice, "Nyandarua County")
	assert.Empty(t, out.OriginPlace)
	assert.Zero(t, geo.calls)
	assert.NotEmpty(t, out.Advisories, "diagnosis still completes")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.IneligibleLocations), 0)
}

func TestFindSuppliers_EmptyWard(t *testing.T) {
	origin := domain.Coordinate{Lat: -0.642, Lon: 36.605}
	no := false

	tests := []struct {
		name      string
		widen     *bool
		wantScope domain.Scope
		wantNames []string
	}{
		{"service default widens", nil, domain.ScopeRegion, []string{"Engineer Agrovet", "Nyakio Agrovet"}},
		{"request disables widening", &no, domain.ScopeNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetricsForTesting()
			d := newDiagnoser(t, nil, metrics)

			match, err := d.FindSuppliers(context.Background(), domain.LocationInput{
				Confirmed: true,
				Region:    "Kinangop",
				SubRegion: "Gathara",
				Origin:    &origin,
				Widen:     tt.widen,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantScope, match.Scope)
			var names []string
			for _, s := range match.Suppliers {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.SupplierQueries.WithLabelValues(string(tt.wantScope))), 0)
		})
	}
}

func TestFindSuppliers_KOverride(t *testing.T) {
	d := newDiagnoser(t, nil, observability.NewMetricsForTesting())
	origin := domain.Coordinate{Lat: -0.642, Lon: 36.605}

	match, err := d.FindSuppliers(context.Background(), domain.LocationInput{
		Confirmed: true,
		Region:    "Kinangop",
		SubRegion: "Gathara",
		Origin:    &origin,
		K:         1,
	})

	require.NoError(t, err)
	require.Len(t, match.Suppliers, 1)
	assert.Equal(t, "Engineer Agrovet", match.Suppliers[0].Name)
}

func TestFindSuppliers_InvalidOrigin(t *testing.T) {
	d := newDiagnoser(t, nil, observability.NewMetricsForTesting())

	_, err := d.FindSuppliers(context.Background(), domain.LocationInput{
		Confirmed: true,
		Region:    "Kinangop",
		SubRegion: "Nyakio",
		Origin:    &domain.Coordinate{Lat: 120, Lon: 36.6},
	})

	require.ErrorIs(t, err, domain.ErrInvalidOrigin)
}

func TestRequestTransformer_Transform(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	image := photo(t, healthyLeaf)
	payload, err := json.Marshal(domain.DiagnosisRequest{
		Crop:  domain.CropMaize,
		Image: image,
		Location: &domain.LocationInput{
			Confirmed: true,
			Region:    "Ol Kalou",
			SubRegion: "Karau",
		},
	})
	require.NoError(t, err)

	tfm := pipeline.NewTransformer(newDiagnoser(t, nil, observability.NewMetricsForTesting()))
	out, err := tfm.Transform(context.Background(), domain.RawEvent{Key: []byte("farmer-42"), Value: payload})
	require.NoError(t, err)

	wantID := domain.DiagnosisID(domain.CropMaize, image)
	assert.Equal(t, []byte(wantID), out.Key)
	assert.Equal(t, "healthy_or_deficiency", out.Headers["label"])
	assert.Equal(t, "2025-03-03T09:30:00Z", out.Headers["processed_at"])

	var got domain.DiagnosisOutcome
	require.NoError(t, json.Unmarshal(out.Value, &got))

	type summary struct {
		ID, RequestID string
		Label         domain.Label
		Confidence    float64
		Scope         domain.Scope
		Ranked        bool
		Supplier      string
		DiagnosedAt   time.Time
	}
	require.NotNil(t, got.Suppliers)
	require.Len(t, got.Suppliers.Suppliers, 1)
	want := summary{
		ID: wantID, RequestID: "farmer-42",
		Label: domain.LabelHealthyOrDeficiency, Confidence: 0.8,
		Scope: domain.ScopeSubRegion, Ranked: false, Supplier: "Karau Agrovet",
		DiagnosedAt: fakeClock.Now(),
	}
	actual := summary{
		ID: got.ID, RequestID: got.RequestID,
		Label: got.Classification.Label, Confidence: got.Classification.Confidence,
		Scope: got.Suppliers.Scope, Ranked: got.Suppliers.Ranked, Supplier: got.Suppliers.Suppliers[0].Name,
		DiagnosedAt: got.DiagnosedAt,
	}
	if diff := cmp.Diff(want, actual); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestTransformer_RejectsBadRequests(t *testing.T) {
	tfm := pipeline.NewTransformer(newDiagnoser(t, nil, observability.NewMetricsForTesting()))

	_, err := tfm.Transform(context.Background(), domain.RawEvent{Value: []byte("not json")})
	require.Error(t, err)

	_, err = tfm.Transform(context.Background(), domain.RawEvent{Value: []byte(`{"crop":"potato"}`)})
	require.ErrorIs(t, err, domain.ErrInvalidImage)

	_, err = tfm.Transform(context.Background(), domain.RawEvent{Value: []byte(`{"crop":"potato","image":"aGVsbG8="}`)})
	require.ErrorIs(t, err, domain.ErrInvalidImage)
}

func TestDiagnose_OutOfRangeOriginKeepsDiagnosis(t *testing.T) {
	geocoder := &stubGeocoder{place: "Nyakio"}
	d := newDiagnoser(t, geocoder, observability.NewMetricsForTesting())

	out, err := d.Diagnose(context.Background(), domain.CropPotato, photo(t, blightLeaf), &domain.LocationInput{
		Confirmed: true,
		Region:    "Kinangop",
		SubRegion: "Nyakio",
		Origin:    &domain.Coordinate{Lat: 120, Lon: 36.6},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.LabelNecrosisBlight, out.Classification.Label)
	assert.Equal(t, pipeline.InvalidOriginNotice, out.SupplierNotice)
	require.NotNil(t, out.Suppliers)
	assert.False(t, out.Suppliers.Ranked)
	require.Len(t, out.Suppliers.Suppliers, 1)
	assert.Equal(t, "Nyakio Agrovet", out.Suppliers.Suppliers[0].Name)
	assert.Empty(t, out.OriginPlace)
	assert.Zero(t, geocoder.calls)
}

func TestRequestTransformer_OutOfRangeOriginStillPublishes(t *testing.T) {
	payload, err := json.Marshal(domain.DiagnosisRequest{
		RequestID: "req-origin",
		Crop:      domain.CropPotato,
		Image:     photo(t, blightLeaf),
		Location: &domain.LocationInput{
			Confirmed: true,
			Region:    "Kinangop",
			SubRegion: "Nyakio",
			Origin:    &domain.Coordinate{Lat: -0.68, Lon: 250},
		},
	})
	require.NoError(t, err)

	tr := pipeline.NewTransformer(newDiagnoser(t, nil, observability.NewMetricsForTesting()))
	event, err := tr.Transform(context.Background(), domain.RawEvent{Key: []byte("req-origin"), Value: payload})
	require.NoError(t, err)

	var out domain.DiagnosisOutcome
	require.NoError(t, json.Unmarshal(event.Value, &out))
	assert.Equal(t, domain.LabelNecrosisBlight, out.Classification.Label)
	assert.Equal(t, pipeline.InvalidOriginNotice, out.SupplierNotice)
	require.NotNil(t, out.Suppliers)
	assert.Len(t, out.Suppliers.Suppliers, 1)
}

// slowDecoder delays every decode so its time would show up in a histogram
// that wrongly included it.
type slowDecoder struct {
	pipeline.ImageDecoder
	delay time.Duration
}

func (d slowDecoder) Decode(data []byte) (image.Image, imaging.Info, error) {
	time.Sleep(d.delay)
	return d.ImageDecoder.Decode(data)
}

func TestDiagnose_ClassifyDurationExcludesDecode(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	catalog, err := reference.LoadCatalog("")
	require.NoError(t, err)
	d := pipeline.NewDiagnoser(
		slowDecoder{ImageDecoder: imaging.NewDecoder(imaging.Limits{}, discardLogger()), delay: 200 * time.Millisecond},
		domain.NewClassifier(),
		catalog,
		domain.NewLocator(wardDirectory(t)),
		nil,
		pipeline.Options{NearestK: 3},
		discardLogger(),
		metrics,
	)

	_, err = d.Diagnose(context.Background(), domain.CropPotato, photo(t, blightLeaf), nil)
	require.NoError(t, err)

	var m dto.Metric
	require.NoError(t, metrics.ClassifyDuration.Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.Less(t, m.GetHistogram().GetSampleSum(), 0.2)
}
