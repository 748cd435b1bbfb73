package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	b := NewDirectoryBuilder("Nyandarua")
	suppliers := []Supplier{
		{Name: "Nyakio Agrovet", Phone: "07XX888999", LocalArea: "Nyakio", Region: "Kinangop", SubRegion: "Nyakio", Coordinate: Coordinate{Lat: -0.682, Lon: 36.650}},
		{Name: "Nyakio Farm Inputs", Phone: "07XX888000", LocalArea: "Nyakio", Region: "Kinangop", SubRegion: "Nyakio", Coordinate: Coordinate{Lat: -0.700, Lon: 36.660}},
		{Name: "Engineer Agrovet", Phone: "07XX111222", LocalArea: "Engineer Town", Region: "Kinangop", SubRegion: "Engineer", Coordinate: Coordinate{Lat: -0.607, Lon: 36.595}},
		{Name: "Magumu Agrovet", Phone: "07XX333444", LocalArea: "Magumu", Region: "Kinangop", SubRegion: "Magumu", Coordinate: Coordinate{Lat: -0.760, Lon: 36.620}},
		{Name: "Karau Agrovet", Phone: "07XX555666", LocalArea: "Karau", Region: "Ol Kalou", SubRegion: "Karau", Coordinate: Coordinate{Lat: -0.224, Lon: 36.408}},
	}
	for _, s := range suppliers {
		require.NoError(t, b.AddSupplier(s))
	}
	b.AddSubRegion("Kinangop", "Gathara")
	b.AddSubRegion("Ol Kalou", "Rurii")
	return b.Build()
}

func TestDirectoryBuilder_RejectsInvalidSuppliers(t *testing.T) {
	b := NewDirectoryBuilder("Nyandarua")

	assert.Error(t, b.AddSupplier(Supplier{Region: "Kinangop", SubRegion: "Nyakio"}))
	assert.Error(t, b.AddSupplier(Supplier{Name: "X", SubRegion: "Nyakio"}))
	assert.Error(t, b.AddSupplier(Supplier{Name: "X", Region: "Kinangop", SubRegion: "Nyakio", Coordinate: Coordinate{Lat: 91}}))
	assert.Equal(t, 0, b.Build().Len())
}

func TestDirectory_Hierarchy(t *testing.T) {
	d := testDirectory(t)

	assert.Equal(t, "Nyandarua", d.County())
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, []RegionInfo{
		{Name: "Kinangop", SubRegions: []string{"Nyakio", "Engineer", "Magumu", "Gathara"}},
		{Name: "Ol Kalou", SubRegions: []string{"Karau", "Rurii"}},
	}, d.Regions())
	assert.True(t, d.HasSubRegion("Kinangop", "Gathara"))
	assert.False(t, d.HasSubRegion("Kinangop", "Karau"))
	assert.False(t, d.HasSubRegion("Ndaragwa", "Central"))
}

func TestDirectory_SuppliersIn(t *testing.T) {
	d := testDirectory(t)

	got := d.SuppliersIn("Kinangop", "Nyakio")
	require.Len(t, got, 2)
	assert.Equal(t, "Nyakio Agrovet", got[0].Name)
	assert.Equal(t, "Nyakio Farm Inputs", got[1].Name)

	assert.Empty(t, d.SuppliersIn("Kinangop", "Gathara"))
	assert.Empty(t, d.SuppliersIn("Kinangop", "Atlantis"))
	assert.Empty(t, d.SuppliersIn("Atlantis", "Nyakio"))
	assert.Empty(t, d.SuppliersIn("kinangop", "nyakio"))
}

func TestDirectory_SuppliersInRegionAndAll(t *testing.T) {
	d := testDirectory(t)

	names := func(ss []Supplier) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = s.Name
		}
		return out
	}

	assert.Equal(t, []string{"Nyakio Agrovet", "Nyakio Farm Inputs", "Engineer Agrovet", "Magumu Agrovet"}, names(d.SuppliersInRegion("Kinangop")))
	assert.Empty(t, d.SuppliersInRegion("Ndaragwa"))
	assert.Len(t, d.All(), 5)
}

func TestIsEligible(t *testing.T) {
	assert.True(t, IsEligible(true))
	assert.False(t, IsEligible(false))
}

func TestNearest_Properties(t *testing.T) {
	candidates := testDirectory(t).All()
	origin := Coordinate{Lat: -0.65, Lon: 36.62}

	for k := 1; k <= len(candidates)+2; k++ {
		got := Nearest(candidates, origin, k)

		require.Len(t, got, min(k, len(candidates)))
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].DistanceKm, got[i].DistanceKm)
		}
		seen := make(map[string]bool)
		for _, r := range got {
			assert.Contains(t, candidates, r.Supplier)
			assert.False(t, seen[r.Name], "duplicate %s", r.Name)
			seen[r.Name] = true
			assert.InDelta(t, DistanceKm(origin, r.Coordinate), r.DistanceKm, 1e-12)
		}
	}
}

func TestNearest_TiesKeepCandidateOrder(t *testing.T) {
	at := Coordinate{Lat: -0.5, Lon: 36.5}
	candidates := []Supplier{
		{Name: "first", Coordinate: at},
		{Name: "second", Coordinate: at},
		{Name: "third", Coordinate: at},
	}

	got := Nearest(candidates, Coordinate{Lat: -0.6, Lon: 36.6}, 3)

	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
	assert.Equal(t, "third", got[2].Name)
}

func TestNearest_EdgeCases(t *testing.T) {
	assert.Empty(t, Nearest(nil, Coordinate{}, 3))

	candidates := testDirectory(t).All()
	assert.Len(t, Nearest(candidates, Coordinate{}, 0), 1)
	assert.Len(t, Nearest(candidates, Coordinate{}, -4), 1)
}
