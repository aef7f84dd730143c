package pipeline

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/atlas-cli/internal/frame"
	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

func fusedFixture() *frame.Frame {
	return frame.FromRows(
		[]string{"id", "neighborhood", "city_name", "state_id", "county_fips", "lat", "lng", "neighborhood_ZHVI", "city_ZORI", "city_ZHVI"},
		[][]string{
			{"1", "Ballard", "Seattle", "WA", "53033", "47.67", "-122.38", "812345.5", "2150", "860000"},
			{"2", "Fremont", "Seattle", "WA", "53033", "47.65", "-122.35", "", "2150", "860000"},
		},
	)
}

func TestBuildRecords(t *testing.T) {
	records, points, err := buildRecords(fusedFixture())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, points.Points, 2)
	assert.Equal(t, geospatial.SRIDWGS84, points.SRID)

	rec := records[0]
	assert.Equal(t, "1", rec.ID)
	assert.Equal(t, "Ballard", rec.Name)
	assert.Equal(t, "Seattle", rec.CityName)
	assert.Equal(t, "WA", rec.StateID)
	assert.Equal(t, "53033", rec.CountyFIPS)
	assert.Equal(t, 47.67, rec.Lat)
	assert.Equal(t, -122.38, rec.Lng)

	zhvi, ok := rec.Metric(model.MetricNeighborhoodZHVI)
	require.True(t, ok)
	assert.Equal(t, 812345.5, zhvi)
	zori, ok := rec.Metric(model.MetricCityZORI)
	require.True(t, ok)
	assert.Equal(t, 2150.0, zori)

	_, ok = records[1].Metric(model.MetricNeighborhoodZHVI)
	assert.False(t, ok, "empty cell must stay missing")

	assert.Equal(t, "1", points.Points[0].ID)
	assert.Equal(t, orb.Point{-122.38, 47.67}, points.Points[0].Point)
}

func TestBuildRecords_BadCoordinateFatal(t *testing.T) {
	f := frame.FromRows(
		[]string{"id", "neighborhood", "city_name", "state_id", "county_fips", "lat", "lng"},
		[][]string{{"1", "Ballard", "Seattle", "WA", "53033", "not-a-lat", "-122.38"}},
	)

	_, _, err := buildRecords(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad lat")
}

func TestBuildRecords_MissingColumnFatal(t *testing.T) {
	f := fusedFixture().Drop("county_fips")

	_, _, err := buildRecords(f)
	require.ErrorIs(t, err, frame.ErrSchemaMismatch)
}

func TestBuildRecords_UnparseableMetricDegrades(t *testing.T) {
	f := frame.FromRows(
		[]string{"id", "neighborhood", "city_name", "state_id", "county_fips", "lat", "lng", "neighborhood_ZHVI"},
		[][]string{{"1", "Ballard", "Seattle", "WA", "53033", "47.67", "-122.38", "not-a-number"}},
	)

	records, _, err := buildRecords(f)
	require.NoError(t, err)
	_, ok := records[0].Metric(model.MetricNeighborhoodZHVI)
	assert.False(t, ok)
}

func TestDistinctCounties(t *testing.T) {
	records := []model.NeighborhoodRecord{
		{CountyFIPS: "53033"},
		{CountyFIPS: "53061"},
		{CountyFIPS: "53033"},
		{CountyFIPS: ""},
	}

	assert.Equal(t, []model.County{"53033", "53061"}, distinctCounties(records))
}
