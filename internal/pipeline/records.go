package pipeline

import (
	"strconv"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/atlas-cli/internal/frame"
	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

// recordColumns are required of the fused frame before typed conversion.
var recordColumns = []string{"id", "neighborhood", "city_name", "state_id", "county_fips", "lat", "lng"}

// joinedMetricColumns carry into Metrics when present and numeric.
var joinedMetricColumns = []string{model.MetricNeighborhoodZHVI, model.MetricCityZORI, model.MetricCityZHVI}

// buildRecords converts the fused frame into typed records plus the WGS84
// point layer used for spatial assignment. Unparseable coordinates are a
// schema error; unparseable metric cells degrade to missing.
func buildRecords(f *frame.Frame) ([]model.NeighborhoodRecord, geospatial.PointLayer, error) {
	for _, col := range recordColumns {
		if !f.HasColumn(col) {
			return nil, geospatial.PointLayer{}, eris.Wrapf(frame.ErrSchemaMismatch, "pipeline: fused frame missing column %q", col)
		}
	}
	metricCols := make([]string, 0, len(joinedMetricColumns))
	for _, col := range joinedMetricColumns {
		if f.HasColumn(col) {
			metricCols = append(metricCols, col)
		}
	}

	records := make([]model.NeighborhoodRecord, 0, f.Len())
	points := geospatial.PointLayer{
		SRID:   geospatial.SRIDWGS84,
		Points: make([]geospatial.NamedPoint, 0, f.Len()),
	}
	for i := 0; i < f.Len(); i++ {
		lat, err := strconv.ParseFloat(f.Get(i, "lat"), 64)
		if err != nil {
			return nil, geospatial.PointLayer{}, eris.Errorf("pipeline: row %d: bad lat %q", i, f.Get(i, "lat"))
		}
		lng, err := strconv.ParseFloat(f.Get(i, "lng"), 64)
		if err != nil {
			return nil, geospatial.PointLayer{}, eris.Errorf("pipeline: row %d: bad lng %q", i, f.Get(i, "lng"))
		}

		rec := model.NeighborhoodRecord{
			ID:         f.Get(i, "id"),
			Name:       f.Get(i, "neighborhood"),
			CityName:   f.Get(i, "city_name"),
			StateID:    f.Get(i, "state_id"),
			CountyFIPS: f.Get(i, "county_fips"),
			Lat:        lat,
			Lng:        lng,
		}
		for _, col := range metricCols {
			setIfNumeric(&rec, col, f.Get(i, col))
		}
		records = append(records, rec)
		points.Points = append(points.Points, geospatial.NamedPoint{ID: rec.ID, Point: orb.Point{lng, lat}})
	}
	return records, points, nil
}

// distinctCounties returns the county FIPS codes of the records in first
// appearance order. Records without a county are skipped; they cannot scope
// a boundary query.
func distinctCounties(records []model.NeighborhoodRecord) []model.County {
	seen := make(map[string]bool, len(records))
	var out []model.County
	for _, rec := range records {
		if rec.CountyFIPS == "" || seen[rec.CountyFIPS] {
			continue
		}
		seen[rec.CountyFIPS] = true
		out = append(out, model.County(rec.CountyFIPS))
	}
	return out
}
