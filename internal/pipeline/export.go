package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/atlas-cli/internal/frame"
	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

// csvColumns is the stable output column order.
var csvColumns = []string{
	"id",
	"neighborhood",
	"city_name",
	"state_id",
	"county_fips",
	model.MetricNeighborhoodZHVI,
	model.MetricCityZORI,
	model.MetricCityZHVI,
	model.MetricCityRTV,
	"geometry",
	model.MetricCityRank,
	model.MetricWalkScore,
	model.MetricTransitScore,
	model.MetricBikeScore,
	model.MetricPopulation,
	model.MetricAreaSqMi,
	model.MetricPopDensity,
}

// CSVFileName returns the per-granularity CSV output name.
func CSVFileName(g model.Geography) string { return string(g) + "_neighborhoods.csv" }

// GeoJSONFileName returns the per-granularity GeoJSON output name.
func GeoJSONFileName(g model.Geography) string { return string(g) + "_neighborhoods.geojson" }

// WriteCSV writes one row per record in csvColumns order, boundary geometry
// serialized as WKT. Missing metrics are empty cells.
func WriteCSV(path string, records []model.NeighborhoodRecord, boundaries geospatial.BoundaryLayer) error {
	byID := boundariesByID(boundaries)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for i := range records {
		row, err := buildCSVRow(&records[i], byID)
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "export: write row %s", records[i].ID)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

// buildCSVRow maps one record to csvColumns order.
func buildCSVRow(rec *model.NeighborhoodRecord, geoms map[string]orb.Geometry) ([]string, error) {
	wkt := ""
	if g, ok := geoms[rec.ID]; ok {
		var err error
		if wkt, err = geospatial.MarshalWKT(g); err != nil {
			return nil, eris.Wrapf(err, "export: geometry for %s", rec.ID)
		}
	}

	row := make([]string, 0, len(csvColumns))
	for _, col := range csvColumns {
		switch col {
		case "id":
			row = append(row, rec.ID)
		case "neighborhood":
			row = append(row, rec.Name)
		case "city_name":
			row = append(row, rec.CityName)
		case "state_id":
			row = append(row, rec.StateID)
		case "county_fips":
			row = append(row, rec.CountyFIPS)
		case "geometry":
			row = append(row, wkt)
		default:
			row = append(row, metricCell(rec, col))
		}
	}
	return row, nil
}

// metricCell formats a metric, or empty when missing.
func metricCell(rec *model.NeighborhoodRecord, key string) string {
	v, ok := rec.Metric(key)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteGeoJSON writes the records as a FeatureCollection: the boundary is
// the feature geometry and every CSV attribute a property. Missing metrics
// become null properties so the schema stays uniform across features.
func WriteGeoJSON(path string, records []model.NeighborhoodRecord, boundaries geospatial.BoundaryLayer) error {
	byID := boundariesByID(boundaries)

	fc := geojson.NewFeatureCollection()
	for i := range records {
		rec := &records[i]
		g, ok := byID[rec.ID]
		if !ok {
			continue
		}
		feat := geojson.NewFeature(g)
		feat.ID = rec.ID
		feat.Properties = geojson.Properties{
			"id":           rec.ID,
			"neighborhood": rec.Name,
			"city_name":    rec.CityName,
			"state_id":     rec.StateID,
			"county_fips":  rec.CountyFIPS,
		}
		for _, col := range csvColumns {
			switch col {
			case "id", "neighborhood", "city_name", "state_id", "county_fips", "geometry":
				continue
			}
			if v, ok := rec.Metric(col); ok {
				feat.Properties[col] = v
			} else {
				feat.Properties[col] = nil
			}
		}
		fc.Append(feat)
	}

	raw, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "export: marshal geojson")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create output dir")
	}
	return eris.Wrap(os.WriteFile(path, raw, 0o644), "export: write geojson")
}

// boundariesByID indexes a boundary layer by neighborhood.
func boundariesByID(l geospatial.BoundaryLayer) map[string]orb.Geometry {
	out := make(map[string]orb.Geometry, len(l.Boundaries))
	for _, b := range l.Boundaries {
		out[b.NeighborhoodID] = b.Geometry
	}
	return out
}

// WriteWalkabilityCSV writes scraped walkability rows in the layout
// LoadWalkability reads back.
func WriteWalkabilityCSV(path string, rows []model.WalkabilityRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create walkability csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(walkabilityColumns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range rows {
		record := []string{
			r.CityRank, r.Neighborhood, r.WalkScore, r.TransitScore,
			r.BikeScore, r.Population, r.CityName, r.StateID,
		}
		if err := w.Write(record); err != nil {
			return eris.Wrapf(err, "export: write row %s", r.Neighborhood)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush walkability csv")
}

// ReadCSVRecords loads a fused CSV back into typed records, for publishing
// a finished run without re-running the pipeline. Geometry is not restored;
// unparseable metric cells degrade to missing the way the fuse path does.
func ReadCSVRecords(path string) ([]model.NeighborhoodRecord, error) {
	f, err := frame.ReadCSV(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: read fused csv")
	}
	for _, col := range []string{"id", "neighborhood", "city_name", "state_id", "county_fips"} {
		if !f.HasColumn(col) {
			return nil, eris.Wrapf(frame.ErrSchemaMismatch, "export: fused csv missing column %q", col)
		}
	}

	records := make([]model.NeighborhoodRecord, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		rec := model.NeighborhoodRecord{
			ID:         f.Get(i, "id"),
			Name:       f.Get(i, "neighborhood"),
			CityName:   f.Get(i, "city_name"),
			StateID:    f.Get(i, "state_id"),
			CountyFIPS: f.Get(i, "county_fips"),
		}
		for _, col := range csvColumns {
			switch col {
			case "id", "neighborhood", "city_name", "state_id", "county_fips", "geometry":
				continue
			}
			setIfNumeric(&rec, col, f.Get(i, col))
		}
		records = append(records, rec)
	}
	return records, nil
}
