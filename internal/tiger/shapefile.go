package tiger

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

// ReadCountyUnits reads a state-wide TIGER/Line shapefile and returns the
// units belonging to one county as a geographic layer. Records are filtered
// by the product's county DBF attribute; TIGER coordinates are WGS84
// degrees, so the layer is tagged SRIDWGS84.
func ReadCountyUnits(shpPath string, product Product, county model.County) (geospatial.UnitLayer, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return geospatial.UnitLayer{}, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name -> index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(name)] = i
	}

	countyIdx, ok := fieldIdx[product.CountyField]
	if !ok {
		return geospatial.UnitLayer{}, eris.Errorf("tiger: shapefile %s missing %s attribute", shpPath, product.CountyField)
	}
	geoidIdx, ok := fieldIdx[product.GEOIDField]
	if !ok {
		return geospatial.UnitLayer{}, eris.Errorf("tiger: shapefile %s missing %s attribute", shpPath, product.GEOIDField)
	}

	layer := geospatial.UnitLayer{SRID: geospatial.SRIDWGS84}
	countyCode := county.CountyCode()
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		if attribute(reader, countyIdx) != countyCode {
			continue
		}

		geoid := attribute(reader, geoidIdx)
		if geoid == "" {
			skipped++
			continue
		}

		geometry := shapeToGeometry(shape)
		if geometry == nil {
			skipped++
			continue
		}

		layer.Units = append(layer.Units, geospatial.GeographicUnit{
			GEOID:    geoid,
			Geometry: geometry,
		})
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("product", product.Name),
			zap.String("county", string(county)),
			zap.Int("skipped", skipped),
		)
	}

	return layer, nil
}

// attribute returns the trimmed DBF value at idx for the current record.
func attribute(reader *shp.Reader, idx int) string {
	val := strings.TrimRight(reader.Attribute(idx), "\x00")
	return strings.TrimSpace(val)
}

// shapeToGeometry converts a shapefile polygon to an orb geometry. Shapefile
// rings wind clockwise for outer boundaries; a counterclockwise ring is a
// hole in the polygon that precedes it. Returns nil for non-polygon or
// degenerate shapes.
func shapeToGeometry(shape shp.Shape) orb.Geometry {
	poly, ok := shape.(*shp.Polygon)
	if !ok || poly == nil || poly.NumParts == 0 || len(poly.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < poly.NumParts; i++ {
		start := poly.Parts[i]
		end := int32(len(poly.Points))
		if i+1 < poly.NumParts {
			end = poly.Parts[i+1]
		}

		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{poly.Points[j].X, poly.Points[j].Y})
		}
		if len(ring) < 4 {
			// A closed ring needs at least a triangle.
			continue
		}

		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
		} else {
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
		}
	}

	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	}
	return mp
}
