package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// MarshalEWKB encodes a geometry as little-endian EWKB tagged with the
// SRID, the format the county-unit cache stores.
func MarshalEWKB(g orb.Geometry, srid SRID) ([]byte, error) {
	gg, err := toGeom(g, srid)
	if err != nil {
		return nil, err
	}
	data, err := ewkb.Marshal(gg, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: encode EWKB")
	}
	return data, nil
}

// UnmarshalEWKB decodes EWKB bytes back to a geometry and its SRID.
func UnmarshalEWKB(data []byte) (orb.Geometry, SRID, error) {
	gg, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, 0, eris.Wrap(err, "geospatial: decode EWKB")
	}
	g, err := fromGeom(gg)
	if err != nil {
		return nil, 0, err
	}
	return g, SRID(gg.SRID()), nil
}

// MarshalWKT renders a geometry as WKT for the CSV geometry column.
func MarshalWKT(g orb.Geometry) (string, error) {
	gg, err := toGeom(g, SRIDWGS84)
	if err != nil {
		return "", err
	}
	s, err := wkt.Marshal(gg)
	if err != nil {
		return "", eris.Wrap(err, "geospatial: encode WKT")
	}
	return s, nil
}

func toGeom(g orb.Geometry, srid SRID) (geom.T, error) {
	switch s := g.(type) {
	case orb.Point:
		return geom.NewPointFlat(geom.XY, []float64{s[0], s[1]}).SetSRID(int(srid)), nil
	case orb.Polygon:
		return polygonToGeom(s, srid)
	case orb.MultiPolygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(int(srid))
		for _, p := range s {
			poly, err := polygonToGeom(p, srid)
			if err != nil {
				return nil, err
			}
			if err := mp.Push(poly); err != nil {
				return nil, eris.Wrap(err, "geospatial: push polygon")
			}
		}
		return mp, nil
	default:
		return nil, eris.Errorf("geospatial: unsupported geometry %T", g)
	}
}

func polygonToGeom(p orb.Polygon, srid SRID) (*geom.Polygon, error) {
	poly := geom.NewPolygon(geom.XY).SetSRID(int(srid))
	for _, ring := range p {
		flat := make([]float64, 0, len(ring)*2)
		for _, pt := range ring {
			flat = append(flat, pt[0], pt[1])
		}
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			return nil, eris.Wrap(err, "geospatial: push ring")
		}
	}
	return poly, nil
}

func fromGeom(t geom.T) (orb.Geometry, error) {
	switch s := t.(type) {
	case *geom.Point:
		c := s.Coords()
		return orb.Point{c[0], c[1]}, nil
	case *geom.Polygon:
		return geomPolygonToOrb(s), nil
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, s.NumPolygons())
		for i := range mp {
			mp[i] = geomPolygonToOrb(s.Polygon(i))
		}
		return mp, nil
	default:
		return nil, eris.Errorf("geospatial: unsupported EWKB geometry %T", t)
	}
}

func geomPolygonToOrb(p *geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, p.NumLinearRings())
	for i := range out {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c[0], c[1]}
		}
		out[i] = ring
	}
	return out
}
