package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// NamedPoint is an identified point feature.
type NamedPoint struct {
	ID    string
	Point orb.Point
}

// GeographicUnit is one fine-grained administrative polygon. AssignedID is
// empty until AssignNearest runs.
type GeographicUnit struct {
	GEOID      string
	Geometry   orb.Geometry // Polygon or MultiPolygon
	AssignedID string
}

// NeighborhoodBoundary is the dissolved geometry for one neighborhood.
type NeighborhoodBoundary struct {
	NeighborhoodID string
	Geometry       orb.Geometry
}

// PointLayer is an SRID-tagged collection of named points.
type PointLayer struct {
	SRID   SRID
	Points []NamedPoint
}

// Reproject returns a copy of the layer in the target reference system.
func (l PointLayer) Reproject(target SRID) PointLayer {
	out := PointLayer{SRID: target, Points: make([]NamedPoint, len(l.Points))}
	for i, p := range l.Points {
		out.Points[i] = NamedPoint{ID: p.ID, Point: reprojectPoint(p.Point, l.SRID, target)}
	}
	return out
}

// Planar converts the layer to the view accepted by the distance
// operations, reprojecting to Web Mercator on the way in.
func (l PointLayer) Planar() PlanarPoints {
	return PlanarPoints{points: l.Reproject(SRIDWebMercator).Points}
}

// UnitLayer is an SRID-tagged collection of geographic units.
type UnitLayer struct {
	SRID  SRID
	Units []GeographicUnit
}

// Reproject returns a copy of the layer in the target reference system.
func (l UnitLayer) Reproject(target SRID) UnitLayer {
	out := UnitLayer{SRID: target, Units: make([]GeographicUnit, len(l.Units))}
	for i, u := range l.Units {
		out.Units[i] = GeographicUnit{
			GEOID:      u.GEOID,
			Geometry:   reprojectGeometry(u.Geometry, l.SRID, target),
			AssignedID: u.AssignedID,
		}
	}
	return out
}

// Planar converts the layer to the view accepted by AssignNearest and
// Dissolve, reprojecting to Web Mercator on the way in.
func (l UnitLayer) Planar() PlanarUnits {
	return PlanarUnits{units: l.Reproject(SRIDWebMercator).Units}
}

// MergeUnitLayers concatenates per-county unit layers, preserving order.
// All layers must share one reference system.
func MergeUnitLayers(layers ...UnitLayer) (UnitLayer, error) {
	out := UnitLayer{SRID: SRIDWGS84}
	first := true
	for _, l := range layers {
		if len(l.Units) == 0 {
			continue
		}
		if first {
			out.SRID = l.SRID
			first = false
		} else if l.SRID != out.SRID {
			return UnitLayer{}, eris.Errorf("geospatial: cannot merge %s layer into %s layer", l.SRID, out.SRID)
		}
		out.Units = append(out.Units, l.Units...)
	}
	return out, nil
}

// BoundaryLayer is an SRID-tagged collection of neighborhood boundaries.
type BoundaryLayer struct {
	SRID       SRID
	Boundaries []NeighborhoodBoundary
}

// Reproject returns a copy of the layer in the target reference system.
func (l BoundaryLayer) Reproject(target SRID) BoundaryLayer {
	out := BoundaryLayer{SRID: target, Boundaries: make([]NeighborhoodBoundary, len(l.Boundaries))}
	for i, b := range l.Boundaries {
		out.Boundaries[i] = NeighborhoodBoundary{
			NeighborhoodID: b.NeighborhoodID,
			Geometry:       reprojectGeometry(b.Geometry, l.SRID, target),
		}
	}
	return out
}

// PlanarPoints is the planar view of a PointLayer. Coordinates are always
// Web Mercator meters.
type PlanarPoints struct {
	points []NamedPoint
}

// Len returns the number of points.
func (p PlanarPoints) Len() int { return len(p.points) }

// PlanarUnits is the planar view of a UnitLayer.
type PlanarUnits struct {
	units []GeographicUnit
}

// Len returns the number of units.
func (u PlanarUnits) Len() int { return len(u.units) }

// Assignments returns GEOID to assigned neighborhood ID for every unit.
func (u PlanarUnits) Assignments() map[string]string {
	out := make(map[string]string, len(u.units))
	for _, unit := range u.units {
		out[unit.GEOID] = unit.AssignedID
	}
	return out
}

// PlanarBoundaries is the dissolve result: one boundary per assignment
// group, in Web Mercator, with per-group areas captured while the geometry
// is still planar.
type PlanarBoundaries struct {
	boundaries []NeighborhoodBoundary
	areas      map[string]float64
}

// Len returns the number of boundaries.
func (b PlanarBoundaries) Len() int { return len(b.boundaries) }

// Areas returns planar square meters per neighborhood ID.
func (b PlanarBoundaries) Areas() map[string]float64 { return b.areas }

// Layer re-tags the boundaries as a Web Mercator BoundaryLayer so they can
// be reprojected for output.
func (b PlanarBoundaries) Layer() BoundaryLayer {
	return BoundaryLayer{SRID: SRIDWebMercator, Boundaries: b.boundaries}
}
