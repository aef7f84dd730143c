// Package geospatial implements the geometric core of the fusion pipeline:
// SRID-tagged point, unit and boundary layers, nearest-reference assignment,
// and per-group polygon dissolve.
//
// Distance and area arithmetic is only defined on the Planar* view types,
// which can be obtained solely through conversions that reproject to Web
// Mercator. Code holding geographic (degree) layers cannot call the planar
// operations.
package geospatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID identifies a spatial reference system.
type SRID int

const (
	// SRIDWGS84 is geographic longitude/latitude in degrees.
	SRIDWGS84 SRID = 4326

	// SRIDWebMercator is the planar Web Mercator projection in meters.
	SRIDWebMercator SRID = 3857
)

func (s SRID) String() string {
	return fmt.Sprintf("EPSG:%d", int(s))
}

// IsPlanar reports whether Euclidean distance and area formulas are valid
// in s.
func (s SRID) IsPlanar() bool { return s == SRIDWebMercator }

// reprojectPoint transforms a single coordinate between the two supported
// reference systems.
func reprojectPoint(p orb.Point, from, to SRID) orb.Point {
	if from == to {
		return p
	}
	if from == SRIDWGS84 {
		return project.WGS84.ToMercator(p)
	}
	return project.Mercator.ToWGS84(p)
}

// reprojectGeometry returns a transformed copy; the input is never mutated.
func reprojectGeometry(g orb.Geometry, from, to SRID) orb.Geometry {
	if g == nil {
		return nil
	}
	if from == to {
		return orb.Clone(g)
	}
	if from == SRIDWGS84 {
		return project.Geometry(orb.Clone(g), project.WGS84.ToMercator)
	}
	return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
}
