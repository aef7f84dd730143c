package geospatial

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// ErrNoReferenceGeometry reports an empty reference set; assignment has
// nothing to choose from.
var ErrNoReferenceGeometry = eris.New("geospatial: no reference geometry")

// nearestTolerance is the distance delta below which two references count
// as equidistant.
const nearestTolerance = 1e-9

// AssignNearest returns a copy of units with every AssignedID set to the
// nearest reference point's ID. Units run in parallel up to workers; each
// unit's reference scan is sequential, so equidistant references resolve
// deterministically to the first in iteration order.
func AssignNearest(ctx context.Context, units PlanarUnits, refs PlanarPoints, workers int) (PlanarUnits, error) {
	if refs.Len() == 0 {
		return PlanarUnits{}, ErrNoReferenceGeometry
	}
	if workers < 1 {
		workers = 1
	}

	out := PlanarUnits{units: make([]GeographicUnit, len(units.units))}
	copy(out.units, units.units)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range out.units {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return eris.Wrap(err, "geospatial: assign nearest")
			}
			q := comparisonPoint(out.units[i].Geometry)
			best := refs.points[0].ID
			bestDist := referenceDistance(q, refs.points[0].Point)
			for _, ref := range refs.points[1:] {
				if d := referenceDistance(q, ref.Point); d < bestDist-nearestTolerance {
					best, bestDist = ref.ID, d
				}
			}
			out.units[i].AssignedID = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PlanarUnits{}, err
	}
	return out, nil
}

// comparisonPoint reduces a query geometry to the point compared against
// the references: a point is used directly, anything with area by its
// centroid.
func comparisonPoint(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	c, _ := planar.CentroidArea(g)
	return c
}

// referenceDistance is the planar distance from a query point to one
// reference. Point references use Euclidean distance; polygonal references
// measure to the nearest boundary segment and are 0 when the point lies
// inside.
func referenceDistance(q orb.Point, ref orb.Geometry) float64 {
	switch r := ref.(type) {
	case orb.Point:
		return planar.Distance(q, r)
	case orb.Polygon:
		if planar.PolygonContains(r, q) {
			return 0
		}
		return planar.DistanceFrom(r, q)
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(r, q) {
			return 0
		}
		return planar.DistanceFrom(r, q)
	default:
		return planar.DistanceFrom(ref, q)
	}
}
