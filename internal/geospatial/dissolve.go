package geospatial

import (
	"context"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// overlapEpsilon is the relative area discrepancy tolerated before the
// dissolver reports overlapping input units.
const overlapEpsilon = 1e-6

// Dissolve unions the units of each assignment group into one boundary per
// group, sorted by group ID. Administrative fabrics share exact vertices
// between adjacent units, so the union cancels interior edges and stitches
// the survivors into rings; a group whose edges do not line up falls back
// to the multi-part collection of its raw units, with a warning.
func Dissolve(ctx context.Context, units PlanarUnits, workers int) (PlanarBoundaries, error) {
	if workers < 1 {
		workers = 1
	}

	groups := make(map[string][]orb.Geometry)
	for _, u := range units.units {
		if u.AssignedID == "" {
			return PlanarBoundaries{}, eris.Errorf("geospatial: unit %s has no assignment", u.GEOID)
		}
		switch u.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return PlanarBoundaries{}, eris.Errorf("geospatial: unit %s has non-polygonal geometry %T", u.GEOID, u.Geometry)
		}
		groups[u.AssignedID] = append(groups[u.AssignedID], orb.Clone(u.Geometry))
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]orb.Geometry, len(ids))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return eris.Wrap(err, "geospatial: dissolve")
			}
			results[i] = unionGroup(id, groups[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PlanarBoundaries{}, err
	}

	out := PlanarBoundaries{
		boundaries: make([]NeighborhoodBoundary, len(ids)),
		areas:      make(map[string]float64, len(ids)),
	}
	for i, id := range ids {
		out.boundaries[i] = NeighborhoodBoundary{NeighborhoodID: id, Geometry: results[i]}
		out.areas[id] = planar.Area(results[i])
	}
	return out, nil
}

// unionGroup computes the union of one group's unit geometries. A
// single-unit group passes its geometry through unchanged.
func unionGroup(id string, geoms []orb.Geometry) orb.Geometry {
	if len(geoms) == 1 {
		return geoms[0]
	}

	var parts []orb.Polygon
	for _, g := range geoms {
		switch s := g.(type) {
		case orb.Polygon:
			parts = append(parts, s)
		case orb.MultiPolygon:
			parts = append(parts, s...)
		}
	}

	union, dup, ok := cancelAndStitch(parts)
	if !ok {
		zap.L().Warn("geospatial: ring stitching failed, keeping multi-part boundary",
			zap.String("group", id),
			zap.Int("parts", len(parts)),
		)
		return orb.MultiPolygon(parts)
	}

	var sum float64
	for _, p := range parts {
		sum += planar.Area(p)
	}
	got := planar.Area(union)
	if dup || math.Abs(got-sum) > overlapEpsilon*math.Max(sum, 1) {
		zap.L().Warn("geospatial: input units overlap, union area is unreliable",
			zap.String("group", id),
			zap.Float64("union_sq_m", got),
			zap.Float64("parts_sq_m", sum),
		)
	}
	return union
}

// edge is a directed segment between two exact vertices.
type edge struct {
	ax, ay, bx, by float64
}

func (e edge) reversed() edge { return edge{e.bx, e.by, e.ax, e.ay} }

func (e edge) start() orb.Point { return orb.Point{e.ax, e.ay} }

func (e edge) end() orb.Point { return orb.Point{e.bx, e.by} }

// cancelAndStitch unions vertex-exact polygons: an interior edge is
// traversed once in each direction by the two units sharing it and cancels
// out; the surviving directed edges are stitched into closed rings and
// classified into shells and holes. dup reports a surviving same-direction
// duplicate edge, which only overlapping units can produce.
func cancelAndStitch(parts []orb.Polygon) (g orb.Geometry, dup, ok bool) {
	counts := make(map[edge]int)
	var order []edge
	for _, poly := range parts {
		for ri, ring := range poly {
			r := normalizeRing(ring, ri == 0)
			for i := 0; i+1 < len(r); i++ {
				a, b := r[i], r[i+1]
				if a == b {
					continue
				}
				e := edge{a[0], a[1], b[0], b[1]}
				if rev := e.reversed(); counts[rev] > 0 {
					counts[rev]--
					continue
				}
				if counts[e] == 0 {
					order = append(order, e)
				}
				counts[e]++
			}
		}
	}

	var survivors []edge
	for _, e := range order {
		if counts[e] > 1 {
			dup = true
		}
		for n := counts[e]; n > 0; n-- {
			survivors = append(survivors, e)
		}
	}
	if len(survivors) == 0 {
		return nil, dup, false
	}

	rings, ok := stitchRings(survivors)
	if !ok {
		return nil, dup, false
	}
	g, ok = assembleRings(rings)
	return g, dup, ok
}

// normalizeRing closes the ring if needed and orients exteriors
// counter-clockwise and holes clockwise, so an edge shared by two adjacent
// units runs in opposite directions.
func normalizeRing(ring orb.Ring, exterior bool) orb.Ring {
	r := ring.Clone()
	if len(r) > 1 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	want := orb.CCW
	if !exterior {
		want = orb.CW
	}
	if len(r) >= 4 && r.Orientation() != want {
		r.Reverse()
	}
	return r
}

// stitchRings chains directed edges head-to-tail into closed rings. Edges
// are consumed in first-seen order, keeping the result deterministic. A
// dead end means the input was not edge-consistent.
func stitchRings(edges []edge) ([]orb.Ring, bool) {
	next := make(map[orb.Point][]int, len(edges))
	for i, e := range edges {
		next[e.start()] = append(next[e.start()], i)
	}
	used := make([]bool, len(edges))

	var rings []orb.Ring
	for start := range edges {
		if used[start] {
			continue
		}
		ring := orb.Ring{edges[start].start()}
		cur := start
		for {
			used[cur] = true
			head := edges[cur].end()
			ring = append(ring, head)
			if head == edges[start].start() {
				break
			}
			found := -1
			for _, cand := range next[head] {
				if !used[cand] {
					found = cand
					break
				}
			}
			if found < 0 {
				return nil, false
			}
			cur = found
		}
		if len(ring) < 4 {
			return nil, false
		}
		rings = append(rings, ring)
	}
	return rings, true
}

// assembleRings classifies stitched rings by orientation into exterior
// shells and holes, attaching each hole to the shell containing it.
func assembleRings(rings []orb.Ring) (orb.Geometry, bool) {
	var shells []orb.Polygon
	var holes []orb.Ring
	for _, r := range rings {
		if r.Orientation() == orb.CCW {
			shells = append(shells, orb.Polygon{r})
		} else {
			holes = append(holes, r)
		}
	}
	if len(shells) == 0 {
		return nil, false
	}
	for _, h := range holes {
		placed := false
		for i := range shells {
			if planar.RingContains(shells[i][0], h[0]) {
				shells[i] = append(shells[i], h)
				placed = true
				break
			}
		}
		if !placed {
			return nil, false
		}
	}
	if len(shells) == 1 {
		return shells[0], true
	}
	return orb.MultiPolygon(shells), true
}
