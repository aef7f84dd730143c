package geospatial

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// centeredSquare returns a CCW unit square centered on (cx, cy).
func centeredSquare(cx, cy float64) orb.Polygon {
	return square(cx-0.5, cy-0.5)
}

func TestAssignNearest_PicksClosestReference(t *testing.T) {
	refs := PlanarPoints{points: []NamedPoint{
		{ID: "origin", Point: orb.Point{0, 0}},
		{ID: "east", Point: orb.Point{10, 0}},
		{ID: "north", Point: orb.Point{0, 10}},
	}}
	units := PlanarUnits{units: []GeographicUnit{
		{GEOID: "u1", Geometry: centeredSquare(1, 0)},
	}}

	out, err := AssignNearest(context.Background(), units, refs, 1)
	require.NoError(t, err)
	assert.Equal(t, "origin", out.Assignments()["u1"])
}

func TestAssignNearest_AllUnitsAssigned(t *testing.T) {
	refs := PlanarPoints{points: []NamedPoint{
		{ID: "a", Point: orb.Point{0, 0}},
		{ID: "b", Point: orb.Point{100, 0}},
	}}
	units := PlanarUnits{units: []GeographicUnit{
		{GEOID: "u1", Geometry: centeredSquare(10, 0)},
		{GEOID: "u2", Geometry: centeredSquare(90, 0)},
		{GEOID: "u3", Geometry: centeredSquare(40, 0)},
	}}

	out, err := AssignNearest(context.Background(), units, refs, 4)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "a", "u2": "b", "u3": "a"}, out.Assignments())
}

func TestAssignNearest_TieBreakFirstWins(t *testing.T) {
	units := PlanarUnits{units: []GeographicUnit{
		{GEOID: "mid", Geometry: centeredSquare(5, 0)},
	}}

	out, err := AssignNearest(context.Background(), units, PlanarPoints{points: []NamedPoint{
		{ID: "west", Point: orb.Point{0, 0}},
		{ID: "east", Point: orb.Point{10, 0}},
	}}, 1)
	require.NoError(t, err)
	assert.Equal(t, "west", out.Assignments()["mid"])

	// Swapping reference order swaps the winner: the tie-break is
	// iteration order, nothing else.
	out, err = AssignNearest(context.Background(), units, PlanarPoints{points: []NamedPoint{
		{ID: "east", Point: orb.Point{10, 0}},
		{ID: "west", Point: orb.Point{0, 0}},
	}}, 1)
	require.NoError(t, err)
	assert.Equal(t, "east", out.Assignments()["mid"])
}

func TestAssignNearest_EmptyReferences(t *testing.T) {
	units := PlanarUnits{units: []GeographicUnit{{GEOID: "u1", Geometry: centeredSquare(0, 0)}}}

	_, err := AssignNearest(context.Background(), units, PlanarPoints{}, 1)
	require.ErrorIs(t, err, ErrNoReferenceGeometry)
}

func TestAssignNearest_PointQuery(t *testing.T) {
	refs := PlanarPoints{points: []NamedPoint{
		{ID: "a", Point: orb.Point{0, 0}},
		{ID: "b", Point: orb.Point{10, 0}},
	}}
	units := PlanarUnits{units: []GeographicUnit{
		{GEOID: "p", Geometry: orb.Point{9, 1}},
	}}

	out, err := AssignNearest(context.Background(), units, refs, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", out.Assignments()["p"])
}

func TestAssignNearest_DoesNotMutateInput(t *testing.T) {
	units := PlanarUnits{units: []GeographicUnit{{GEOID: "u1", Geometry: centeredSquare(0, 0)}}}
	refs := PlanarPoints{points: []NamedPoint{{ID: "a", Point: orb.Point{0, 0}}}}

	_, err := AssignNearest(context.Background(), units, refs, 1)
	require.NoError(t, err)
	assert.Equal(t, "", units.units[0].AssignedID)
}

func TestComparisonPoint(t *testing.T) {
	assert.Equal(t, orb.Point{3, 4}, comparisonPoint(orb.Point{3, 4}))

	c := comparisonPoint(centeredSquare(2, 5))
	assert.InDelta(t, 2, c[0], 1e-9)
	assert.InDelta(t, 5, c[1], 1e-9)
}

func TestReferenceDistance_Point(t *testing.T) {
	assert.InDelta(t, 5, referenceDistance(orb.Point{3, 4}, orb.Point{0, 0}), 1e-9)
}

func TestReferenceDistance_PolygonInsideIsZero(t *testing.T) {
	poly := square(0, 0)

	assert.Equal(t, float64(0), referenceDistance(orb.Point{0.5, 0.5}, poly))
	assert.InDelta(t, 2, referenceDistance(orb.Point{3, 0.5}, poly), 1e-9)
}

func TestReferenceDistance_MultiPolygon(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0), square(10, 0)}

	assert.Equal(t, float64(0), referenceDistance(orb.Point{10.5, 0.5}, mp))
	assert.InDelta(t, 1, referenceDistance(orb.Point{-1, 0.5}, mp), 1e-9)
}
