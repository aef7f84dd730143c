package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// storeTestSuite exercises the Store contract. It runs against any backend;
// the Postgres store is covered by pgxmock tests since it needs a server.
func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.GeographyTract)
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		run.Counties = 1
		run.Units = 400
		run.Neighborhoods = 32
		run.CSVPath = "out/tract_neighborhoods.csv"
		run.GeoJSONPath = "out/tract_neighborhoods.geojson"
		require.NoError(t, s.CompleteRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		assert.Equal(t, 400, got.Units)
		assert.Equal(t, "out/tract_neighborhoods.csv", got.CSVPath)
		assert.False(t, got.FinishedAt.IsZero())
	})

	t.Run("FailRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.GeographyBlock)
		require.NoError(t, err)
		require.NoError(t, s.FailRun(ctx, run.ID, "shapefile: missing .dbf"))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "shapefile: missing .dbf", got.Error)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetRun(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("CompleteRunNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.CompleteRun(context.Background(), &model.Run{ID: "nonexistent"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListRunsWithOffset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for range 3 {
			_, err := s.CreateRun(ctx, model.GeographyTract)
			require.NoError(t, err)
		}

		// Offset 1, limit 1 should skip the first result.
		paged, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, paged, 1)
	})

	t.Run("ListRunsEmpty", func(t *testing.T) {
		s := newStore(t)

		runs, err := s.ListRuns(context.Background(), RunFilter{})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("CountyUnitsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		layer := testUnitLayer("53033000100", "53033000200")
		require.NoError(t, s.PutCountyUnits(ctx, "53033", model.GeographyTract, layer))

		got, ok, err := s.GetCountyUnits(ctx, "53033", model.GeographyTract)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, geospatial.SRIDWGS84, got.SRID)
		require.Len(t, got.Units, 2)
		assert.Equal(t, layer.Units[0].Geometry, got.Units[0].Geometry)

		// Different geography level is a separate snapshot.
		_, ok, err = s.GetCountyUnits(ctx, "53033", model.GeographyBlock)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CountySnapshots", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutCountyUnits(ctx, "53033", model.GeographyTract, testUnitLayer("53033000100")))

		snapshots, err := s.ListCountySnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, snapshots, 1)
		assert.Equal(t, model.County("53033"), snapshots[0].County)
		assert.Equal(t, 1, snapshots[0].Units)
	})

	t.Run("FetchFailures", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.RecordFetchFailures(ctx, []model.FetchFailure{
			{County: "06037", Geography: model.GeographyTract, Attempts: 4, LastError: "status 503"},
		}))

		failures, err := s.ListFetchFailures(ctx, 10)
		require.NoError(t, err)
		require.Len(t, failures, 1)
		assert.Equal(t, model.County("06037"), failures[0].County)
		assert.NotEmpty(t, failures[0].ID)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
