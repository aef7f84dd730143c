package store

import (
	"context"
	"time"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	Geography model.Geography `json:"geography,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// CountySnapshot summarizes the cached boundary units for one county and
// geography level.
type CountySnapshot struct {
	County    model.County    `json:"county"`
	Geography model.Geography `json:"geography"`
	Units     int             `json:"units"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Store defines the persistence interface for the fusion pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, geography model.Geography) (*model.Run, error)
	CompleteRun(ctx context.Context, run *model.Run) error
	FailRun(ctx context.Context, runID string, errText string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// County unit cache. Geometries are stored as EWKB in geographic
	// coordinates; PutCountyUnits replaces the whole county snapshot.
	GetCountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, bool, error)
	PutCountyUnits(ctx context.Context, county model.County, geography model.Geography, layer geospatial.UnitLayer) error
	ListCountySnapshots(ctx context.Context) ([]CountySnapshot, error)

	// Fetch failure log
	RecordFetchFailures(ctx context.Context, failures []model.FetchFailure) error
	ListFetchFailures(ctx context.Context, limit int) ([]model.FetchFailure, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
