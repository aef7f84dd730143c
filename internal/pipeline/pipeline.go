// Package pipeline fuses inconsistently keyed housing metrics with census
// geography into one enriched boundary per named neighborhood: tabular
// joins, nearest-point assignment, polygon dissolve, metric derivation and
// export run as strictly ordered stages.
package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/config"
	"github.com/sells-group/atlas-cli/internal/frame"
	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/store"
)

// ErrUnmatchedBoundary reports a neighborhood/boundary mismatch after the
// dissolve. The output promises exactly one geometry per record.
var ErrUnmatchedBoundary = eris.New("pipeline: neighborhoods and boundaries do not match one-to-one")

// Inputs is one run's loaded source data.
type Inputs struct {
	Frames      *SourceFrames
	Walkability []model.WalkabilityRow
	Geography   model.Geography
}

// PhaseResult times one pipeline phase.
type PhaseResult struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of a fusion run.
type Result struct {
	RunID         string
	Geography     model.Geography
	Records       []model.NeighborhoodRecord
	Boundaries    geospatial.BoundaryLayer
	Counties      int
	Units         int
	FetchFailures []model.FetchFailure
	CSVPath       string
	GeoJSONPath   string
	Phases        []PhaseResult
}

// Pipeline orchestrates the fusion stages.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	source   UnitSource
	attempts int
}

// New creates a Pipeline. st may be nil to run without run records and
// county caching.
func New(cfg *config.Config, st store.Store, src UnitSource) *Pipeline {
	attempts := cfg.TigerWeb.MaxRetries
	if cfg.Geo.Source == "shapefile" || attempts < 1 {
		attempts = 1
	}
	return &Pipeline{cfg: cfg, store: st, source: src, attempts: attempts}
}

// Run executes the fusion stages in order: frame joins, typed conversion,
// unit fetch, nearest assignment, dissolve, boundary attach, walkability
// merge, metric derivation, export. Structural failures abort the run;
// coverage failures reduce it.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("geography", string(in.Geography)))
	log.Info("fusion run starting")

	result := &Result{Geography: in.Geography}

	var run *model.Run
	if p.store != nil {
		var err error
		run, err = p.store.CreateRun(ctx, in.Geography)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		result.RunID = run.ID
	}

	fail := func(err error) (*Result, error) {
		if run != nil {
			if failErr := p.store.FailRun(ctx, run.ID, err.Error()); failErr != nil {
				log.Warn("failed to mark run failed", zap.Error(failErr))
			}
		}
		return nil, err
	}

	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		duration := time.Since(start).Milliseconds()

		phase := PhaseResult{Name: name, DurationMS: duration}
		if err != nil {
			phase.Error = err.Error()
			log.Error("phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(err))
		} else {
			log.Info("phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration))
		}
		result.Phases = append(result.Phases, phase)
		return err
	}

	var fused *frame.Frame
	if err := trackPhase("join_frames", func() error {
		var err error
		fused, err = JoinFrames(in.Frames)
		return err
	}); err != nil {
		return fail(err)
	}

	var records []model.NeighborhoodRecord
	var points geospatial.PointLayer
	if err := trackPhase("build_records", func() error {
		var err error
		records, points, err = buildRecords(fused)
		if err != nil {
			return err
		}
		DeriveRTV(records)
		return nil
	}); err != nil {
		return fail(err)
	}

	counties := distinctCounties(records)
	result.Counties = len(counties)
	log.Info("records fused",
		zap.Int("neighborhoods", len(records)),
		zap.Int("counties", len(counties)))

	var units geospatial.UnitLayer
	if err := trackPhase("fetch_units", func() error {
		var err error
		units, result.FetchFailures, err = fetchCountyUnits(ctx, p.source, counties, in.Geography, p.cfg.Pipeline.Workers, p.attempts)
		return err
	}); err != nil {
		return fail(err)
	}
	result.Units = len(units.Units)

	if len(result.FetchFailures) > 0 && p.store != nil {
		if err := p.store.RecordFetchFailures(ctx, result.FetchFailures); err != nil {
			log.Warn("failed to record fetch failures", zap.Error(err))
		}
	}

	var assigned geospatial.PlanarUnits
	if err := trackPhase("assign_nearest", func() error {
		var err error
		assigned, err = geospatial.AssignNearest(ctx, units.Planar(), points.Planar(), p.cfg.Pipeline.Workers)
		return err
	}); err != nil {
		return fail(err)
	}

	var planar geospatial.PlanarBoundaries
	if err := trackPhase("dissolve", func() error {
		var err error
		planar, err = geospatial.Dissolve(ctx, assigned, p.cfg.Pipeline.Workers)
		return err
	}); err != nil {
		return fail(err)
	}

	boundaries := planar.Layer().Reproject(geospatial.SRIDWGS84)
	if err := trackPhase("attach_boundaries", func() error {
		return matchBoundaries(records, boundaries)
	}); err != nil {
		return fail(err)
	}
	result.Boundaries = boundaries

	_ = trackPhase("merge_walkability", func() error {
		MergeWalkability(records, in.Walkability)
		return nil
	})

	_ = trackPhase("derive_metrics", func() error {
		DeriveAreas(records, planar.Areas())
		DerivePopulation(records)
		DeriveDensity(records)
		return nil
	})
	result.Records = records

	if err := trackPhase("export", func() error {
		return p.export(in.Geography, result)
	}); err != nil {
		return fail(err)
	}

	if run != nil {
		run.Status = model.RunStatusComplete
		run.Counties = result.Counties
		run.Units = result.Units
		run.Neighborhoods = len(result.Records)
		run.CSVPath = result.CSVPath
		run.GeoJSONPath = result.GeoJSONPath
		if err := p.store.CompleteRun(ctx, run); err != nil {
			log.Warn("failed to mark run complete", zap.Error(err))
		}
	}

	log.Info("fusion run complete",
		zap.Int("neighborhoods", len(result.Records)),
		zap.Int("units", result.Units),
		zap.Int("failed_counties", len(result.FetchFailures)))
	return result, nil
}

// export writes the CSV and GeoJSON outputs into the configured dirs. An
// empty dir skips that format.
func (p *Pipeline) export(g model.Geography, result *Result) error {
	if dir := p.cfg.Data.CSVDir; dir != "" {
		path := filepath.Join(dir, CSVFileName(g))
		if err := WriteCSV(path, result.Records, result.Boundaries); err != nil {
			return err
		}
		result.CSVPath = path
	}
	if dir := p.cfg.Data.GeoJSONDir; dir != "" {
		path := filepath.Join(dir, GeoJSONFileName(g))
		if err := WriteGeoJSON(path, result.Records, result.Boundaries); err != nil {
			return err
		}
		result.GeoJSONPath = path
	}
	return nil
}

// matchBoundaries enforces the one-to-one correspondence between records
// and dissolved boundaries, naming the offenders on both sides.
func matchBoundaries(records []model.NeighborhoodRecord, boundaries geospatial.BoundaryLayer) error {
	recIDs := make(map[string]bool, len(records))
	for _, rec := range records {
		recIDs[rec.ID] = true
	}
	boundIDs := make(map[string]bool, len(boundaries.Boundaries))
	for _, b := range boundaries.Boundaries {
		boundIDs[b.NeighborhoodID] = true
	}

	var missing, orphaned []string
	for id := range recIDs {
		if !boundIDs[id] {
			missing = append(missing, id)
		}
	}
	for id := range boundIDs {
		if !recIDs[id] {
			orphaned = append(orphaned, id)
		}
	}
	if len(missing) == 0 && len(orphaned) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(orphaned)
	return eris.Wrapf(ErrUnmatchedBoundary, "pipeline: %d neighborhoods without boundaries %v, %d boundaries without neighborhoods %v",
		len(missing), missing, len(orphaned), orphaned)
}
