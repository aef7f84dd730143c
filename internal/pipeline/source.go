package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/store"
)

// UnitSource yields the geographic units of one county at one granularity.
// The TIGERweb client and the shapefile downloader both satisfy it.
type UnitSource interface {
	CountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, error)
}

// CachedSource reads county units through the store before asking the
// wrapped source, and writes fresh fetches back. Cache errors fall through
// to the source; the cache never fails a fetch.
type CachedSource struct {
	Inner UnitSource
	Store store.Store
}

// CountyUnits implements UnitSource.
func (s *CachedSource) CountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, error) {
	log := zap.L().With(zap.String("county", string(county)), zap.String("geography", string(geography)))

	layer, ok, err := s.Store.GetCountyUnits(ctx, county, geography)
	if err != nil {
		log.Warn("pipeline: county cache read failed", zap.Error(err))
	} else if ok {
		log.Debug("pipeline: county units served from cache", zap.Int("units", len(layer.Units)))
		return layer, nil
	}

	layer, err = s.Inner.CountyUnits(ctx, county, geography)
	if err != nil {
		return geospatial.UnitLayer{}, err
	}
	if err := s.Store.PutCountyUnits(ctx, county, geography, layer); err != nil {
		log.Warn("pipeline: county cache write failed", zap.Error(err))
	}
	return layer, nil
}

// fetchCountyUnits fetches every county's units concurrently and
// concatenates them in county order. A county whose fetch fails is logged,
// reported as a fetch failure and contributes zero units; only context
// cancellation aborts the stage. attempts is recorded on failures so the
// dead-letter log shows how hard the fetch tried.
func fetchCountyUnits(ctx context.Context, src UnitSource, counties []model.County, geography model.Geography, workers, attempts int) (geospatial.UnitLayer, []model.FetchFailure, error) {
	if workers < 1 {
		workers = 1
	}

	layers := make([]geospatial.UnitLayer, len(counties))
	failed := make([]*model.FetchFailure, len(counties))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, county := range counties {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return eris.Wrap(err, "pipeline: fetch units")
			}
			layer, err := src.CountyUnits(gCtx, county, geography)
			if err != nil {
				if gCtx.Err() != nil {
					return eris.Wrap(err, "pipeline: fetch units")
				}
				zap.L().Warn("pipeline: county fetch failed, run continues with reduced coverage",
					zap.String("county", string(county)),
					zap.String("geography", string(geography)),
					zap.Error(err))
				failed[i] = &model.FetchFailure{
					County:    county,
					Geography: geography,
					Attempts:  attempts,
					LastError: err.Error(),
					FailedAt:  time.Now().UTC(),
				}
				return nil
			}
			layers[i] = layer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return geospatial.UnitLayer{}, nil, err
	}

	merged, err := geospatial.MergeUnitLayers(layers...)
	if err != nil {
		return geospatial.UnitLayer{}, nil, eris.Wrap(err, "pipeline: merge county layers")
	}

	var failures []model.FetchFailure
	for _, f := range failed {
		if f != nil {
			failures = append(failures, *f)
		}
	}
	return merged, failures, nil
}
