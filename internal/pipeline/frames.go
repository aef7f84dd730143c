package pipeline

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/config"
	"github.com/sells-group/atlas-cli/internal/frame"
	"github.com/sells-group/atlas-cli/internal/model"
)

// droppedColumns ride along in the points export but never surface in the
// fused output.
var droppedColumns = []string{"neighborhood_ascii", "city_id", "timezone", "source"}

// walkabilityColumns is the column layout of the walkability scrape export.
var walkabilityColumns = []string{
	"city_rank", "neighborhood", "walk_score", "transit_score",
	"bike_score", "population", "city_name", "state_id",
}

// SourceFrames holds the four tabular inputs of a fusion run.
type SourceFrames struct {
	Points           *frame.Frame
	NeighborhoodZHVI *frame.Frame
	CityZORI         *frame.Frame
	CityZHVI         *frame.Frame
}

// LoadSourceFrames reads the tabular sources named by the registry.
func LoadSourceFrames(reg *config.Registry) (*SourceFrames, error) {
	var (
		out SourceFrames
		err error
	)
	if out.Points, err = loadSource(reg, config.SourcePoints); err != nil {
		return nil, err
	}
	if out.NeighborhoodZHVI, err = loadSource(reg, config.SourceNeighborhoodZHVI); err != nil {
		return nil, err
	}
	if out.CityZORI, err = loadSource(reg, config.SourceCityZORI); err != nil {
		return nil, err
	}
	if out.CityZHVI, err = loadSource(reg, config.SourceCityZHVI); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadPoints reads just the neighborhood points source.
func LoadPoints(reg *config.Registry) (*frame.Frame, error) {
	return loadSource(reg, config.SourcePoints)
}

// LoadWalkability reads the scraped walkability export into rows.
func LoadWalkability(reg *config.Registry) ([]model.WalkabilityRow, error) {
	f, err := loadSource(reg, config.SourceWalkscore)
	if err != nil {
		return nil, err
	}
	for _, col := range walkabilityColumns {
		if !f.HasColumn(col) {
			return nil, eris.Wrapf(frame.ErrSchemaMismatch, "pipeline: walkability export missing column %q", col)
		}
	}

	rows := make([]model.WalkabilityRow, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		rows = append(rows, model.WalkabilityRow{
			CityRank:     f.Get(i, "city_rank"),
			Neighborhood: f.Get(i, "neighborhood"),
			WalkScore:    f.Get(i, "walk_score"),
			TransitScore: f.Get(i, "transit_score"),
			BikeScore:    f.Get(i, "bike_score"),
			Population:   f.Get(i, "population"),
			CityName:     f.Get(i, "city_name"),
			StateID:      f.Get(i, "state_id"),
		})
	}
	return rows, nil
}

// loadSource resolves one registry entry to a frame.
func loadSource(reg *config.Registry, name string) (*frame.Frame, error) {
	src, ok := reg.Lookup(name)
	if !ok {
		return nil, eris.Errorf("pipeline: source %q not registered", name)
	}

	var (
		path string
		f    *frame.Frame
		err  error
	)
	switch src.Format {
	case "", "csv":
		if path, err = frame.RecentCSV(src.Dir, src.Identifier); err == nil {
			f, err = frame.ReadCSV(path)
		}
	case "xlsx":
		if path, err = frame.RecentFile(src.Dir, src.Identifier, ".xlsx"); err == nil {
			f, err = frame.ReadXLSX(path, src.Sheet)
		}
	default:
		err = eris.Errorf("unknown format %q", src.Format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load source %s", name)
	}

	zap.L().Debug("pipeline: source loaded",
		zap.String("source", name),
		zap.String("path", path),
		zap.Int("rows", f.Len()))
	return f, nil
}

// JoinFrames runs the three-stage attribute fusion: neighborhood ZHVI, then
// city ZORI, then city ZHVI, each deduplicated on the neighborhood column.
// Zillow wide-format indexes carry one column per month; each frame's own
// last column is the newest month and becomes the metric value.
func JoinFrames(frames *SourceFrames) (*frame.Frame, error) {
	valueCol := frames.NeighborhoodZHVI.LastColumn()
	slice, err := frames.NeighborhoodZHVI.Select("RegionName", "State", "City", valueCol)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: slice neighborhood zhvi")
	}
	fused, err := frame.LeftJoin(frames.Points, slice, frame.JoinOptions{
		LeftKeys:      []string{"neighborhood", "state_id", "city_name"},
		RightKeys:     []string{"RegionName", "State", "City"},
		ValueColumn:   valueCol,
		RenameValueTo: model.MetricNeighborhoodZHVI,
		DedupeKey:     "neighborhood",
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: join neighborhood zhvi")
	}

	if fused, err = joinCityIndex(fused, frames.CityZORI, model.MetricCityZORI); err != nil {
		return nil, eris.Wrap(err, "pipeline: join city zori")
	}
	if fused, err = joinCityIndex(fused, frames.CityZHVI, model.MetricCityZHVI); err != nil {
		return nil, eris.Wrap(err, "pipeline: join city zhvi")
	}

	return fused.Drop(droppedColumns...), nil
}

// joinCityIndex merges one city-level wide index onto the fused frame,
// renaming its latest month column to metric.
func joinCityIndex(fused, index *frame.Frame, metric string) (*frame.Frame, error) {
	valueCol := index.LastColumn()
	slice, err := index.Select("RegionName", valueCol)
	if err != nil {
		return nil, err
	}
	return frame.LeftJoin(fused, slice, frame.JoinOptions{
		LeftKeys:      []string{"city_name"},
		RightKeys:     []string{"RegionName"},
		ValueColumn:   valueCol,
		RenameValueTo: metric,
		DedupeKey:     "neighborhood",
	})
}
