package pipeline

import (
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/model"
)

// MergeWalkability left-merges scraped walkability rows onto the records by
// neighborhood name; matching is exact-string, the first row per name wins.
// Score cells parse leniently, the raw population text is kept for the
// derive stage. Records without a match are left untouched. Returns the
// matched record count.
func MergeWalkability(records []model.NeighborhoodRecord, rows []model.WalkabilityRow) int {
	byName := make(map[string]model.WalkabilityRow, len(rows))
	for _, row := range rows {
		if _, seen := byName[row.Neighborhood]; !seen {
			byName[row.Neighborhood] = row
		}
	}

	matched := 0
	for i := range records {
		row, ok := byName[records[i].Name]
		if !ok {
			continue
		}
		matched++
		setIfNumeric(&records[i], model.MetricCityRank, row.CityRank)
		setIfNumeric(&records[i], model.MetricWalkScore, row.WalkScore)
		setIfNumeric(&records[i], model.MetricTransitScore, row.TransitScore)
		setIfNumeric(&records[i], model.MetricBikeScore, row.BikeScore)
		records[i].RawPopulation = row.Population
	}

	zap.L().Info("pipeline: walkability merged",
		zap.Int("matched", matched),
		zap.Int("records", len(records)),
		zap.Int("rows", len(rows)))
	return matched
}
