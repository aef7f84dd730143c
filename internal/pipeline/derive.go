package pipeline

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/model"
)

// squareMetersPerSquareMile converts planar areas to square miles.
const squareMetersPerSquareMile = 2589988.110336

// parseMetric reads a numeric cell leniently: surrounding whitespace and
// comma thousands separators are tolerated. Empty, non-numeric, NaN and Inf
// cells report false so the metric stays missing.
func parseMetric(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parsePopulation reads a population cell: comma separators stripped, whole
// number required.
func parsePopulation(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// setIfNumeric stores a cell as a metric when it parses; otherwise the
// metric stays missing.
func setIfNumeric(rec *model.NeighborhoodRecord, key, cell string) {
	v, ok := parseMetric(cell)
	if !ok {
		if strings.TrimSpace(cell) != "" {
			zap.L().Debug("pipeline: unparseable metric cell",
				zap.String("neighborhood", rec.Name),
				zap.String("metric", key),
				zap.String("cell", cell))
		}
		return
	}
	rec.SetMetric(key, v)
}

// DeriveRTV sets city_RTV, the city rent index over the city home-value
// index in percent. A missing or zero city ZHVI leaves the ratio missing
// rather than producing Inf or NaN.
func DeriveRTV(records []model.NeighborhoodRecord) {
	for i := range records {
		zori, okZORI := records[i].Metric(model.MetricCityZORI)
		zhvi, okZHVI := records[i].Metric(model.MetricCityZHVI)
		if !okZORI || !okZHVI || zhvi == 0 {
			continue
		}
		records[i].SetMetric(model.MetricCityRTV, zori/zhvi*100)
	}
}

// DeriveAreas sets area_sq_mi from the planar square-meter areas captured
// during dissolve, keyed by record ID. Records without a captured area are
// left untouched.
func DeriveAreas(records []model.NeighborhoodRecord, planarAreas map[string]float64) {
	for i := range records {
		m2, ok := planarAreas[records[i].ID]
		if !ok {
			continue
		}
		records[i].SetMetric(model.MetricAreaSqMi, m2/squareMetersPerSquareMile)
	}
}

// DerivePopulation parses the population text captured during the
// walkability merge. Unparseable text stays missing, never zero.
func DerivePopulation(records []model.NeighborhoodRecord) {
	for i := range records {
		if records[i].RawPopulation == "" {
			continue
		}
		v, ok := parsePopulation(records[i].RawPopulation)
		if !ok {
			zap.L().Debug("pipeline: unparseable population",
				zap.String("neighborhood", records[i].Name),
				zap.String("cell", records[i].RawPopulation))
			continue
		}
		records[i].SetMetric(model.MetricPopulation, float64(v))
	}
}

// DeriveDensity sets pop_density in people per square mile. Either operand
// missing, or a zero area, leaves the density missing.
func DeriveDensity(records []model.NeighborhoodRecord) {
	for i := range records {
		pop, okPop := records[i].Metric(model.MetricPopulation)
		area, okArea := records[i].Metric(model.MetricAreaSqMi)
		if !okPop || !okArea || area == 0 {
			continue
		}
		records[i].SetMetric(model.MetricPopDensity, pop/area)
	}
}
