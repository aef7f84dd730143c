// Package model defines the domain records shared across the fusion pipeline.
package model

import (
	"github.com/rotisserie/eris"
)

// Metric keys carried on NeighborhoodRecord.Metrics. The names preserve the
// source dataset vocabulary so output files line up with the upstream feeds.
const (
	MetricNeighborhoodZHVI = "neighborhood_ZHVI"
	MetricCityZORI         = "city_ZORI"
	MetricCityZHVI         = "city_ZHVI"
	MetricCityRTV          = "city_RTV"
	MetricCityRank         = "city_rank"
	MetricWalkScore        = "walk_score"
	MetricTransitScore     = "transit_score"
	MetricBikeScore        = "bike_score"
	MetricPopulation       = "population"
	MetricAreaSqMi         = "area_sq_mi"
	MetricPopDensity       = "pop_density"
)

// NeighborhoodRecord is one named neighborhood with its point location and
// accumulated metrics. A metric absent from Metrics is a missing value; it is
// never stored as zero.
type NeighborhoodRecord struct {
	ID         string             `json:"id"`
	Name       string             `json:"neighborhood"`
	CityName   string             `json:"city_name"`
	StateID    string             `json:"state_id"`
	CountyFIPS string             `json:"county_fips"`
	Lat        float64            `json:"lat"`
	Lng        float64            `json:"lng"`
	Metrics    map[string]float64 `json:"metrics"`

	// RawPopulation holds the scraped population text (possibly with
	// thousands separators) until the derive stage parses it.
	RawPopulation string `json:"raw_population,omitempty"`
}

// Metric returns the named metric and whether it is present.
func (r *NeighborhoodRecord) Metric(key string) (float64, bool) {
	v, ok := r.Metrics[key]
	return v, ok
}

// SetMetric records a metric value, allocating the map on first use.
func (r *NeighborhoodRecord) SetMetric(key string, v float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]float64)
	}
	r.Metrics[key] = v
}

// County is a 5-digit FIPS code scoping a geography query: two state digits
// followed by three county digits.
type County string

// Validate checks the FIPS shape.
func (c County) Validate() error {
	if len(c) != 5 {
		return eris.Errorf("county: FIPS %q must have 5 digits", string(c))
	}
	for _, r := range c {
		if r < '0' || r > '9' {
			return eris.Errorf("county: FIPS %q must be numeric", string(c))
		}
	}
	return nil
}

// StateFIPS returns the 2-digit state prefix.
func (c County) StateFIPS() string {
	if len(c) < 2 {
		return string(c)
	}
	return string(c)[:2]
}

// CountyCode returns the 3-digit county suffix.
func (c County) CountyCode() string {
	if len(c) < 2 {
		return ""
	}
	return string(c)[2:]
}

// Geography is the administrative granularity of the fetched units,
// coarse to fine.
type Geography string

const (
	GeographyTract      Geography = "tract"
	GeographyBlockGroup Geography = "block_group"
	GeographyBlock      Geography = "block"
)

// ParseGeography validates a granularity name.
func ParseGeography(s string) (Geography, error) {
	switch Geography(s) {
	case GeographyTract, GeographyBlockGroup, GeographyBlock:
		return Geography(s), nil
	}
	return "", eris.Errorf("model: unknown geography %q (want tract, block_group or block)", s)
}

// WalkabilityRow is one scraped row of a city's neighborhood walkability
// table. Numeric fields stay as text until the derive stage; the site returns
// populations like "12,345".
type WalkabilityRow struct {
	CityRank     string `json:"city_rank"`
	Neighborhood string `json:"neighborhood"`
	WalkScore    string `json:"walk_score"`
	TransitScore string `json:"transit_score"`
	BikeScore    string `json:"bike_score"`
	Population   string `json:"population"`
	CityName     string `json:"city_name"`
	StateID      string `json:"state_id"`
}
