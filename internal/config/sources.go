package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Logical names for the tabular inputs of a fusion run.
const (
	SourcePoints           = "points"
	SourceNeighborhoodZHVI = "zhvi_neighborhood"
	SourceCityZORI         = "zori_city"
	SourceCityZHVI         = "zhvi_city"
	SourceWalkscore        = "walkscore"
)

// Source describes where one tabular input lives and how to read it.
type Source struct {
	Dir        string `yaml:"dir"`
	Identifier string `yaml:"identifier"`
	Format     string `yaml:"format"` // "csv" or "xlsx"
	Sheet      string `yaml:"sheet,omitempty"`
}

// Registry maps logical source names to their locations.
type Registry struct {
	Sources map[string]Source `yaml:"sources"`
}

// DefaultRegistry derives the registry from the configured data directories.
// Identifiers follow the Zillow export naming: neighborhood-level files carry
// "Neighborhood" in the name, city-level files carry "City".
func DefaultRegistry(data DataConfig) *Registry {
	walk := Source{Dir: data.SpatialDir, Identifier: "walkscores", Format: "csv"}
	if data.WalkscoreCSV != "" {
		walk.Dir = filepath.Dir(data.WalkscoreCSV)
		walk.Identifier = strings.TrimSuffix(filepath.Base(data.WalkscoreCSV), filepath.Ext(data.WalkscoreCSV))
	}
	return &Registry{Sources: map[string]Source{
		SourcePoints:           {Dir: data.SpatialDir, Identifier: "neighborhoods", Format: "csv"},
		SourceNeighborhoodZHVI: {Dir: data.ZHVIDir, Identifier: "Neighborhood", Format: "csv"},
		SourceCityZORI:         {Dir: data.ZORIDir, Identifier: "City", Format: "csv"},
		SourceCityZHVI:         {Dir: data.ZHVIDir, Identifier: "City", Format: "csv"},
		SourceWalkscore:        walk,
	}}
}

// LoadRegistry reads a source registry from a YAML file. Entries omit fields
// to inherit them from the defaults derived from data; sources not named in
// the file keep their defaults entirely.
func LoadRegistry(path string, data DataConfig) (*Registry, error) {
	base := DefaultRegistry(data)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read sources %s", path)
	}

	var loaded Registry
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, eris.Wrap(err, "config: parse sources")
	}

	for name, src := range loaded.Sources {
		def := base.Sources[name]
		if src.Dir == "" {
			src.Dir = def.Dir
		}
		if src.Identifier == "" {
			src.Identifier = def.Identifier
		}
		if src.Format == "" {
			src.Format = def.Format
		}
		base.Sources[name] = src
	}

	return base, nil
}

// Lookup returns the entry for the given logical source name.
func (r *Registry) Lookup(name string) (Source, bool) {
	src, ok := r.Sources[name]
	return src, ok
}
