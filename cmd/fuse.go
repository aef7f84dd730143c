package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/config"
	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/pipeline"
	"github.com/sells-group/atlas-cli/internal/store"
	"github.com/sells-group/atlas-cli/internal/tiger"
	"github.com/sells-group/atlas-cli/pkg/tigerweb"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Run the full fusion pipeline",
	Long: `Joins the Zillow home-value and rent indexes onto the neighborhood
points file, fetches census units for every county in play, assigns each
unit to its nearest neighborhood, dissolves the groups into boundary
polygons, merges walkability scores and derives metrics, then writes the
fused CSV and GeoJSON.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyFuseFlags(cmd)
		if err := cfg.Validate("fuse"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		src, err := buildUnitSource(st)
		if err != nil {
			return err
		}

		reg, err := sourceRegistry()
		if err != nil {
			return err
		}
		frames, err := pipeline.LoadSourceFrames(reg)
		if err != nil {
			return err
		}
		walkability, err := pipeline.LoadWalkability(reg)
		if err != nil {
			zap.L().Warn("walkability export unavailable, fusing without scores", zap.Error(err))
			walkability = nil
		}

		p := pipeline.New(cfg, st, src)
		result, err := p.Run(ctx, pipeline.Inputs{
			Frames:      frames,
			Walkability: walkability,
			Geography:   model.Geography(cfg.Geo.Geography),
		})
		if err != nil {
			return eris.Wrap(err, "fuse")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(fuseSummary(result))
	},
}

func init() {
	fuseCmd.Flags().String("zhvi-dir", "", "directory holding ZHVI export CSVs")
	fuseCmd.Flags().String("zori-dir", "", "directory holding ZORI export CSVs")
	fuseCmd.Flags().String("spatial-dir", "", "directory holding the points and walkability CSVs")
	fuseCmd.Flags().String("walkscore-csv", "", "explicit walkability CSV path")
	fuseCmd.Flags().String("csv-dir", "", "output directory for the fused CSV")
	fuseCmd.Flags().String("geojson-dir", "", "output directory for the fused GeoJSON")
	fuseCmd.Flags().String("geography", "", "unit granularity: tract, block_group, block")
	fuseCmd.Flags().String("source", "", "unit source: tigerweb or shapefile")
	fuseCmd.Flags().Int("workers", 0, "parallel workers for fetch and geometry stages")
	fuseCmd.Flags().Bool("no-cache", false, "bypass the county unit cache")
	rootCmd.AddCommand(fuseCmd)
}

// applyFuseFlags layers explicit flags over the loaded config.
func applyFuseFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("zhvi-dir") {
		cfg.Data.ZHVIDir, _ = flags.GetString("zhvi-dir")
	}
	if flags.Changed("zori-dir") {
		cfg.Data.ZORIDir, _ = flags.GetString("zori-dir")
	}
	if flags.Changed("spatial-dir") {
		cfg.Data.SpatialDir, _ = flags.GetString("spatial-dir")
	}
	if flags.Changed("walkscore-csv") {
		cfg.Data.WalkscoreCSV, _ = flags.GetString("walkscore-csv")
	}
	if flags.Changed("csv-dir") {
		cfg.Data.CSVDir, _ = flags.GetString("csv-dir")
	}
	if flags.Changed("geojson-dir") {
		cfg.Data.GeoJSONDir, _ = flags.GetString("geojson-dir")
	}
	if flags.Changed("geography") {
		cfg.Geo.Geography, _ = flags.GetString("geography")
	}
	if flags.Changed("source") {
		cfg.Geo.Source, _ = flags.GetString("source")
	}
	if flags.Changed("workers") {
		cfg.Pipeline.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("no-cache") {
		noCache, _ := flags.GetBool("no-cache")
		cfg.Pipeline.UseCache = !noCache
	}
}

// buildUnitSource selects the configured geography backend, wrapped in the
// county cache when a store is available.
func buildUnitSource(st store.Store) (pipeline.UnitSource, error) {
	var src pipeline.UnitSource
	switch cfg.Geo.Source {
	case "tigerweb":
		src = tigerweb.NewClient(tigerweb.Config{
			BaseURL:    cfg.TigerWeb.BaseURL,
			Timeout:    time.Duration(cfg.TigerWeb.TimeoutSecs) * time.Second,
			MaxRetries: cfg.TigerWeb.MaxRetries,
			RatePerSec: cfg.TigerWeb.RatePerSec,
		})
	case "shapefile":
		src = tiger.NewDownloader(tiger.Config{
			Year:      cfg.Tiger.Year,
			TempDir:   cfg.Tiger.TempDir,
			Transport: cfg.Tiger.Transport,
			Timeout:   time.Duration(cfg.Tiger.TimeoutSecs) * time.Second,
		})
	default:
		return nil, eris.Errorf("unknown geo source %q (want tigerweb or shapefile)", cfg.Geo.Source)
	}
	if st != nil && cfg.Pipeline.UseCache {
		src = &pipeline.CachedSource{Inner: src, Store: st}
	}
	return src, nil
}

// sourceRegistry resolves the tabular source registry, with YAML overrides
// layered over the data directories when a sources file is configured.
func sourceRegistry() (*config.Registry, error) {
	if cfg.Data.SourcesFile != "" {
		return config.LoadRegistry(cfg.Data.SourcesFile, cfg.Data)
	}
	return config.DefaultRegistry(cfg.Data), nil
}

// runSummary is the fuse command's stdout payload. Records and geometries
// stay in the output files; stdout gets the counts and paths.
type runSummary struct {
	RunID          string                 `json:"run_id,omitempty"`
	Geography      model.Geography        `json:"geography"`
	Neighborhoods  int                    `json:"neighborhoods"`
	Counties       int                    `json:"counties"`
	Units          int                    `json:"units"`
	FailedCounties int                    `json:"failed_counties"`
	CSVPath        string                 `json:"csv_path,omitempty"`
	GeoJSONPath    string                 `json:"geojson_path,omitempty"`
	Phases         []pipeline.PhaseResult `json:"phases"`
}

func fuseSummary(result *pipeline.Result) runSummary {
	return runSummary{
		RunID:          result.RunID,
		Geography:      result.Geography,
		Neighborhoods:  len(result.Records),
		Counties:       result.Counties,
		Units:          result.Units,
		FailedCounties: len(result.FetchFailures),
		CSVPath:        result.CSVPath,
		GeoJSONPath:    result.GeoJSONPath,
		Phases:         result.Phases,
	}
}
