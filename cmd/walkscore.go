package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/pipeline"
	"github.com/sells-group/atlas-cli/pkg/walkscore"
)

// cityRef names one city to scrape.
type cityRef struct {
	name  string
	state string
}

var walkscoreCmd = &cobra.Command{
	Use:   "walkscore",
	Short: "Scrape neighborhood walkability scores",
	Long: `Scrapes per-neighborhood walk, transit, and bike scores from city ranking
pages and writes them to a CSV the fuse command picks up.

Cities come from --cities, or default to the distinct cities named in the
points file. A city that fails to scrape is logged and skipped; its
neighborhoods fuse without walkability scores.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("walkscore"); err != nil {
			return err
		}
		logger := zap.L().With(zap.String("command", "walkscore"))

		explicit, _ := cmd.Flags().GetString("cities")
		cities, err := cityList(explicit)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Data.SpatialDir, "walkscores.csv")
		}

		client := walkscore.NewClient(walkscore.Config{
			BaseURL:          cfg.Walkscore.BaseURL,
			Timeout:          time.Duration(cfg.Walkscore.TimeoutSecs) * time.Second,
			MaxRetries:       cfg.Walkscore.MaxRetries,
			RatePerSec:       cfg.Walkscore.RatePerSec,
			FailureThreshold: cfg.Walkscore.FailureThreshold,
			ResetTimeout:     time.Duration(cfg.Walkscore.ResetTimeoutSecs) * time.Second,
		})

		var (
			rows   []model.WalkabilityRow
			failed int
		)
		for _, city := range cities {
			cityRows, err := client.CityNeighborhoods(ctx, city.name, city.state)
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrap(err, "walkscore: interrupted")
				}
				logger.Warn("city scrape failed",
					zap.String("city", city.name),
					zap.String("state", city.state),
					zap.Error(err))
				failed++
				continue
			}
			logger.Info("city scraped",
				zap.String("city", city.name),
				zap.String("state", city.state),
				zap.Int("neighborhoods", len(cityRows)))
			rows = append(rows, cityRows...)
		}
		if failed == len(cities) {
			return eris.Errorf("walkscore: all %d cities failed", len(cities))
		}

		if err := pipeline.WriteWalkabilityCSV(out, rows); err != nil {
			return err
		}

		fmt.Printf("Scrape complete: %d neighborhoods from %d cities (%d failed) written to %s\n",
			len(rows), len(cities)-failed, failed, out)
		return nil
	},
}

func init() {
	walkscoreCmd.Flags().String("cities", "", "comma-separated City:ST list (default: distinct cities in the points file)")
	walkscoreCmd.Flags().String("out", "", "output CSV path (default: <spatial-dir>/walkscores.csv)")
	rootCmd.AddCommand(walkscoreCmd)
}

// cityList resolves the cities to scrape, either from an explicit flag value
// or from the distinct city/state pairs in the points file.
func cityList(explicit string) ([]cityRef, error) {
	if explicit != "" {
		return parseCityList(explicit)
	}

	reg, err := sourceRegistry()
	if err != nil {
		return nil, err
	}
	points, err := pipeline.LoadPoints(reg)
	if err != nil {
		return nil, eris.Wrap(err, "walkscore: load points for city list")
	}
	for _, col := range []string{"city_name", "state_id"} {
		if !points.HasColumn(col) {
			return nil, eris.Errorf("walkscore: points file missing column %q", col)
		}
	}

	seen := make(map[cityRef]struct{})
	var cities []cityRef
	for i := 0; i < points.Len(); i++ {
		ref := cityRef{name: points.Get(i, "city_name"), state: points.Get(i, "state_id")}
		if ref.name == "" || ref.state == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		cities = append(cities, ref)
	}
	if len(cities) == 0 {
		return nil, eris.New("walkscore: no cities in points file")
	}
	return cities, nil
}

func parseCityList(s string) ([]cityRef, error) {
	var cities []cityRef
	for _, part := range splitAndTrim(s) {
		name, state, ok := strings.Cut(part, ":")
		name, state = strings.TrimSpace(name), strings.TrimSpace(state)
		if !ok || name == "" || state == "" {
			return nil, eris.Errorf("walkscore: bad city %q (want City:ST)", part)
		}
		cities = append(cities, cityRef{name: name, state: state})
	}
	if len(cities) == 0 {
		return nil, eris.New("walkscore: empty city list")
	}
	return cities, nil
}
