package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/store"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage the county boundary cache",
}

var boundariesFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch county boundary units into the cache",
	Long: `Fetches census unit polygons for the given counties from the configured
geography source and stores them, so later fuse runs read the cache instead
of the network. Counties already cached are skipped unless --refresh is set.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("boundaries"); err != nil {
			return err
		}
		logger := zap.L().With(zap.String("command", "boundaries"))

		raw, _ := cmd.Flags().GetString("counties")
		counties, err := parseCounties(raw)
		if err != nil {
			return err
		}
		if geoFlag, _ := cmd.Flags().GetString("geography"); geoFlag != "" {
			cfg.Geo.Geography = geoFlag
		}
		geography, err := model.ParseGeography(cfg.Geo.Geography)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		src, err := buildUnitSource(nil)
		if err != nil {
			return err
		}

		var fetched, cached, failed int
		for _, county := range counties {
			if !refresh {
				_, ok, err := st.GetCountyUnits(ctx, county, geography)
				if err != nil {
					return eris.Wrapf(err, "boundaries: check cache for %s", county)
				}
				if ok {
					cached++
					continue
				}
			}

			layer, err := src.CountyUnits(ctx, county, geography)
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrap(err, "boundaries: interrupted")
				}
				logger.Warn("county fetch failed",
					zap.String("county", string(county)),
					zap.Error(err))
				failed++
				continue
			}
			if err := st.PutCountyUnits(ctx, county, geography, layer); err != nil {
				return eris.Wrapf(err, "boundaries: cache county %s", county)
			}
			logger.Info("county cached",
				zap.String("county", string(county)),
				zap.Int("units", len(layer.Units)))
			fetched++
		}

		fmt.Printf("Boundary fetch complete: %d fetched, %d already cached, %d failed\n",
			fetched, cached, failed)
		if failed > 0 {
			return eris.Errorf("boundaries fetch: %d of %d counties failed", failed, len(counties))
		}
		return nil
	},
}

var boundariesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached county snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("boundaries"); err != nil {
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

		snaps, err := st.ListCountySnapshots(ctx)
		if err != nil {
			return eris.Wrap(err, "boundaries: list snapshots")
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No cached counties.")
			return nil
		}
		formatSnapshots(os.Stdout, snaps)
		return nil
	},
}

func init() {
	boundariesFetchCmd.Flags().String("counties", "", "comma-separated county FIPS codes (required)")
	boundariesFetchCmd.Flags().String("geography", "", "unit granularity: tract, block_group or block")
	boundariesFetchCmd.Flags().Bool("refresh", false, "refetch counties already in the cache")
	_ = boundariesFetchCmd.MarkFlagRequired("counties")

	boundariesCmd.AddCommand(boundariesFetchCmd)
	boundariesCmd.AddCommand(boundariesStatusCmd)
	rootCmd.AddCommand(boundariesCmd)
}

// parseCounties splits and validates a comma-separated FIPS list.
func parseCounties(s string) ([]model.County, error) {
	parts := splitAndTrim(s)
	if len(parts) == 0 {
		return nil, eris.New("boundaries: no counties given")
	}
	counties := make([]model.County, 0, len(parts))
	for _, p := range parts {
		county := model.County(p)
		if err := county.Validate(); err != nil {
			return nil, err
		}
		counties = append(counties, county)
	}
	return counties, nil
}

// formatSnapshots writes a tabular view of the cached counties to out.
func formatSnapshots(out io.Writer, snaps []store.CountySnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTY\tGEOGRAPHY\tUNITS\tFETCHED")
	_, _ = fmt.Fprintln(w, "------\t---------\t-----\t-------")
	for _, s := range snaps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			s.County,
			s.Geography,
			s.Units,
			s.FetchedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
