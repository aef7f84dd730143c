package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/pipeline"
	"github.com/sells-group/atlas-cli/pkg/notion"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish fused neighborhoods to Notion",
	Long: `Reads a fused neighborhood CSV and upserts one page per neighborhood into
the configured Notion database. Pages matched by title are updated in place.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("publish"); err != nil {
			return err
		}
		logger := zap.L().With(zap.String("command", "publish"))

		path, _ := cmd.Flags().GetString("csv")
		if path == "" {
			if geoFlag, _ := cmd.Flags().GetString("geography"); geoFlag != "" {
				cfg.Geo.Geography = geoFlag
			}
			geography, err := model.ParseGeography(cfg.Geo.Geography)
			if err != nil {
				return err
			}
			path = filepath.Join(cfg.Data.CSVDir, pipeline.CSVFileName(geography))
		}

		records, err := pipeline.ReadCSVRecords(path)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return eris.Errorf("publish: no records in %s", path)
		}
		logger.Info("publishing neighborhoods",
			zap.String("csv", path),
			zap.Int("records", len(records)))

		client := notion.NewClient(cfg.Notion.Token)
		result, err := notion.PublishNeighborhoods(ctx, client, cfg.Notion.NeighborhoodDB, records)
		if err != nil {
			return eris.Wrap(err, "publish")
		}

		fmt.Printf("Published %d neighborhoods (%d created, %d updated)\n",
			result.Created+result.Updated, result.Created, result.Updated)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("csv", "", "fused CSV to publish (default: <csv-dir>/<geography>_neighborhoods.csv)")
	publishCmd.Flags().String("geography", "", "geography of the default CSV: tract, block_group or block")
	rootCmd.AddCommand(publishCmd)
}
