package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded fusion runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
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

		status, _ := cmd.Flags().GetString("status")
		geography, _ := cmd.Flags().GetString("geography")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:    model.RunStatus(status),
			Geography: model.Geography(geography),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs: list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
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

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "runs: get %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var runsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List counties whose unit fetch exhausted its retries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
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

		limit, _ := cmd.Flags().GetInt("limit")
		failures, err := st.ListFetchFailures(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs: list fetch failures")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No fetch failures recorded.")
			return nil
		}
		formatFetchFailures(os.Stdout, failures)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status: running, complete or failed")
	runsListCmd.Flags().String("geography", "", "filter by geography: tract, block_group or block")
	runsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsFailuresCmd.Flags().Int("limit", 50, "maximum failures to list")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsFailuresCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tGEOGRAPHY\tSTATUS\tHOODS\tUNITS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---------\t------\t-----\t-----\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Geography,
			r.Status,
			r.Neighborhoods,
			r.Units,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur)
	}
	_ = w.Flush()
}

// formatFetchFailures writes the dead-letter view of failed county fetches.
func formatFetchFailures(out io.Writer, failures []model.FetchFailure) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTY\tGEOGRAPHY\tATTEMPTS\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "------\t---------\t--------\t------\t-----")

	for _, f := range failures {
		msg := f.LastError
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			f.County,
			f.Geography,
			f.Attempts,
			f.FailedAt.Format("2006-01-02 15:04"),
			msg)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
