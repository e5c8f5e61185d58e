package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"falsifier/internal/model"
	"falsifier/pkg/falsifier"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			client, err := s.client()
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := client.Runs(cmd.Context(), falsifier.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if s.jsonOut {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSCENARIO\tWORKERS\tROUNDS\tFALSIFIED\tBEST\tCREATED")
			for _, item := range items {
				best := "-"
				if item.BestFeedback != nil {
					best = humanize.FtoaWithDigits(*item.BestFeedback, 4)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					item.RunID,
					item.Scenario,
					item.Workers,
					humanize.Comma(int64(item.Rounds)),
					humanize.Comma(int64(item.Falsified)),
					best,
					createdAgo(item.CreatedAtUTC),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "maximum runs to list")
	return cmd
}

func newRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "Show the rounds of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			runID, _ := flags.GetString("run-id")
			latest, _ := flags.GetBool("latest")
			limit, _ := flags.GetInt("limit")
			falsifiedOnly, _ := flags.GetBool("falsified")

			client, err := s.client()
			if err != nil {
				return err
			}
			defer client.Close()

			records, err := client.Rounds(cmd.Context(), falsifier.RoundsRequest{
				RunID:         runID,
				Latest:        latest,
				Limit:         limit,
				FalsifiedOnly: falsifiedOnly,
			})
			if err != nil {
				return err
			}
			if s.jsonOut {
				return writeJSON(cmd.OutOrStdout(), records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKER\tROUND\tSAMPLE\tFEEDBACK\tSTATUS\tTOOK")
			for _, record := range records {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
					record.Worker,
					record.Round,
					record.Sample.ID,
					record.Feedback,
					roundStatus(record),
					record.Duration.Round(time.Microsecond),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("run-id", "", "run id")
	cmd.Flags().Bool("latest", false, "use the most recent run")
	cmd.Flags().Int("limit", 0, "maximum rounds to show (0 shows all)")
	cmd.Flags().Bool("falsified", false, "show only counterexamples")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to an output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			runID, _ := flags.GetString("run-id")
			latest, _ := flags.GetBool("latest")
			outDir, _ := flags.GetString("out")

			client, err := s.client()
			if err != nil {
				return err
			}
			defer client.Close()

			exported, err := client.Export(cmd.Context(), falsifier.ExportRequest{
				RunID:  runID,
				Latest: latest,
				OutDir: outDir,
			})
			if err != nil {
				return err
			}
			if s.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"run_id":    exported.RunID,
					"directory": exported.Directory,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "run id")
	cmd.Flags().Bool("latest", false, "export the most recent run")
	cmd.Flags().String("out", "", "output directory (default ./exports)")
	return cmd
}

func roundStatus(record model.RoundRecord) string {
	switch {
	case record.Rejected:
		return "rejected"
	case record.Falsified:
		return "FALSIFIED"
	default:
		return "ok"
	}
}

func createdAgo(createdAtUTC string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000000000Z"} {
		if t, err := time.Parse(layout, createdAtUTC); err == nil {
			return humanize.Time(t)
		}
	}
	return createdAtUTC
}
