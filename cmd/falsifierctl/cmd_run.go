package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"falsifier/pkg/falsifier"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario.yaml]",
		Short: "Run a falsification campaign against a scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()

			scenarioPath, _ := flags.GetString("scenario")
			if len(args) == 1 {
				if scenarioPath != "" {
					return fmt.Errorf("use either a positional scenario or --scenario")
				}
				scenarioPath = args[0]
			}
			if scenarioPath == "" {
				return fmt.Errorf("a scenario file is required")
			}

			run := s.cfg.Run
			intFlags := map[string]*int{
				"workers":        &run.Workers,
				"rounds":         &run.Rounds,
				"max-steps":      &run.MaxSteps,
				"max-iterations": &run.MaxIterations,
				"verbosity":      &run.Verbosity,
			}
			for name, dst := range intFlags {
				if flags.Changed(name) {
					*dst, _ = flags.GetInt(name)
				}
			}
			if flags.Changed("falsify-below") {
				run.FalsifyBelow, _ = flags.GetFloat64("falsify-below")
			}
			if flags.Changed("stop-on-falsified") {
				run.StopOnFalsified, _ = flags.GetBool("stop-on-falsified")
			}
			if run.Workers < 1 || run.Rounds < 1 {
				return fmt.Errorf("workers and rounds must be >= 1")
			}

			metricsAddr := s.cfg.Metrics.Addr
			if flags.Changed("metrics-addr") {
				metricsAddr, _ = flags.GetString("metrics-addr")
			}
			if metricsAddr != "" {
				shutdown, addr, err := startMetricsServer(metricsAddr, s.logger)
				if err != nil {
					return err
				}
				s.logger.Info("serving metrics", "addr", addr)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = shutdown(ctx)
				}()
			}

			client, err := s.client()
			if err != nil {
				return err
			}
			defer client.Close()

			runID, _ := flags.GetString("run-id")
			summary, err := client.Run(cmd.Context(), falsifier.RunRequest{
				RunID:           runID,
				ScenarioPath:    scenarioPath,
				Workers:         run.Workers,
				Rounds:          run.Rounds,
				MaxSteps:        run.MaxSteps,
				MaxIterations:   run.MaxIterations,
				Verbosity:       run.Verbosity,
				FalsifyBelow:    run.FalsifyBelow,
				StopOnFalsified: run.StopOnFalsified,
			})
			if err != nil {
				return err
			}

			if s.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run_id":        summary.RunID,
					"artifacts_dir": summary.ArtifactsDir,
					"summary":       summary.Summary,
				})
			}

			out := cmd.OutOrStdout()
			sum := summary.Summary
			fmt.Fprintf(out, "run_id=%s scenario=%s workers=%d\n", sum.RunID, sum.Scenario, sum.Workers)
			fmt.Fprintf(out, "rounds=%s rejected=%s falsified=%s stop=%s\n",
				humanize.Comma(int64(sum.Rounds)),
				humanize.Comma(int64(sum.Rejections)),
				humanize.Comma(int64(sum.Falsified)),
				sum.StopReason,
			)
			if sum.BestFeedback != nil {
				fmt.Fprintf(out, "best=%s sample=%s\n", humanize.FtoaWithDigits(*sum.BestFeedback, 4), sum.BestSampleID)
			}
			if summary.ArtifactsDir != "" {
				fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
			}
			return nil
		},
	}

	cmd.Flags().String("scenario", "", "scenario file")
	cmd.Flags().String("run-id", "", "run id (default: generated)")
	cmd.Flags().Int("workers", 1, "lockstep workers")
	cmd.Flags().Int("rounds", 50, "rounds per worker")
	cmd.Flags().Int("max-steps", 0, "cap on simulation steps (0 keeps the simulator default)")
	cmd.Flags().Int("max-iterations", 1, "simulation attempts per round before rejecting")
	cmd.Flags().Int("verbosity", 0, "simulation diagnostics verbosity")
	cmd.Flags().Float64("falsify-below", 0, "score under which a round is a counterexample")
	cmd.Flags().Bool("stop-on-falsified", false, "stop after the first counterexample")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func startMetricsServer(addr string, logger *slog.Logger) (func(context.Context) error, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv.Shutdown, ln.Addr().String(), nil
}
