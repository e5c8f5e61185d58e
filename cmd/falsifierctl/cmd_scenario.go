package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"falsifier/internal/monitor"
	"falsifier/internal/scenario"
	"falsifier/internal/simulator"
)

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Inspect scenario files",
	}
	cmd.AddCommand(newScenarioValidateCmd(), newScenarioSimulatorsCmd())
	return cmd
}

func newScenarioValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Check that scenarios parse and name a known simulator and monitor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			type result struct {
				Path      string `json:"path"`
				Name      string `json:"name,omitempty"`
				Simulator string `json:"simulator,omitempty"`
				Params    int    `json:"params,omitempty"`
				Error     string `json:"error,omitempty"`
			}
			results := make([]result, 0, len(args))
			failed := 0
			for _, path := range args {
				r := result{Path: path}
				sc, err := validateScenario(path)
				if err != nil {
					r.Error = err.Error()
					failed++
				} else {
					r.Name = sc.Name
					r.Simulator = simulator.Normalize(sc.Simulator.Name)
					r.Params = len(sc.Params)
				}
				results = append(results, r)
			}

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %s\n", r.Path, r.Error)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ok   %s name=%s simulator=%s params=%d\n", r.Path, r.Name, r.Simulator, r.Params)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateScenario(path string) (*scenario.Scenario, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	if _, err := simulator.Resolve(sc.Simulator); err != nil {
		return nil, err
	}
	if _, err := monitor.FromSpec(sc.Monitor); err != nil {
		return nil, err
	}
	return sc, nil
}

func newScenarioSimulatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulators",
		Short: "List registered simulators",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := simulator.Names()
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			return nil
		},
	}
}
