package falsifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const apiScenarioYAML = `
name: api-cartpole
seed: 5
params:
  - name: x0
    min: -1
    max: 1
  - name: kp
    min: 0.2
    max: 2
simulator:
  name: cart-pole
  settings:
    steps: 15
monitor:
  name: signal-min
  signal: margin
  threshold: 0.5
external_sampler:
  kind: hillclimb
  rejection_feedback: 1
`

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientRunRoundsAndExport(t *testing.T) {
	base := t.TempDir()
	scenarioPath := filepath.Join(base, "scenario.yaml")
	if err := os.WriteFile(scenarioPath, []byte(apiScenarioYAML), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	client := newTestClient(t, base)
	ctx := context.Background()

	summary, err := client.Run(ctx, RunRequest{
		RunID:        "api-1",
		ScenarioPath: scenarioPath,
		Workers:      2,
		Rounds:       3,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID != "api-1" || summary.Summary.Rounds != 6 || summary.Summary.Workers != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ArtifactsDir != filepath.Join(base, "runs", "api-1") {
		t.Fatalf("unexpected artifacts dir %s", summary.ArtifactsDir)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "api-1" || runs[0].Scenario != "api-cartpole" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	rounds, err := client.Rounds(ctx, RoundsRequest{Latest: true, Limit: 4})
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 4 {
		t.Fatalf("expected 4 rounds, got %d", len(rounds))
	}

	exported, err := client.Export(ctx, ExportRequest{RunID: "api-1"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{"summary.json", "rounds.jsonl", "scenario.yaml"} {
		if _, err := os.Stat(filepath.Join(exported.Directory, file)); err != nil {
			t.Fatalf("expected exported %s: %v", file, err)
		}
	}
}

func TestClientReadsRunsFromEarlierSession(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	first := newTestClient(t, base)
	if _, err := first.Run(ctx, RunRequest{RunID: "old", ScenarioYAML: []byte(apiScenarioYAML), Rounds: 2}); err != nil {
		t.Fatalf("run: %v", err)
	}

	second := newTestClient(t, base)
	runs, err := second.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "old" {
		t.Fatalf("expected run from index, got %+v", runs)
	}
	rounds, err := second.Rounds(ctx, RoundsRequest{RunID: "old"})
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("expected 2 rounds from artifacts, got %d", len(rounds))
	}
}

const apiRejectingScenarioYAML = `
name: api-offtrack
seed: 9
params:
  - name: x0
    min: 3
    max: 4
simulator:
  name: cart-pole
  settings:
    track: 1
monitor:
  name: signal-min
  signal: margin
external_sampler:
  kind: random
  rejection_feedback: 1
`

func TestClientRunsFromIndexWithoutBestScore(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	first := newTestClient(t, base)
	summary, err := first.Run(ctx, RunRequest{RunID: "offtrack", ScenarioYAML: []byte(apiRejectingScenarioYAML), Rounds: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Summary.Rejections != 3 || summary.Summary.BestFeedback != nil {
		t.Fatalf("expected an all-rejected run, got %+v", summary.Summary)
	}

	second := newTestClient(t, base)
	runs, err := second.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "offtrack" {
		t.Fatalf("expected run from index, got %+v", runs)
	}
	if runs[0].BestFeedback != nil {
		t.Fatalf("expected no best score, got %g", *runs[0].BestFeedback)
	}
}

func TestClientRequestValidation(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	ctx := context.Background()

	if _, err := client.Run(ctx, RunRequest{}); err == nil {
		t.Fatal("expected error without scenario")
	}
	if _, err := client.Rounds(ctx, RoundsRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected error for run id with latest")
	}
	if _, err := client.Rounds(ctx, RoundsRequest{Latest: true}); err == nil {
		t.Fatal("expected error with no runs")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id")
	}
	if _, err := client.Export(ctx, ExportRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}
