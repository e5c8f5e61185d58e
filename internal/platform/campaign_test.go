package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"falsifier/internal/loop"
	"falsifier/internal/model"
	"falsifier/internal/monitor"
	"falsifier/internal/scenario"
	"falsifier/internal/simulator"
	"falsifier/internal/storage"
)

const campaignScenarioYAML = `
name: campaign
seed: 3
params:
  - name: x
    min: -1
    max: 1
simulator:
  name: echo
monitor:
  name: signal-min
  signal: x
external_sampler:
  kind: random
  rejection_feedback: -5
`

// echoSimulator reports the scene's x param as a one-state trajectory and
// rejects scenes whose x is above reject.
type echoSimulator struct {
	reject float64
	err    error
}

func (echoSimulator) Name() string { return "echo" }

func (s echoSimulator) Simulate(_ context.Context, scene model.Scene, _ simulator.Options) (*model.SimulationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	x := scene.Param("x", 0)
	if x > s.reject {
		return nil, &simulator.CreationError{SampleID: scene.SampleID, Reason: "x above limit"}
	}
	return &model.SimulationResult{
		Trajectory: model.Trajectory{{Step: 0, Signals: map[string]float64{"x": x}}},
		Steps:      1,
		Iterations: 1,
		Terminated: "max_steps",
	}, nil
}

func echoFactory(sim echoSimulator) func() (simulator.Simulator, error) {
	return func() (simulator.Simulator, error) {
		return sim, nil
	}
}

func campaignScenario(t *testing.T) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Parse([]byte(campaignScenarioYAML))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return sc
}

func fixedNow() time.Time {
	return time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
}

func TestCampaignSequentialPersistsRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}

	c, err := NewCampaign(CampaignConfig{
		RunID:        "seq-1",
		Scenario:     campaignScenario(t),
		Rounds:       6,
		Loop:         loop.DefaultConfig(),
		NewSimulator: echoFactory(echoSimulator{reject: 2}),
		Store:        store,
		Now:          fixedNow,
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	result, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(result.Records))
	}
	for i, record := range result.Records {
		if record.Round != i || record.Worker != 0 || record.Sample.Index != i {
			t.Fatalf("record %d out of order: %+v", i, record)
		}
		x := record.Sample.Params["x"]
		if !record.Feedback.Equal(model.Scalar(x)) {
			t.Fatalf("record %d: expected feedback %g, got %s", i, x, record.Feedback)
		}
		if record.Falsified != (x < 0) {
			t.Fatalf("record %d: falsified=%t for x=%g", i, record.Falsified, x)
		}
	}

	summary := result.Summary
	if summary.RunID != "seq-1" || summary.Scenario != "campaign" || summary.Workers != 1 || summary.RoundsPerWorker != 6 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.StopReason != StopReasonCompleted || !summary.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected stop reason or time: %+v", summary)
	}

	stored, ok, err := store.GetRun(ctx, "seq-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if stored.Rounds != 6 {
		t.Fatalf("expected stored rounds 6, got %d", stored.Rounds)
	}
	rounds, ok, err := store.GetRounds(ctx, "seq-1")
	if err != nil || !ok || len(rounds) != 6 {
		t.Fatalf("get rounds: ok=%t err=%v n=%d", ok, err, len(rounds))
	}
}

func TestCampaignLockstepWorkersSplitSequence(t *testing.T) {
	const workers = 3
	c, err := NewCampaign(CampaignConfig{
		Scenario:     campaignScenario(t),
		Workers:      workers,
		Rounds:       2,
		NewSimulator: echoFactory(echoSimulator{reject: 2}),
		Now:          fixedNow,
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	if c.RunID() == "" {
		t.Fatal("expected generated run id")
	}
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Records) != workers*2 {
		t.Fatalf("expected %d records, got %d", workers*2, len(result.Records))
	}
	for _, record := range result.Records {
		// Worker k simulates draw k + (m+1)*N - 1 in its m-th round.
		want := record.Worker + (record.Round+1)*workers - 1
		if record.Sample.Index != want {
			t.Fatalf("worker %d round %d: expected draw %d, got %d", record.Worker, record.Round, want, record.Sample.Index)
		}
		if record.Sample.ID != fmt.Sprintf("campaign-%06d", want) {
			t.Fatalf("unexpected sample id %s", record.Sample.ID)
		}
	}
}

func TestCampaignRejectedRoundsUseRejectionFeedback(t *testing.T) {
	c, err := NewCampaign(CampaignConfig{
		Scenario:     campaignScenario(t),
		Rounds:       5,
		NewSimulator: echoFactory(echoSimulator{reject: -2}),
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, record := range result.Records {
		if !record.Rejected || record.Falsified || !record.Feedback.Equal(model.Scalar(-5)) {
			t.Fatalf("expected rejected round with feedback -5, got %+v", record)
		}
	}
	if result.Summary.Rejections != 5 || result.Summary.Falsified != 0 || result.Summary.BestFeedback != nil {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
}

func TestCampaignStopsOnFalsified(t *testing.T) {
	always := monitor.Func(func(model.Trajectory) (model.Feedback, error) {
		return model.Scalar(-1), nil
	})
	c, err := NewCampaign(CampaignConfig{
		Scenario:        campaignScenario(t),
		Rounds:          10,
		NewMonitor:      func() (monitor.Monitor, error) { return always, nil },
		StopOnFalsified: true,
		NewSimulator:    echoFactory(echoSimulator{reject: 2}),
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Records) != 1 || result.Summary.StopReason != StopReasonFalsified {
		t.Fatalf("expected a single falsifying round, got %d records reason=%s", len(result.Records), result.Summary.StopReason)
	}
}

// countingMonitor is deliberately unsynchronized. Sharing one across workers
// shows up under the race detector.
type countingMonitor struct {
	calls int
}

func (m *countingMonitor) Evaluate(trajectory model.Trajectory) (model.Feedback, error) {
	m.calls++
	return monitor.SignalMin{Signal: "x"}.Evaluate(trajectory)
}

func TestCampaignBuildsMonitorPerWorker(t *testing.T) {
	const (
		workers = 4
		rounds  = 50
	)
	var (
		mu       sync.Mutex
		monitors []*countingMonitor
	)
	c, err := NewCampaign(CampaignConfig{
		Scenario:     campaignScenario(t),
		Workers:      workers,
		Rounds:       rounds,
		NewSimulator: echoFactory(echoSimulator{reject: 2}),
		NewMonitor: func() (monitor.Monitor, error) {
			m := &countingMonitor{}
			mu.Lock()
			monitors = append(monitors, m)
			mu.Unlock()
			return m, nil
		},
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Records) != workers*rounds {
		t.Fatalf("expected %d records, got %d", workers*rounds, len(result.Records))
	}
	if len(monitors) != workers {
		t.Fatalf("expected %d monitors, got %d", workers, len(monitors))
	}
	for i, m := range monitors {
		if m.calls != rounds {
			t.Fatalf("monitor %d: expected %d evaluations, got %d", i, rounds, m.calls)
		}
	}
}

func TestCampaignMonitorFactoryError(t *testing.T) {
	boom := errors.New("no monitor")
	c, err := NewCampaign(CampaignConfig{
		Scenario:     campaignScenario(t),
		Workers:      2,
		Rounds:       1,
		NewSimulator: echoFactory(echoSimulator{reject: 2}),
		NewMonitor:   func() (monitor.Monitor, error) { return nil, boom },
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected monitor factory error, got %v", err)
	}
}

func TestCampaignPropagatesSimulatorFault(t *testing.T) {
	boom := errors.New("simulator crashed")
	c, err := NewCampaign(CampaignConfig{
		Scenario:     campaignScenario(t),
		Workers:      2,
		Rounds:       3,
		NewSimulator: echoFactory(echoSimulator{reject: 2, err: boom}),
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected simulator fault, got %v", err)
	}
}

func TestCampaignWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(t.TempDir(), "campaign.yaml")
	if err := os.WriteFile(scenarioPath, []byte(campaignScenarioYAML), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}

	c, err := NewCampaign(CampaignConfig{
		RunID:        "art-1",
		ScenarioPath: scenarioPath,
		Workers:      2,
		Rounds:       2,
		NewSimulator: echoFactory(echoSimulator{reject: 2}),
		ArtifactsDir: dir,
	})
	if err != nil {
		t.Fatalf("new campaign: %v", err)
	}
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ArtifactsDir != filepath.Join(dir, "art-1") {
		t.Fatalf("unexpected artifacts dir %s", result.ArtifactsDir)
	}
	for _, file := range []string{"summary.json", "rounds.jsonl", "scenario.yaml"} {
		if _, err := os.Stat(filepath.Join(result.ArtifactsDir, file)); err != nil {
			t.Fatalf("expected %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "run_index.json")); err != nil {
		t.Fatalf("expected run index: %v", err)
	}
}

func TestNewCampaignValidatesConfig(t *testing.T) {
	if _, err := NewCampaign(CampaignConfig{Scenario: campaignScenario(t)}); err == nil {
		t.Fatal("expected error for zero rounds")
	}
	if _, err := NewCampaign(CampaignConfig{Rounds: 1}); err == nil {
		t.Fatal("expected error without scenario")
	}
	if _, err := NewCampaign(CampaignConfig{Rounds: 1, ScenarioPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected error for missing scenario file")
	}
}
