package loop

import (
	"context"
	"errors"
	"testing"

	"falsifier/internal/model"
	"falsifier/internal/monitor"
	"falsifier/internal/sampler"
	"falsifier/internal/simulator"
)

func TestNewServerRejectsMissingSampler(t *testing.T) {
	if _, err := NewServer(nil, nil, DefaultConfig()); !errors.Is(err, ErrNoSampler) {
		t.Fatalf("expected ErrNoSampler, got %v", err)
	}
}

func TestNewServerRejectsSamplerWithoutScenario(t *testing.T) {
	_, err := NewServer(bareSampler{}, nil, DefaultConfig())
	if !errors.Is(err, ErrNotScenarioSampler) {
		t.Fatalf("expected ErrNotScenarioSampler, got %v", err)
	}
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error classification")
	}
}

func TestNewServerRejectsNegativeMaxSteps(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	if _, err := NewServer(s, nil, Config{MaxSteps: -1}, WithSimulator(&stubSimulator{})); err == nil {
		t.Fatal("expected error for negative max steps")
	}
}

func TestNewServerResolvesScenarioSimulator(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	if _, err := NewServer(s, nil, DefaultConfig()); !errors.Is(err, simulator.ErrSimulatorNotFound) {
		t.Fatalf("expected ErrSimulatorNotFound for unregistered simulator, got %v", err)
	}
}

func TestNewServerNormalizesConfig(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	server, err := NewServer(s, nil, Config{MaxIterations: 0, Verbosity: -3}, WithSimulator(&stubSimulator{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	cfg := server.Config()
	if cfg.MaxIterations != 1 || cfg.Verbosity != 0 {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
	if server.Draws() != 0 {
		t.Fatalf("construction must not draw, got %d draws", server.Draws())
	}
}

func TestRunRoundWithoutMonitorFeedsZero(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	server, err := NewServer(s, nil, DefaultConfig(), WithSimulator(&stubSimulator{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if !server.LastValue().IsNone() {
		t.Fatalf("expected no feedback before the first round, got %s", server.LastValue())
	}

	_, feedback, err := server.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if !feedback.Equal(model.Scalar(0)) || !server.LastValue().Equal(model.Scalar(0)) {
		t.Fatalf("expected scalar zero feedback, got %s", feedback)
	}
	if !s.feedbacks[0].IsNone() {
		t.Fatalf("first draw must receive no feedback, got %s", s.feedbacks[0])
	}
}

func TestRunRoundUsesMonitorValueExactly(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	sim := &stubSimulator{}
	calls := 0
	m := monitor.Func(func(traj model.Trajectory) (model.Feedback, error) {
		calls++
		return model.Vector(traj[0].Signals["y"]+0.25, -2), nil
	})
	server, err := NewServer(s, m, DefaultConfig(), WithSimulator(sim))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx := context.Background()
	for round := 0; round < 3; round++ {
		sample, feedback, err := server.RunRound(ctx)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		want := model.Vector(float64(round)+0.25, -2)
		if !feedback.Equal(want) {
			t.Fatalf("round %d: expected %s, got %s", round, want, feedback)
		}
		if sample.Index != round {
			t.Fatalf("round %d: unexpected sample index %d", round, sample.Index)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 monitor calls, got %d", calls)
	}
	// Each draw sees the feedback of the round before it.
	for i := 1; i < len(s.feedbacks); i++ {
		want := model.Vector(float64(i-1)+0.25, -2)
		if !s.feedbacks[i].Equal(want) {
			t.Fatalf("draw %d: expected feedback %s, got %s", i, want, s.feedbacks[i])
		}
	}
	if len(sim.scenes) != 3 || sim.scenes[2].SampleID != "draw-2" {
		t.Fatalf("unexpected simulated scenes: %+v", sim.scenes)
	}
}

func TestRunRoundCreationFailureFeedsRejection(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	m := monitor.Func(func(model.Trajectory) (model.Feedback, error) {
		t.Fatal("monitor must not run for a rejected round")
		return model.Feedback{}, nil
	})
	server, err := NewServer(s, m, DefaultConfig(), WithSimulator(&stubSimulator{create: true}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	sample, feedback, err := server.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if !feedback.Equal(model.Scalar(-1)) || !server.LastValue().Equal(model.Scalar(-1)) {
		t.Fatalf("expected rejection feedback -1, got %s", feedback)
	}
	if sample.ID != "draw-0" {
		t.Fatalf("expected the drawn sample back, got %s", sample.ID)
	}
	if !server.LastOutcome().Rejected {
		t.Fatal("expected rejected outcome")
	}
}

func TestRunRoundCreationFailureWithoutRejectionFeedback(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, `
name: plain
params:
  - name: x
    min: 0
    max: 1
simulator:
  name: stub-sim
`)}
	server, err := NewServer(s, nil, DefaultConfig(), WithSimulator(&stubSimulator{create: true}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	_, feedback, err := server.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if !feedback.IsNone() {
		t.Fatalf("expected no feedback, got %s", feedback)
	}
}

func TestRunRoundFailsWhenSamplerSetsNoScene(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML), noScene: true}
	sim := &stubSimulator{}
	server, err := NewServer(s, nil, DefaultConfig(), WithSimulator(sim))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, _, err := server.RunRound(context.Background()); !errors.Is(err, ErrNoScene) {
		t.Fatalf("expected ErrNoScene, got %v", err)
	}
	if len(sim.scenes) != 0 {
		t.Fatal("simulator must not run without a scene")
	}
	if !server.LastValue().IsNone() || server.Rounds() != 0 {
		t.Fatalf("failed round must not advance the loop: value=%s rounds=%d", server.LastValue(), server.Rounds())
	}
}

func TestRunRoundPropagatesSimulatorFault(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	server, err := NewServer(s, nil, DefaultConfig(), WithSimulator(&stubSimulator{err: errBrokenSimulator}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, _, err := server.RunRound(context.Background()); !errors.Is(err, errBrokenSimulator) {
		t.Fatalf("expected simulator fault, got %v", err)
	}
}

func TestRunRoundPropagatesMonitorFault(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	m := monitor.Func(func(model.Trajectory) (model.Feedback, error) {
		return model.Feedback{}, monitor.ErrEmptySignal
	})
	server, err := NewServer(s, m, DefaultConfig(), WithSimulator(&stubSimulator{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, _, err := server.RunRound(context.Background()); !errors.Is(err, monitor.ErrEmptySignal) {
		t.Fatalf("expected monitor fault, got %v", err)
	}
}

func TestRunRoundStopsOnCanceledContext(t *testing.T) {
	s := &countingSampler{sc: stubScenario(t, stubScenarioYAML)}
	server, err := NewServer(s, nil, DefaultConfig(), WithSimulator(&stubSimulator{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := server.RunRound(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if server.Draws() != 0 {
		t.Fatalf("canceled draw must not count, got %d", server.Draws())
	}
}

func TestServerRunsCartPoleScenario(t *testing.T) {
	sc := stubScenario(t, `
name: cartpole-smoke
seed: 11
params:
  - name: x0
    min: -0.5
    max: 0.5
  - name: kp
    min: 0.5
    max: 2
  - name: kd
    min: 0.1
    max: 1
simulator:
  name: cart-pole
  settings:
    steps: 20
monitor:
  name: signal-min
  signal: margin
external_sampler:
  kind: hillclimb
  rejection_feedback: -1
  step_size: 0.2
`)
	s, err := sampler.New(sc)
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	m, err := monitor.FromSpec(sc.Monitor)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	server, err := NewServer(s, m, Config{MaxSteps: 10, MaxIterations: 2})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	for round := 0; round < 5; round++ {
		_, feedback, err := server.RunRound(context.Background())
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if feedback.IsNone() {
			t.Fatalf("round %d: expected a score", round)
		}
		if steps := server.LastOutcome().Steps; steps > 10 {
			t.Fatalf("round %d: max steps not honored, got %d", round, steps)
		}
	}
	if s.Draws() != 5 || server.Draws() != 5 {
		t.Fatalf("expected 5 draws, sampler=%d server=%d", s.Draws(), server.Draws())
	}
}
