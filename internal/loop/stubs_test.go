package loop

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"falsifier/internal/model"
	"falsifier/internal/scenario"
	"falsifier/internal/simulator"
)

const stubScenarioYAML = `
name: stub
seed: 7
params:
  - name: x
    min: 0
    max: 1
simulator:
  name: stub-sim
external_sampler:
  kind: random
  rejection_feedback: -1
`

func stubScenario(t *testing.T, doc string) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return sc
}

// countingSampler hands out sequential samples and records the feedback it
// was given on every draw.
type countingSampler struct {
	sc        *scenario.Scenario
	draws     int
	feedbacks []model.Feedback
	noScene   bool
	lastScene *model.Scene
}

func (s *countingSampler) NextSample(ctx context.Context, feedback model.Feedback) (model.Sample, error) {
	if err := ctx.Err(); err != nil {
		return model.Sample{}, err
	}
	index := s.draws
	s.draws++
	s.feedbacks = append(s.feedbacks, feedback)
	id := fmt.Sprintf("draw-%d", index)
	sample := model.NewSample(id, index, map[string]float64{"x": float64(index)})
	if !s.noScene {
		s.lastScene = &model.Scene{SampleID: id, Scenario: s.sc.Name, Params: sample.Clone().Params, Seed: int64(index)}
	}
	return sample, nil
}

func (s *countingSampler) LastScene() *model.Scene {
	return s.lastScene
}

func (s *countingSampler) Space() scenario.Space {
	return s.sc.Space()
}

func (s *countingSampler) Scenario() *scenario.Scenario {
	return s.sc
}

// bareSampler satisfies Sampler without exposing a scenario.
type bareSampler struct{}

func (bareSampler) NextSample(context.Context, model.Feedback) (model.Sample, error) {
	return model.Sample{}, nil
}
func (bareSampler) LastScene() *model.Scene { return nil }
func (bareSampler) Space() scenario.Space { return scenario.Space{} }

type stubSimulator struct {
	scenes     []model.Scene
	trajectory model.Trajectory
	create     bool
	err        error
}

func (s *stubSimulator) Name() string { return "stub-sim" }

func (s *stubSimulator) Simulate(_ context.Context, scene model.Scene, opts simulator.Options) (*model.SimulationResult, error) {
	s.scenes = append(s.scenes, scene)
	if s.err != nil {
		return nil, s.err
	}
	if s.create {
		return nil, &simulator.CreationError{SampleID: scene.SampleID, Reason: "stub refuses"}
	}
	traj := s.trajectory
	if traj == nil {
		traj = model.Trajectory{{Step: 0, Signals: map[string]float64{"y": scene.Param("x", 0)}}}
	}
	return &model.SimulationResult{Trajectory: traj, Steps: len(traj), Iterations: 1, Terminated: "max_steps"}, nil
}

var errBrokenSimulator = errors.New("broken simulator")
