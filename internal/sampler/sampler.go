package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"falsifier/internal/model"
	"falsifier/internal/scenario"
)

// Sampler is a stateful oracle over a sample space. NextSample advances the
// draw sequence and materializes the drawn sample as LastScene.
type Sampler interface {
	NextSample(ctx context.Context, feedback model.Feedback) (model.Sample, error)
	LastScene() *model.Scene
	Space() scenario.Space
}

// ScenarioSampler is a sampler backed by a scenario description.
type ScenarioSampler interface {
	Sampler
	Scenario() *scenario.Scenario
}

// Source builds a fresh sampler. Every sampler built by one source replays
// the same draw sequence for the same feedback history.
type Source func() (Sampler, error)

func FileSource(path string) Source {
	return func() (Sampler, error) {
		return FromFile(path)
	}
}

func StaticSource(sc *scenario.Scenario) Source {
	return func() (Sampler, error) {
		return New(sc)
	}
}

type ScenarioBacked struct {
	scenario *scenario.Scenario
	space    scenario.Space

	mu        sync.Mutex
	rng       *rand.Rand
	strategy  strategy
	draws     int
	lastScene *model.Scene
}

func FromFile(path string) (*ScenarioBacked, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	return New(sc)
}

func New(sc *scenario.Scenario) (*ScenarioBacked, error) {
	if sc == nil {
		return nil, errors.New("scenario is required")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	st, err := newStrategy(sc.ExternalSampler)
	if err != nil {
		return nil, err
	}
	return &ScenarioBacked{
		scenario: sc,
		space:    sc.Space(),
		rng:      rand.New(rand.NewSource(sc.Seed)),
		strategy: st,
	}, nil
}

func (s *ScenarioBacked) NextSample(ctx context.Context, feedback model.Feedback) (model.Sample, error) {
	if err := ctx.Err(); err != nil {
		return model.Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	params := s.strategy.next(s.rng, s.space, feedback)
	index := s.draws
	s.draws++

	id := fmt.Sprintf("%s-%06d", s.scenario.Name, index)
	sample := model.NewSample(id, index, params)
	s.lastScene = &model.Scene{
		SampleID: id,
		Scenario: s.scenario.Name,
		Params:   sample.Clone().Params,
		Seed:     sceneSeed(s.scenario.Seed, index),
	}
	return sample, nil
}

func (s *ScenarioBacked) LastScene() *model.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastScene == nil {
		return nil
	}
	scene := s.lastScene.Clone()
	return &scene
}

func (s *ScenarioBacked) Space() scenario.Space {
	return s.space
}

func (s *ScenarioBacked) Scenario() *scenario.Scenario {
	return s.scenario
}

// Draws reports how many samples have been drawn so far.
func (s *ScenarioBacked) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draws
}

func sceneSeed(seed int64, index int) int64 {
	return seed*1_000_003 + int64(index)
}
