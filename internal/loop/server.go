// Package loop runs the sample, simulate and score cycle that feeds each
// round's score back into the next draw.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"falsifier/internal/logging"
	"falsifier/internal/model"
	"falsifier/internal/monitor"
	"falsifier/internal/sampler"
	"falsifier/internal/simulator"
)

// Outcome describes how the most recent round ended.
type Outcome struct {
	Rejected   bool
	Steps      int
	Iterations int
	Terminated string
	Duration   time.Duration
}

// Server is the sequential feedback loop. It is not safe for concurrent use;
// rounds run one after another.
type Server struct {
	sampler           sampler.ScenarioSampler
	simulator         simulator.Simulator
	monitor           monitor.Monitor
	cfg               Config
	rejectionFeedback model.Feedback
	logger            *slog.Logger
	variant           string
	worker            int

	lastValue   model.Feedback
	lastOutcome Outcome
	draws       int
	rounds      int
}

// drawFn draws the sample a round will simulate and returns the scene the
// sampler materialized for it.
type drawFn func(ctx context.Context, last model.Feedback) (model.Sample, *model.Scene, error)

// NewServer builds a sequential loop over a scenario-backed sampler. The
// simulator comes from the scenario unless WithSimulator is given.
func NewServer(s sampler.Sampler, m monitor.Monitor, cfg Config, opts ...Option) (*Server, error) {
	if s == nil {
		return nil, ErrNoSampler
	}
	backed, ok := s.(sampler.ScenarioSampler)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotScenarioSampler, s)
	}
	sc := backed.Scenario()
	if sc == nil {
		return nil, fmt.Errorf("%w: sampler has no scenario", ErrNotScenarioSampler)
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	o := options{variant: variantSequential}
	for _, opt := range opts {
		opt(&o)
	}
	sim := o.simulator
	if sim == nil {
		sim, err = simulator.Resolve(sc.Simulator)
		if err != nil {
			return nil, err
		}
	}

	logger := logging.OrDiscard(o.logger).With("scenario", sc.Name, "variant", o.variant)
	if o.variant == variantLockstep {
		logger = logger.With("worker", o.worker)
	}

	return &Server{
		sampler:           backed,
		simulator:         sim,
		monitor:           m,
		cfg:               cfg,
		rejectionFeedback: sc.RejectionFeedback(),
		logger:            logger,
		variant:           o.variant,
		worker:            o.worker,
		lastValue:         model.NoFeedback(),
	}, nil
}

// RunRound draws one sample, simulates its scene and turns the outcome into
// the feedback for the next draw.
func (s *Server) RunRound(ctx context.Context) (model.Sample, model.Feedback, error) {
	return s.step(ctx, s.drawOne)
}

// LastValue is the feedback the next round will pass to the sampler.
func (s *Server) LastValue() model.Feedback {
	return s.lastValue
}

// LastOutcome describes the most recent successful round.
func (s *Server) LastOutcome() Outcome {
	return s.lastOutcome
}

// Draws counts the samples this loop has pulled from its sampler.
func (s *Server) Draws() int {
	return s.draws
}

func (s *Server) Rounds() int {
	return s.rounds
}

func (s *Server) Config() Config {
	return s.cfg
}

// Terminate releases nothing; the loop holds no external resources.
func (s *Server) Terminate() {}

func (s *Server) drawOne(ctx context.Context, last model.Feedback) (model.Sample, *model.Scene, error) {
	sample, err := s.next(ctx, last)
	if err != nil {
		return model.Sample{}, nil, err
	}
	return sample, s.sampler.LastScene(), nil
}

func (s *Server) next(ctx context.Context, last model.Feedback) (model.Sample, error) {
	sample, err := s.sampler.NextSample(ctx, last)
	if err != nil {
		return model.Sample{}, fmt.Errorf("draw sample %d: %w", s.draws, err)
	}
	s.draws++
	drawsTotal.WithLabelValues(s.variant).Inc()
	s.logger.Log(ctx, logging.LevelTrace, "drew sample", "sample", sample.ID, "feedback", last.String())
	return sample, nil
}

// step is the round body shared by every loop variant; only the draw
// strategy differs.
func (s *Server) step(ctx context.Context, draw drawFn) (model.Sample, model.Feedback, error) {
	ctx, span := tracer.Start(ctx, "loop.round", trace.WithAttributes(
		attribute.String("variant", s.variant),
		attribute.Int("worker", s.worker),
		attribute.Int("round", s.rounds),
	))
	defer span.End()

	fail := func(err error) (model.Sample, model.Feedback, error) {
		roundsTotal.WithLabelValues(s.variant, outcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.Sample{}, model.Feedback{}, err
	}

	start := time.Now()
	sample, scene, err := draw(ctx, s.lastValue)
	if err != nil {
		return fail(err)
	}
	if scene == nil {
		return fail(fmt.Errorf("%w: after drawing %s", ErrNoScene, sample.ID))
	}

	result, err := s.simulateOnce(ctx, *scene)
	if err != nil {
		return fail(err)
	}

	var next model.Feedback
	outcome := Outcome{}
	switch {
	case result == nil:
		next = s.rejectionFeedback
		outcome.Rejected = true
	case s.monitor == nil:
		next = model.Scalar(0)
	default:
		next, err = s.monitor.Evaluate(result.Trajectory)
		if err != nil {
			return fail(fmt.Errorf("evaluate trajectory of %s: %w", sample.ID, err))
		}
	}
	if result != nil {
		outcome.Steps = result.Steps
		outcome.Iterations = result.Iterations
		outcome.Terminated = result.Terminated
	}
	outcome.Duration = time.Since(start)

	s.lastValue = next
	s.lastOutcome = outcome
	s.rounds++

	label := outcomeSimulated
	if outcome.Rejected {
		label = outcomeRejected
	}
	roundsTotal.WithLabelValues(s.variant, label).Inc()
	span.SetAttributes(
		attribute.String("sample", sample.ID),
		attribute.String("outcome", label),
		attribute.String("feedback", next.String()),
	)
	s.logger.Debug("round complete", "round", s.rounds, "sample", sample.ID, "outcome", label, "feedback", next.String())
	return sample, next, nil
}
