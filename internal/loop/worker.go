package loop

import (
	"context"
	"errors"
	"fmt"

	"falsifier/internal/model"
	"falsifier/internal/monitor"
	"falsifier/internal/sampler"
)

type WorkerConfig struct {
	Number int
	Total  int
	Source sampler.Source
}

// Worker is one of Total loops sharing a single logical draw sequence. Each
// worker replays the sequence with its own sampler, starts Number draws in,
// and simulates every Total-th draw. Feedback stays local to the worker.
type Worker struct {
	server *Server
	number int
	total  int
}

// NewWorker builds worker Number of Total from a fresh sampler and advances
// it Number draws so that the workers interleave over one draw sequence.
func NewWorker(ctx context.Context, wc WorkerConfig, m monitor.Monitor, cfg Config, opts ...Option) (*Worker, error) {
	if wc.Total < 1 {
		return nil, fmt.Errorf("%w: total workers must be >= 1, got %d", ErrInvalidWorker, wc.Total)
	}
	if wc.Number < 0 || wc.Number >= wc.Total {
		return nil, fmt.Errorf("%w: worker number %d outside [0, %d)", ErrInvalidWorker, wc.Number, wc.Total)
	}
	if wc.Source == nil {
		return nil, fmt.Errorf("%w: worker %d has no sampler source", ErrNoSampler, wc.Number)
	}
	s, err := wc.Source()
	if err != nil {
		return nil, fmt.Errorf("build sampler for worker %d: %w", wc.Number, err)
	}
	if s == nil {
		return nil, ErrNoSampler
	}

	server, err := NewServer(s, m, cfg, append(opts, withWorker(wc.Number))...)
	if err != nil {
		return nil, err
	}
	w := &Worker{server: server, number: wc.Number, total: wc.Total}
	server.logger.Debug("worker sampler ready", "sampler", fmt.Sprintf("%T", s), "total", wc.Total)

	for i := 0; i < wc.Number; i++ {
		if _, err := server.next(ctx, server.lastValue); err != nil {
			return nil, fmt.Errorf("catch-up draw %d of worker %d: %w", i, wc.Number, err)
		}
	}
	return w, nil
}

// RunRound draws Total samples with the same feedback and simulates only
// the last of them.
func (w *Worker) RunRound(ctx context.Context) (model.Sample, model.Feedback, error) {
	return w.server.step(ctx, w.drawLockstep)
}

func (w *Worker) drawLockstep(ctx context.Context, last model.Feedback) (model.Sample, *model.Scene, error) {
	var sample model.Sample
	for i := 0; i < w.total; i++ {
		var err error
		sample, err = w.server.next(ctx, last)
		if err != nil {
			return model.Sample{}, nil, err
		}
	}
	return sample, w.server.sampler.LastScene(), nil
}

// Number is the worker's position in [0, Total).
func (w *Worker) Number() int {
	return w.number
}

func (w *Worker) Total() int {
	return w.total
}

func (w *Worker) LastValue() model.Feedback {
	return w.server.LastValue()
}

func (w *Worker) LastOutcome() Outcome {
	return w.server.LastOutcome()
}

// Draws counts every sample drawn, including catch-up draws.
func (w *Worker) Draws() int {
	return w.server.Draws()
}

func (w *Worker) Rounds() int {
	return w.server.Rounds()
}

func (w *Worker) Terminate() {
	w.server.Terminate()
}

// Looper is the round-by-round contract shared by Server and Worker.
type Looper interface {
	RunRound(ctx context.Context) (model.Sample, model.Feedback, error)
	LastOutcome() Outcome
	Terminate()
}

var (
	_ Looper = (*Server)(nil)
	_ Looper = (*Worker)(nil)
)

// IsConfigurationError reports whether err stopped a loop from being built.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNoSampler) || errors.Is(err, ErrNotScenarioSampler) || errors.Is(err, ErrInvalidWorker)
}
