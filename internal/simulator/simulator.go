package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"falsifier/internal/model"
)

// ErrCreation marks a scene that cannot be turned into a simulation. Callers
// treat it as a rejection of the drawn sample, not as a fault.
var ErrCreation = errors.New("cannot create simulation")

type CreationError struct {
	SampleID string
	Reason   string
}

func (e *CreationError) Error() string {
	if e.SampleID == "" {
		return fmt.Sprintf("%s: %s", ErrCreation, e.Reason)
	}
	return fmt.Sprintf("%s for sample %s: %s", ErrCreation, e.SampleID, e.Reason)
}

func (e *CreationError) Unwrap() error {
	return ErrCreation
}

type Options struct {
	// MaxSteps caps one simulation run; zero keeps the simulator default.
	MaxSteps      int
	Verbosity     int
	MaxIterations int
}

func (o Options) normalized() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 1
	}
	if o.MaxSteps < 0 {
		o.MaxSteps = 0
	}
	return o
}

func (o Options) stepLimit(defaultSteps int) int {
	if o.MaxSteps > 0 && o.MaxSteps < defaultSteps {
		return o.MaxSteps
	}
	return defaultSteps
}

type Simulator interface {
	Name() string
	Simulate(ctx context.Context, scene model.Scene, opts Options) (*model.SimulationResult, error)
}

// attemptFn runs one iteration of a simulation. A non-empty reject reason
// discards the iteration and lets the caller retry.
type attemptFn func(ctx context.Context, iteration int, rng *rand.Rand) (model.Trajectory, string, string, error)

// runIterations retries rejected iterations up to opts.MaxIterations and
// reports a CreationError once they are exhausted.
func runIterations(ctx context.Context, scene model.Scene, opts Options, attempt attemptFn) (*model.SimulationResult, error) {
	opts = opts.normalized()
	lastReason := ""
	for iteration := 0; iteration < opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewSource(scene.Seed + int64(iteration)*7919))
		trajectory, terminated, reject, err := attempt(ctx, iteration, rng)
		if err != nil {
			return nil, err
		}
		if reject != "" {
			lastReason = reject
			continue
		}
		steps := 0
		if len(trajectory) > 0 {
			steps = trajectory[len(trajectory)-1].Step + 1
		}
		return &model.SimulationResult{
			Trajectory: trajectory,
			Steps:      steps,
			Iterations: iteration + 1,
			Terminated: terminated,
		}, nil
	}
	return nil, &CreationError{
		SampleID: scene.SampleID,
		Reason:   fmt.Sprintf("rejected after %d iteration(s): %s", opts.MaxIterations, lastReason),
	}
}

func setting(settings map[string]float64, name string, fallback float64) float64 {
	if v, ok := settings[name]; ok {
		return v
	}
	return fallback
}
