package sampler

import (
	"fmt"
	"math"
	"math/rand"

	"falsifier/internal/model"
	"falsifier/internal/scenario"
)

const (
	defaultStepSize  = 0.1
	defaultAnnealing = 1.0
)

type strategy interface {
	next(r *rand.Rand, space scenario.Space, feedback model.Feedback) map[string]float64
}

func newStrategy(ext *scenario.ExternalSampler) (strategy, error) {
	if ext == nil {
		return priorStrategy{}, nil
	}
	switch scenario.NormalizeSamplerKind(ext.Kind) {
	case scenario.ExternalSamplerRandom:
		return priorStrategy{}, nil
	case scenario.ExternalSamplerHillClimb:
		stepSize := ext.StepSize
		if stepSize == 0 {
			stepSize = defaultStepSize
		}
		annealing := ext.Annealing
		if annealing == 0 {
			annealing = defaultAnnealing
		}
		return &hillClimbStrategy{
			stepSize:  stepSize,
			annealing: annealing,
			explore:   ext.Explore,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported external sampler: %s", ext.Kind)
	}
}

type priorStrategy struct{}

func (priorStrategy) next(r *rand.Rand, space scenario.Space, _ model.Feedback) map[string]float64 {
	return drawPrior(r, space)
}

func drawPrior(r *rand.Rand, space scenario.Space) map[string]float64 {
	params := make(map[string]float64, len(space.Params))
	for _, p := range space.Params {
		params[p.Name] = p.Draw(r)
	}
	return params
}

// hillClimbStrategy searches for low feedback. The feedback passed to next is
// the score of the previous proposal; the lowest-scoring proposal becomes the
// base that later proposals perturb with an annealed spread.
type hillClimbStrategy struct {
	stepSize  float64
	annealing float64
	explore   float64

	pending   map[string]float64
	best      map[string]float64
	bestScore float64
	stale     int
}

func (h *hillClimbStrategy) next(r *rand.Rand, space scenario.Space, feedback model.Feedback) map[string]float64 {
	if h.pending != nil {
		if score, ok := feedback.Scalar(); ok && !math.IsNaN(score) {
			if h.best == nil || score < h.bestScore {
				h.best = h.pending
				h.bestScore = score
				h.stale = 0
			}
		}
	}

	var proposal map[string]float64
	if h.best == nil || (h.explore > 0 && r.Float64() < h.explore) {
		proposal = drawPrior(r, space)
	} else {
		spread := h.stepSize * math.Pow(h.annealing, float64(h.stale))
		proposal = make(map[string]float64, len(space.Params))
		for _, p := range space.Params {
			proposal[p.Name] = p.Perturb(r, h.best[p.Name], spread)
		}
		h.stale++
	}
	h.pending = proposal
	return proposal
}
