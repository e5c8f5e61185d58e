package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"falsifier/internal/model"
)

const CartPoleName = "cart-pole"

// CartPole simulates a 1D cart held near the origin by a PD controller. The
// controller gains and the initial state come from the scene, which makes the
// controller the system under test.
type CartPole struct {
	track    float64
	steps    int
	dt       float64
	maxForce float64
	warmup   int
	noise    float64
}

func NewCartPole(settings map[string]float64) (Simulator, error) {
	c := &CartPole{
		track:    setting(settings, "track", 2.0),
		steps:    int(setting(settings, "steps", 60)),
		dt:       setting(settings, "dt", 0.1),
		maxForce: setting(settings, "max_force", 1.0),
		warmup:   int(setting(settings, "warmup", 0)),
		noise:    setting(settings, "noise", 0),
	}
	if c.track <= 0 {
		return nil, errors.New("track must be > 0")
	}
	if c.steps <= 0 {
		return nil, errors.New("steps must be > 0")
	}
	if c.dt <= 0 {
		return nil, errors.New("dt must be > 0")
	}
	if c.maxForce <= 0 {
		return nil, errors.New("max_force must be > 0")
	}
	if c.noise < 0 || c.warmup < 0 {
		return nil, errors.New("noise and warmup must be >= 0")
	}
	return c, nil
}

func (*CartPole) Name() string {
	return CartPoleName
}

func (c *CartPole) Simulate(ctx context.Context, scene model.Scene, opts Options) (*model.SimulationResult, error) {
	x0 := scene.Param("x0", 0)
	if math.Abs(x0) > c.track {
		return nil, &CreationError{
			SampleID: scene.SampleID,
			Reason:   fmt.Sprintf("initial position %.3f outside track %.3f", x0, c.track),
		}
	}
	v0 := scene.Param("v0", 0)
	kp := scene.Param("kp", 1.0)
	kd := scene.Param("kd", 0.5)
	disturbance := scene.Param("disturbance", 0)
	steps := opts.stepLimit(c.steps)

	return runIterations(ctx, scene, opts, func(ctx context.Context, _ int, rng *rand.Rand) (model.Trajectory, string, string, error) {
		x, v := x0, v0
		trajectory := make(model.Trajectory, 0, steps)
		for step := 0; step < steps; step++ {
			if err := ctx.Err(); err != nil {
				return nil, "", "", err
			}
			force := -(kp*x + kd*v) + disturbance
			if c.noise > 0 {
				force += rng.NormFloat64() * c.noise
			}
			force = math.Max(-c.maxForce, math.Min(c.maxForce, force))
			x, v = cartPoleStep(x, v, force, c.dt)
			trajectory = append(trajectory, model.State{
				Step: step,
				Time: float64(step+1) * c.dt,
				Signals: map[string]float64{
					"x":      x,
					"v":      v,
					"force":  force,
					"margin": c.track - math.Abs(x),
				},
			})
			if math.Abs(x) > c.track {
				if step < c.warmup {
					return nil, "", fmt.Sprintf("left track during warmup at step %d", step), nil
				}
				return trajectory, "out_of_track", "", nil
			}
		}
		return trajectory, "max_steps", "", nil
	})
}

func cartPoleStep(x, v, force, dt float64) (nextX, nextV float64) {
	const (
		kPos   = 0.45
		kVel   = 0.15
		forceK = 1.25
	)
	acc := forceK*force - kPos*x - kVel*v
	v = v + acc*dt
	x = x + v*dt
	return x, v
}
