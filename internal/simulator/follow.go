package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"falsifier/internal/model"
)

const FollowName = "follow"

// Follow simulates an ego vehicle with adaptive cruise control behind a lead
// vehicle that brakes at a fixed time. The ego reacts to the lead state with
// the scene's reaction delay.
type Follow struct {
	steps       int
	dt          float64
	brakeTime   float64
	timeGap     float64
	maxBrake    float64
	maxAccel    float64
	initJitter  float64
	standstillM float64
}

func NewFollow(settings map[string]float64) (Simulator, error) {
	f := &Follow{
		steps:       int(setting(settings, "steps", 100)),
		dt:          setting(settings, "dt", 0.1),
		brakeTime:   setting(settings, "brake_time", 1.0),
		timeGap:     setting(settings, "time_gap", 1.5),
		maxBrake:    setting(settings, "max_brake", 6.0),
		maxAccel:    setting(settings, "max_accel", 2.0),
		initJitter:  setting(settings, "jitter", 0),
		standstillM: setting(settings, "standstill", 2.0),
	}
	if f.steps <= 0 {
		return nil, errors.New("steps must be > 0")
	}
	if f.dt <= 0 {
		return nil, errors.New("dt must be > 0")
	}
	if f.maxBrake <= 0 || f.maxAccel <= 0 {
		return nil, errors.New("max_brake and max_accel must be > 0")
	}
	if f.initJitter < 0 || f.timeGap < 0 || f.brakeTime < 0 {
		return nil, errors.New("jitter, time_gap and brake_time must be >= 0")
	}
	return f, nil
}

func (*Follow) Name() string {
	return FollowName
}

func (f *Follow) Simulate(ctx context.Context, scene model.Scene, opts Options) (*model.SimulationResult, error) {
	gap0 := scene.Param("gap0", 30)
	egoSpeed0 := scene.Param("ego_speed", 20)
	leadSpeed0 := scene.Param("lead_speed", 20)
	if egoSpeed0 < 0 || leadSpeed0 < 0 {
		return nil, &CreationError{SampleID: scene.SampleID, Reason: "speeds must be >= 0"}
	}
	if gap0 <= 0 {
		return nil, &CreationError{SampleID: scene.SampleID, Reason: fmt.Sprintf("initial gap %.2f overlaps lead vehicle", gap0)}
	}
	leadBrake := math.Abs(scene.Param("lead_brake", 4))
	delaySteps := int(math.Round(math.Max(0, scene.Param("reaction", 0.5)) / f.dt))
	steps := opts.stepLimit(f.steps)

	return runIterations(ctx, scene, opts, func(ctx context.Context, _ int, rng *rand.Rand) (model.Trajectory, string, string, error) {
		gap := gap0
		if f.initJitter > 0 {
			gap += rng.NormFloat64() * f.initJitter
		}
		if gap <= 0 {
			return nil, "", fmt.Sprintf("jittered gap %.2f overlaps lead vehicle", gap), nil
		}
		ego, lead := egoSpeed0, leadSpeed0
		observed := make([]float64, 0, steps+1)
		trajectory := make(model.Trajectory, 0, steps)

		for step := 0; step < steps; step++ {
			if err := ctx.Err(); err != nil {
				return nil, "", "", err
			}
			t := float64(step) * f.dt
			observed = append(observed, lead)
			seenLead := observed[0]
			if idx := len(observed) - 1 - delaySteps; idx >= 0 {
				seenLead = observed[idx]
			}

			desired := f.standstillM + f.timeGap*ego
			accel := 0.4*(gap-desired) + 0.8*(seenLead-ego)
			accel = math.Max(-f.maxBrake, math.Min(f.maxAccel, accel))

			leadAccel := 0.0
			if t >= f.brakeTime {
				leadAccel = -leadBrake
			}
			lead = math.Max(0, lead+leadAccel*f.dt)
			ego = math.Max(0, ego+accel*f.dt)
			gap += (lead - ego) * f.dt

			trajectory = append(trajectory, model.State{
				Step: step,
				Time: t + f.dt,
				Signals: map[string]float64{
					"gap":        gap,
					"ego_speed":  ego,
					"lead_speed": lead,
					"rel_speed":  lead - ego,
				},
			})
			if gap <= 0 {
				return trajectory, "collision", "", nil
			}
			if ego == 0 && lead == 0 {
				return trajectory, "stopped", "", nil
			}
		}
		return trajectory, "max_steps", "", nil
	})
}
