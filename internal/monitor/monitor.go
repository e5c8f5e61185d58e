// Package monitor scores simulation trajectories. Scores are robustness
// values: negative means the property was violated.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"falsifier/internal/model"
	"falsifier/internal/scenario"
)

const (
	SignalMinName = "signal-min"
	SignalMaxName = "signal-max"
	MultiName     = "multi"
)

var ErrEmptySignal = errors.New("trajectory carries no samples for signal")

type Monitor interface {
	Evaluate(trajectory model.Trajectory) (model.Feedback, error)
}

// Func adapts a plain function to Monitor.
type Func func(trajectory model.Trajectory) (model.Feedback, error)

func (f Func) Evaluate(trajectory model.Trajectory) (model.Feedback, error) {
	return f(trajectory)
}

// SignalMin scores min(signal) - threshold over the trajectory.
type SignalMin struct {
	Signal    string
	Threshold float64
}

func (m SignalMin) Evaluate(trajectory model.Trajectory) (model.Feedback, error) {
	lo, err := extremum(trajectory, m.Signal, math.Min, math.Inf(1))
	if err != nil {
		return model.Feedback{}, err
	}
	return model.Scalar(lo - m.Threshold), nil
}

// SignalMax scores threshold - max(signal) over the trajectory.
type SignalMax struct {
	Signal    string
	Threshold float64
}

func (m SignalMax) Evaluate(trajectory model.Trajectory) (model.Feedback, error) {
	hi, err := extremum(trajectory, m.Signal, math.Max, math.Inf(-1))
	if err != nil {
		return model.Feedback{}, err
	}
	return model.Scalar(m.Threshold - hi), nil
}

// Multi scores several signals at once, one SignalMin component per signal.
type Multi struct {
	Signals   []string
	Threshold float64
}

func (m Multi) Evaluate(trajectory model.Trajectory) (model.Feedback, error) {
	values := make([]float64, 0, len(m.Signals))
	for _, signal := range m.Signals {
		lo, err := extremum(trajectory, signal, math.Min, math.Inf(1))
		if err != nil {
			return model.Feedback{}, err
		}
		values = append(values, lo-m.Threshold)
	}
	return model.Vector(values...), nil
}

func extremum(trajectory model.Trajectory, signal string, pick func(a, b float64) float64, start float64) (float64, error) {
	series := trajectory.Signal(signal)
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptySignal, signal)
	}
	out := start
	for _, v := range series {
		out = pick(out, v)
	}
	return out, nil
}

// FromSpec builds the monitor named by a scenario. An empty name means no
// monitor is configured and returns nil.
func FromSpec(spec scenario.MonitorSpec) (Monitor, error) {
	name := strings.TrimSpace(strings.ToLower(strings.ReplaceAll(spec.Name, "_", "-")))
	switch name {
	case "", "none":
		return nil, nil
	case SignalMinName, "min":
		if spec.Signal == "" {
			return nil, errors.New("signal-min monitor requires a signal")
		}
		return SignalMin{Signal: spec.Signal, Threshold: spec.Threshold}, nil
	case SignalMaxName, "max":
		if spec.Signal == "" {
			return nil, errors.New("signal-max monitor requires a signal")
		}
		return SignalMax{Signal: spec.Signal, Threshold: spec.Threshold}, nil
	case MultiName:
		if len(spec.Signals) == 0 {
			return nil, errors.New("multi monitor requires signals")
		}
		return Multi{Signals: append([]string(nil), spec.Signals...), Threshold: spec.Threshold}, nil
	default:
		return nil, fmt.Errorf("unsupported monitor: %s", spec.Name)
	}
}
