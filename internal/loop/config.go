package loop

import (
	"errors"
	"log/slog"

	"falsifier/internal/simulator"
)

// Config bounds one simulation attempt. It is fixed when a loop is built.
type Config struct {
	// MaxSteps caps a single simulation; zero means no cap beyond the
	// simulator's own.
	MaxSteps  int
	Verbosity int
	// MaxIterations caps the simulator's internal retries per attempt.
	MaxIterations int
}

// DefaultConfig uses the simulator's own step limit and a single attempt.
func DefaultConfig() Config {
	return Config{MaxSteps: 0, Verbosity: 0, MaxIterations: 1}
}

func (c Config) normalized() (Config, error) {
	if c.MaxSteps < 0 {
		return Config{}, errors.New("max steps must be >= 0")
	}
	if c.Verbosity < 0 {
		c.Verbosity = 0
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 1
	}
	return c, nil
}

func (c Config) simulatorOptions() simulator.Options {
	return simulator.Options{
		MaxSteps:      c.MaxSteps,
		Verbosity:     c.Verbosity,
		MaxIterations: c.MaxIterations,
	}
}

type Option func(*options)

type options struct {
	simulator simulator.Simulator
	logger    *slog.Logger
	variant   string
	worker    int
}

// WithSimulator replaces the simulator resolved from the sampler's scenario.
func WithSimulator(sim simulator.Simulator) Option {
	return func(o *options) {
		o.simulator = sim
	}
}

// WithLogger sets the loop logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func withWorker(number int) Option {
	return func(o *options) {
		o.variant = variantLockstep
		o.worker = number
	}
}
