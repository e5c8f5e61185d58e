package loop

import "errors"

var (
	ErrNoSampler          = errors.New("loop created without sampler")
	ErrNotScenarioSampler = errors.New("only a scenario-backed sampler can drive the loop")
	ErrInvalidWorker      = errors.New("invalid worker assignment")

	// ErrNoScene means the sampler returned a sample without materializing a
	// scene for it. It is a sampler contract violation and ends the loop.
	ErrNoScene = errors.New("sampler produced no scene")
)
