package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"falsifier/internal/model"
	"falsifier/internal/simulator"
)

// simulateOnce runs one simulation attempt. A nil result with a nil error
// means the simulation could not be created from the scene.
func (s *Server) simulateOnce(ctx context.Context, scene model.Scene) (*model.SimulationResult, error) {
	start := time.Now()
	s.diag(ctx, "beginning simulation", "sample", scene.SampleID)

	result, err := s.simulator.Simulate(ctx, scene, s.cfg.simulatorOptions())
	elapsed := time.Since(start)
	simulationDuration.WithLabelValues(s.simulator.Name()).Observe(elapsed.Seconds())
	if err != nil {
		if errors.Is(err, simulator.ErrCreation) {
			s.diag(ctx, "failed to create simulation", "sample", scene.SampleID, "reason", err.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("simulate %s: %w", scene.SampleID, err)
	}
	if result == nil {
		return nil, nil
	}

	s.diag(ctx, "ran simulation",
		"sample", scene.SampleID,
		"seconds", elapsed.Seconds(),
		"steps", result.Steps,
		"terminated", result.Terminated,
	)
	return result, nil
}

// diag writes diagnostics at info once verbosity is raised, debug otherwise.
func (s *Server) diag(ctx context.Context, msg string, args ...any) {
	level := slog.LevelDebug
	if s.cfg.Verbosity >= 1 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, msg, args...)
}
