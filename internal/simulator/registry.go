package simulator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"falsifier/internal/scenario"
)

var (
	ErrSimulatorExists   = errors.New("simulator already registered")
	ErrSimulatorNotFound = errors.New("simulator not found")
)

// Factory builds a simulator from the scenario's simulator settings.
type Factory func(settings map[string]float64) (Simulator, error)

var simulatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]Factory
}{
	m: make(map[string]Factory),
}

func init() {
	mustRegister(CartPoleName, NewCartPole)
	mustRegister(FollowName, NewFollow)
}

func Register(name string, factory Factory) error {
	name = Normalize(name)
	if name == "" {
		return errors.New("simulator name is required")
	}
	if factory == nil {
		return errors.New("simulator factory is required")
	}

	simulatorRegistry.mu.Lock()
	defer simulatorRegistry.mu.Unlock()

	if _, exists := simulatorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrSimulatorExists, name)
	}
	simulatorRegistry.m[name] = factory
	return nil
}

func mustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

func Resolve(spec scenario.SimulatorSpec) (Simulator, error) {
	name := Normalize(spec.Name)

	simulatorRegistry.mu.RLock()
	factory, ok := simulatorRegistry.m[name]
	simulatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSimulatorNotFound, spec.Name)
	}
	sim, err := factory(spec.Settings)
	if err != nil {
		return nil, fmt.Errorf("build simulator %s: %w", name, err)
	}
	return sim, nil
}

func Names() []string {
	simulatorRegistry.mu.RLock()
	defer simulatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(simulatorRegistry.m))
	for name := range simulatorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize canonicalizes simulator names and known aliases.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	candidate := strings.TrimSuffix(strings.TrimSuffix(normalized, "-sim"), "sim")
	candidate = strings.Trim(candidate, "-")
	switch strings.ReplaceAll(candidate, "-", "") {
	case "cartpole", "cartpolelite", "pole":
		return CartPoleName
	case "follow", "carfollowing", "acc":
		return FollowName
	default:
		return normalized
	}
}
