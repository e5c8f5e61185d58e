// Package platform hosts falsification campaigns on top of a shared store.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"falsifier/internal/logging"
	"falsifier/internal/model"
	"falsifier/internal/storage"
)

type Config struct {
	Store        storage.Store
	ArtifactsDir string
	Logger       *slog.Logger
}

// Platform owns the store and tracks the campaigns running against it.
type Platform struct {
	store        storage.Store
	artifactsDir string
	logger       *slog.Logger

	mu      sync.RWMutex
	started bool
	runs    map[string]*Campaign
}

func NewPlatform(cfg Config) *Platform {
	return &Platform{
		store:        cfg.Store,
		artifactsDir: cfg.ArtifactsDir,
		logger:       logging.OrDiscard(cfg.Logger),
		runs:         make(map[string]*Campaign),
	}
}

func (p *Platform) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Platform) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// Stop asks every running campaign to finish and marks the platform stopped.
func (p *Platform) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.runs {
		c.Stop()
	}
	p.started = false
}

// RunCampaign runs a campaign to completion. The platform's store, artifacts
// directory and logger fill any the config leaves unset.
func (p *Platform) RunCampaign(ctx context.Context, cfg CampaignConfig) (RunResult, error) {
	if !p.Started() {
		return RunResult{}, fmt.Errorf("platform is not initialized")
	}
	if cfg.Store == nil {
		cfg.Store = p.store
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = p.artifactsDir
	}
	if cfg.Logger == nil {
		cfg.Logger = p.logger
	}

	c, err := NewCampaign(cfg)
	if err != nil {
		return RunResult{}, err
	}
	if err := p.registerRun(c); err != nil {
		return RunResult{}, err
	}
	defer p.unregisterRun(c.RunID())

	return c.Run(ctx)
}

func (p *Platform) StopRun(runID string) error {
	p.mu.RLock()
	c, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	c.Stop()
	return nil
}

func (p *Platform) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.runs))
	for id := range p.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Platform) Runs(ctx context.Context) ([]model.RunSummary, error) {
	if !p.Started() {
		return nil, fmt.Errorf("platform is not initialized")
	}
	return p.store.ListRuns(ctx)
}

func (p *Platform) Run(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	if !p.Started() {
		return model.RunSummary{}, false, fmt.Errorf("platform is not initialized")
	}
	return p.store.GetRun(ctx, runID)
}

func (p *Platform) Rounds(ctx context.Context, runID string) ([]model.RoundRecord, bool, error) {
	if !p.Started() {
		return nil, false, fmt.Errorf("platform is not initialized")
	}
	return p.store.GetRounds(ctx, runID)
}

func (p *Platform) registerRun(c *Campaign) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.runs[c.RunID()]; exists {
		return fmt.Errorf("run already active: %s", c.RunID())
	}
	p.runs[c.RunID()] = c
	return nil
}

func (p *Platform) unregisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runs, runID)
}
