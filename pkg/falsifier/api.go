// Package falsifier is the programmatic entry point for running
// falsification campaigns and reading their results.
package falsifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"falsifier/internal/logging"
	"falsifier/internal/loop"
	"falsifier/internal/model"
	"falsifier/internal/platform"
	"falsifier/internal/scenario"
	"falsifier/internal/stats"
	"falsifier/internal/storage"
)

const (
	defaultArtifactsDir = "falsifier_runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "falsifier.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store    storage.Store
	platform *platform.Platform

	artifactsDir string
	exportsDir   string
	logger       *slog.Logger
}

type RunRequest struct {
	RunID string
	// ScenarioPath names a scenario file. ScenarioYAML is used instead when
	// set.
	ScenarioPath string
	ScenarioYAML []byte

	Workers         int
	Rounds          int
	MaxSteps        int
	MaxIterations   int
	Verbosity       int
	FalsifyBelow    float64
	StopOnFalsified bool
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Summary      model.RunSummary
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Scenario     string
	Workers      int
	Rounds       int
	Falsified    int
	BestFeedback *float64
}

type RoundsRequest struct {
	RunID  string
	Latest bool
	Limit  int
	// FalsifiedOnly keeps only rounds that produced a counterexample.
	FalsifiedOnly bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	logger := logging.OrDiscard(opts.Logger)

	return &Client{
		store: store,
		platform: platform.NewPlatform(platform.Config{
			Store:        store,
			ArtifactsDir: artifactsDir,
			Logger:       logger,
		}),
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		logger:       logger,
	}, nil
}

func (c *Client) Close() error {
	c.platform.Stop()
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.platform.Init(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	if req.Rounds <= 0 {
		req.Rounds = 50
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}

	cfg := platform.CampaignConfig{
		RunID:        req.RunID,
		ScenarioPath: req.ScenarioPath,
		Workers:      req.Workers,
		Rounds:       req.Rounds,
		Loop: loop.Config{
			MaxSteps:      req.MaxSteps,
			Verbosity:     req.Verbosity,
			MaxIterations: req.MaxIterations,
		},
		FalsifyBelow:    req.FalsifyBelow,
		StopOnFalsified: req.StopOnFalsified,
	}
	switch {
	case len(req.ScenarioYAML) > 0:
		sc, err := scenario.Parse(req.ScenarioYAML)
		if err != nil {
			return RunSummary{}, err
		}
		cfg.Scenario = sc
		cfg.ScenarioPath = ""
	case req.ScenarioPath == "":
		return RunSummary{}, errors.New("run requires a scenario path or scenario yaml")
	}

	result, err := c.platform.RunCampaign(ctx, cfg)
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{
		RunID:        result.Summary.RunID,
		ArtifactsDir: result.ArtifactsDir,
		Summary:      result.Summary,
	}, nil
}

// Runs lists runs newest first. Runs recorded only in the artifacts index,
// such as those from earlier in-memory sessions, are included.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	summaries, err := c.platform.Runs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(summaries))
	out := make([]RunItem, 0, len(summaries))
	for _, s := range summaries {
		seen[s.RunID] = struct{}{}
		out = append(out, RunItem{
			RunID:        s.RunID,
			CreatedAtUTC: stats.IndexEntry(s).CreatedAtUTC,
			Scenario:     s.Scenario,
			Workers:      s.Workers,
			Rounds:       s.Rounds,
			Falsified:    s.Falsified,
			BestFeedback: s.BestFeedback,
		})
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, ok := seen[e.RunID]; ok {
			continue
		}
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Scenario:     e.Scenario,
			Workers:      e.Workers,
			Rounds:       e.Rounds,
			Falsified:    e.Falsified,
			BestFeedback: e.BestFeedback,
		})
	}
	sortRunItems(out)
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (c *Client) Rounds(ctx context.Context, req RoundsRequest) ([]model.RoundRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	records, ok, err := c.platform.Rounds(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		records, ok, err = stats.ReadRounds(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("rounds not found for run %s", runID)
		}
	}

	if req.FalsifiedOnly {
		filtered := make([]model.RoundRecord, 0, len(records))
		for _, record := range records {
			if record.Falsified {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	return records, nil
}

// Export copies a run's artifacts into the exports directory. A run that
// only lives in the store is written out from its stored records.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	if _, ok, err := stats.ReadRunSummary(c.artifactsDir, runID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		dir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
		if err != nil {
			return ExportSummary{}, err
		}
		return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
	}

	summary, ok, err := c.platform.Run(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	records, _, err := c.platform.Rounds(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	dir, err := stats.WriteExport(req.OutDir, summary, records)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if runID != "" {
		return runID, nil
	}

	items, err := c.Runs(ctx, RunsRequest{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", errors.New("no runs available")
	}
	return items[0].RunID, nil
}

func sortRunItems(items []RunItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAtUTC > items[j].CreatedAtUTC
	})
}
