package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"falsifier/internal/logging"
	"falsifier/internal/loop"
	"falsifier/internal/model"
	"falsifier/internal/monitor"
	"falsifier/internal/sampler"
	"falsifier/internal/scenario"
	"falsifier/internal/simulator"
	"falsifier/internal/stats"
	"falsifier/internal/storage"
)

const (
	StopReasonCompleted = "completed"
	StopReasonFalsified = "falsified"
	StopReasonStopped   = "stopped"
)

type CampaignConfig struct {
	RunID string
	// Scenario takes precedence over ScenarioPath. With only a path, every
	// worker loads its own copy of the file.
	Scenario     *scenario.Scenario
	ScenarioPath string

	Workers int
	// Rounds is the number of rounds each worker runs.
	Rounds int
	Loop   loop.Config

	// FalsifyBelow is the score under which a round counts as a
	// counterexample.
	FalsifyBelow    float64
	StopOnFalsified bool

	// NewSimulator and NewMonitor override the simulator and monitor named
	// by the scenario. Each is called once per worker so that no worker
	// shares an instance with another.
	NewSimulator func() (simulator.Simulator, error)
	NewMonitor   func() (monitor.Monitor, error)

	Store        storage.Store
	ArtifactsDir string
	Logger       *slog.Logger
	Now          func() time.Time
}

type RunResult struct {
	Summary      model.RunSummary
	Records      []model.RoundRecord
	ArtifactsDir string
}

// Campaign runs one scenario across one or more loops and collects every
// round they complete.
type Campaign struct {
	cfg        CampaignConfig
	scenario   *scenario.Scenario
	source     sampler.Source
	newMonitor func() (monitor.Monitor, error)
	logger     *slog.Logger

	stopped atomic.Bool
	reason  atomic.Value
}

func NewCampaign(cfg CampaignConfig) (*Campaign, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Rounds <= 0 {
		return nil, fmt.Errorf("rounds must be > 0, got %d", cfg.Rounds)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	sc := cfg.Scenario
	var source sampler.Source
	switch {
	case sc != nil:
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		source = sampler.StaticSource(sc)
		if cfg.ScenarioPath == "" {
			cfg.ScenarioPath = sc.Path()
		}
	case cfg.ScenarioPath != "":
		loaded, err := scenario.Load(cfg.ScenarioPath)
		if err != nil {
			return nil, err
		}
		sc = loaded
		source = sampler.FileSource(cfg.ScenarioPath)
	default:
		return nil, errors.New("scenario or scenario path is required")
	}

	newMonitor := cfg.NewMonitor
	if newMonitor == nil {
		spec := sc.Monitor
		if _, err := monitor.FromSpec(spec); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		newMonitor = func() (monitor.Monitor, error) {
			return monitor.FromSpec(spec)
		}
	}

	logger := logging.OrDiscard(cfg.Logger).With("run_id", cfg.RunID)
	return &Campaign{
		cfg:        cfg,
		scenario:   sc,
		source:     source,
		newMonitor: newMonitor,
		logger:     logger,
	}, nil
}

func (c *Campaign) RunID() string {
	return c.cfg.RunID
}

// Stop asks every loop to finish after its current round.
func (c *Campaign) Stop() {
	c.stop(StopReasonStopped)
}

func (c *Campaign) stop(reason string) {
	if c.stopped.CompareAndSwap(false, true) {
		c.reason.Store(reason)
	}
}

func (c *Campaign) stopReason() string {
	if reason, ok := c.reason.Load().(string); ok {
		return reason
	}
	return StopReasonCompleted
}

func (c *Campaign) Run(ctx context.Context) (RunResult, error) {
	ctx, span := tracer.Start(ctx, "campaign.run")
	defer span.End()

	start := c.cfg.Now()
	c.logger.Info("campaign starting",
		"scenario", c.scenario.Name,
		"workers", c.cfg.Workers,
		"rounds", c.cfg.Rounds,
	)
	activeCampaigns.Inc()
	defer activeCampaigns.Dec()

	loops, err := c.buildLoops(ctx)
	if err != nil {
		campaignsTotal.WithLabelValues(statusFailed).Inc()
		return RunResult{}, err
	}
	defer func() {
		for _, l := range loops {
			l.Terminate()
		}
	}()

	records := make(chan model.RoundRecord, c.cfg.Workers)
	var (
		collected []model.RoundRecord
		collector sync.WaitGroup
	)
	collector.Add(1)
	go func() {
		defer collector.Done()
		for record := range records {
			collected = append(collected, record)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range loops {
		worker, l := i, l
		g.Go(func() error {
			return c.drive(gctx, worker, l, records)
		})
	}
	err = g.Wait()
	close(records)
	collector.Wait()
	if err != nil {
		campaignsTotal.WithLabelValues(statusFailed).Inc()
		c.logger.Error("campaign failed", "error", err, "rounds", len(collected))
		return RunResult{}, err
	}

	sort.SliceStable(collected, func(i, j int) bool {
		if collected[i].Round != collected[j].Round {
			return collected[i].Round < collected[j].Round
		}
		return collected[i].Worker < collected[j].Worker
	})

	summary := stats.Summarize(collected, c.cfg.FalsifyBelow)
	summary.RunID = c.cfg.RunID
	summary.Scenario = c.scenario.Name
	summary.ScenarioPath = c.cfg.ScenarioPath
	summary.CreatedAt = start.UTC()
	summary.Workers = c.cfg.Workers
	summary.RoundsPerWorker = c.cfg.Rounds
	summary.StopReason = c.stopReason()

	result := RunResult{Summary: storage.Stamp(summary), Records: collected}
	if err := c.persist(ctx, &result); err != nil {
		campaignsTotal.WithLabelValues(statusFailed).Inc()
		return RunResult{}, err
	}

	campaignsTotal.WithLabelValues(summary.StopReason).Inc()
	c.logger.Info("campaign finished",
		"rounds", summary.Rounds,
		"rejections", summary.Rejections,
		"falsified", summary.Falsified,
		"stop_reason", summary.StopReason,
		"elapsed", c.cfg.Now().Sub(start),
	)
	return result, nil
}

func (c *Campaign) buildLoops(ctx context.Context) ([]loop.Looper, error) {
	loops := make([]loop.Looper, 0, c.cfg.Workers)
	for i := 0; i < c.cfg.Workers; i++ {
		opts := []loop.Option{loop.WithLogger(c.logger)}
		if c.cfg.NewSimulator != nil {
			sim, err := c.cfg.NewSimulator()
			if err != nil {
				return nil, fmt.Errorf("build simulator for worker %d: %w", i, err)
			}
			opts = append(opts, loop.WithSimulator(sim))
		}
		m, err := c.newMonitor()
		if err != nil {
			return nil, fmt.Errorf("build monitor for worker %d: %w", i, err)
		}

		if c.cfg.Workers == 1 {
			s, err := c.source()
			if err != nil {
				return nil, err
			}
			server, err := loop.NewServer(s, m, c.cfg.Loop, opts...)
			if err != nil {
				return nil, err
			}
			loops = append(loops, server)
			continue
		}

		w, err := loop.NewWorker(ctx, loop.WorkerConfig{
			Number: i,
			Total:  c.cfg.Workers,
			Source: c.source,
		}, m, c.cfg.Loop, opts...)
		if err != nil {
			return nil, err
		}
		loops = append(loops, w)
	}
	return loops, nil
}

func (c *Campaign) drive(ctx context.Context, worker int, l loop.Looper, out chan<- model.RoundRecord) error {
	workerLabel := strconv.Itoa(worker)
	for round := 0; round < c.cfg.Rounds; round++ {
		if c.stopped.Load() {
			return nil
		}
		sample, feedback, err := l.RunRound(ctx)
		if err != nil {
			return fmt.Errorf("worker %d round %d: %w", worker, round, err)
		}
		outcome := l.LastOutcome()
		record := model.RoundRecord{
			RunID:      c.cfg.RunID,
			Worker:     worker,
			Round:      round,
			Sample:     sample,
			Feedback:   feedback,
			Rejected:   outcome.Rejected,
			Falsified:  !outcome.Rejected && stats.Falsifies(feedback, c.cfg.FalsifyBelow),
			Duration:   outcome.Duration,
			RecordedAt: c.cfg.Now().UTC(),
		}
		if record.Falsified {
			falsifiedTotal.WithLabelValues(c.scenario.Name).Inc()
			c.logger.Info("counterexample found", "worker", worker, "round", round, "sample", sample.ID, "feedback", feedback.String())
			if c.cfg.StopOnFalsified {
				c.stop(StopReasonFalsified)
			}
		}
		roundsCollected.WithLabelValues(workerLabel).Inc()

		select {
		case out <- record:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Campaign) persist(ctx context.Context, result *RunResult) error {
	if c.cfg.Store != nil {
		if err := c.cfg.Store.SaveRun(ctx, result.Summary); err != nil {
			return fmt.Errorf("save run %s: %w", result.Summary.RunID, err)
		}
		if err := c.cfg.Store.SaveRounds(ctx, result.Summary.RunID, result.Records); err != nil {
			return fmt.Errorf("save rounds %s: %w", result.Summary.RunID, err)
		}
	}
	if c.cfg.ArtifactsDir != "" {
		dir, err := stats.WriteRunArtifacts(c.cfg.ArtifactsDir, result.Summary, result.Records)
		if err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
		if err := stats.AppendRunIndex(c.cfg.ArtifactsDir, stats.IndexEntry(result.Summary)); err != nil {
			return fmt.Errorf("update run index: %w", err)
		}
		result.ArtifactsDir = dir
	}
	return nil
}
