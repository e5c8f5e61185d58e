package platform

import (
	"context"
	"testing"

	"falsifier/internal/storage"
)

func TestPlatformRequiresStore(t *testing.T) {
	p := NewPlatform(Config{})
	if err := p.Init(context.Background()); err == nil {
		t.Fatal("expected init error without store")
	}
}

func TestPlatformRunCampaignRequiresInit(t *testing.T) {
	p := NewPlatform(Config{Store: storage.NewMemoryStore()})
	if _, err := p.RunCampaign(context.Background(), CampaignConfig{Scenario: campaignScenario(t), Rounds: 1}); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestPlatformRunCampaignPersistsToStore(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(Config{Store: storage.NewMemoryStore()})
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !p.Started() {
		t.Fatal("expected started platform")
	}

	for _, id := range []string{"r1", "r2"} {
		_, err := p.RunCampaign(ctx, CampaignConfig{
			RunID:        id,
			Scenario:     campaignScenario(t),
			Rounds:       3,
			NewSimulator: echoFactory(echoSimulator{reject: 2}),
		})
		if err != nil {
			t.Fatalf("run campaign %s: %v", id, err)
		}
	}
	if active := p.ActiveRuns(); len(active) != 0 {
		t.Fatalf("expected no active runs, got %v", active)
	}

	runs, err := p.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	summary, ok, err := p.Run(ctx, "r2")
	if err != nil || !ok || summary.Rounds != 3 {
		t.Fatalf("run r2: ok=%t err=%v summary=%+v", ok, err, summary)
	}
	rounds, ok, err := p.Rounds(ctx, "r1")
	if err != nil || !ok || len(rounds) != 3 {
		t.Fatalf("rounds r1: ok=%t err=%v n=%d", ok, err, len(rounds))
	}

	if err := p.StopRun("r1"); err == nil {
		t.Fatal("expected error stopping finished run")
	}
	p.Stop()
	if p.Started() {
		t.Fatal("expected stopped platform")
	}
}
