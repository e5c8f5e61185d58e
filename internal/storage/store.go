package storage

import (
	"context"

	"falsifier/internal/model"
)

// Store persists run summaries and the per-round records behind them.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (model.RunSummary, bool, error)
	// ListRuns returns summaries newest first.
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	SaveRounds(ctx context.Context, runID string, records []model.RoundRecord) error
	GetRounds(ctx context.Context, runID string) ([]model.RoundRecord, bool, error)
}
