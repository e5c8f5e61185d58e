package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"falsifier/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunSummary
	rounds      map[string][]model.RoundRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunSummary)
	s.rounds = make(map[string][]model.RoundRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[summary.RunID] = Stamp(summary)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunSummary{}, false, errNotInitialized
	}
	summary, ok := s.runs[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	out := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		out = append(out, summary)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveRounds(_ context.Context, runID string, records []model.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.rounds[runID] = append([]model.RoundRecord(nil), records...)
	return nil
}

func (s *MemoryStore) GetRounds(_ context.Context, runID string) ([]model.RoundRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	records, ok := s.rounds[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.RoundRecord(nil), records...), true, nil
}

func sortRuns(runs []model.RunSummary) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
