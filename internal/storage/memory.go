package storage

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"

	"tracemh/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	samples     map[string]model.SampleChain
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.samples = make(map[string]model.SampleChain)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return copyRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, modelName string, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if modelName != "" && run.Model != modelName {
			continue
		}
		run.Marginal = nil
		out = append(out, run)
	}
	sortRuns(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.samples, id)
	return nil
}

func (s *MemoryStore) SaveSamples(_ context.Context, chain model.SampleChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	chain.Samples = copyRaw(chain.Samples)
	s.samples[chain.RunID] = chain
	return nil
}

func (s *MemoryStore) GetSamples(_ context.Context, runID string) (model.SampleChain, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.samples[runID]
	if !ok {
		return model.SampleChain{}, false, nil
	}
	chain.Samples = copyRaw(chain.Samples)
	return chain, true, nil
}

func copyRun(run model.RunRecord) model.RunRecord {
	entries := make([]model.MarginalEntry, len(run.Marginal))
	for i, e := range run.Marginal {
		e.Value = append(json.RawMessage(nil), e.Value...)
		entries[i] = e
	}
	run.Marginal = entries
	return run
}

func copyRaw(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, v := range in {
		out[i] = append(json.RawMessage(nil), v...)
	}
	return out
}

// sortRuns orders newest first, breaking ties by id.
func sortRuns(runs []model.RunRecord) {
	slices.SortFunc(runs, func(a, b model.RunRecord) int {
		if c := strings.Compare(b.CreatedAtUTC, a.CreatedAtUTC); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
