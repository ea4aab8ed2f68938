package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/EiffL/bayesfast/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string]model.EvalRecord
	decayStates map[string]model.DecayState
	fitReports  map[string]model.FitReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.records = make(map[string]model.EvalRecord)
	s.decayStates = make(map[string]model.DecayState)
	s.fitReports = make(map[string]model.FitReport)
	return nil
}

func (s *MemoryStore) SaveEvalRecord(_ context.Context, record model.EvalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = copyEvalRecord(record)
	return nil
}

func (s *MemoryStore) GetEvalRecord(_ context.Context, id string) (model.EvalRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return model.EvalRecord{}, false, nil
	}
	return copyEvalRecord(record), true, nil
}

func (s *MemoryStore) ListEvalRecords(_ context.Context, runID string) ([]model.EvalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.EvalRecord
	for _, record := range s.records {
		if record.RunID == runID {
			out = append(out, copyEvalRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SaveDecayState(_ context.Context, state model.DecayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decayStates[state.RunID] = copyDecayState(state)
	return nil
}

func (s *MemoryStore) GetDecayState(_ context.Context, runID string) (model.DecayState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.decayStates[runID]
	if !ok {
		return model.DecayState{}, false, nil
	}
	return copyDecayState(state), true, nil
}

func (s *MemoryStore) SaveFitReport(_ context.Context, report model.FitReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := report
	copied.SurrogateNames = append([]string(nil), report.SurrogateNames...)
	s.fitReports[report.ID] = copied
	return nil
}

func (s *MemoryStore) ListFitReports(_ context.Context, runID string) ([]model.FitReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.FitReport
	for _, report := range s.fitReports {
		if report.RunID == runID {
			copied := report
			copied.SurrogateNames = append([]string(nil), report.SurrogateNames...)
			out = append(out, copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyEvalRecord(record model.EvalRecord) model.EvalRecord {
	copied := record
	copied.Variables = make(map[string][]float64, len(record.Variables))
	for name, values := range record.Variables {
		copied.Variables[name] = append([]float64(nil), values...)
	}
	return copied
}

func copyDecayState(state model.DecayState) model.DecayState {
	copied := state
	copied.Mu = append([]float64(nil), state.Mu...)
	copied.InvCov = make([][]float64, len(state.InvCov))
	for i, row := range state.InvCov {
		copied.InvCov[i] = append([]float64(nil), row...)
	}
	return copied
}
