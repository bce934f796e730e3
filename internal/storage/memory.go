package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	kings       map[string][]model.KingRecord
	generations map[string][]model.GenerationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.kings = make(map[string][]model.KingRecord)
	s.generations = make(map[string][]model.GenerationRecord)
	return nil
}

func (s *MemoryStore) AppendKing(_ context.Context, record model.KingRecord) error {
	if record.RunID == "" {
		return ErrRunIDRequired
	}
	stampVersion(&record.VersionedRecord)
	record.Action = record.Action.Clone()
	record.Prediction = record.Prediction.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.kings[record.RunID] = append(s.kings[record.RunID], record)
	return nil
}

func (s *MemoryStore) Kings(_ context.Context, runID string) ([]model.KingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	records := s.kings[runID]
	out := make([]model.KingRecord, len(records))
	for i, r := range records {
		r.Action = r.Action.Clone()
		r.Prediction = r.Prediction.Clone()
		out[i] = r
	}
	return out, nil
}

func (s *MemoryStore) AppendGeneration(_ context.Context, record model.GenerationRecord) error {
	if record.RunID == "" {
		return ErrRunIDRequired
	}
	stampVersion(&record.VersionedRecord)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.generations[record.RunID] = append(s.generations[record.RunID], record)
	return nil
}

func (s *MemoryStore) Generations(_ context.Context, runID string) ([]model.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return append([]model.GenerationRecord(nil), s.generations[runID]...), nil
}

func (s *MemoryStore) Runs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	seen := make(map[string]struct{}, len(s.generations)+len(s.kings))
	for id := range s.generations {
		seen[id] = struct{}{}
	}
	for id := range s.kings {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
