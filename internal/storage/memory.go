package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"neurodrive/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	genomes     map[string]model.Genome
	records     map[string]map[int]model.GenerationRecord
	lineage     map[string][]model.LineageRecord
	runs        map[string]model.RunIndexEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.genomes = make(map[string]model.Genome)
	s.records = make(map[string]map[int]model.GenerationRecord)
	s.lineage = make(map[string][]model.LineageRecord)
	s.runs = make(map[string]model.RunIndexEntry)
	return nil
}

func (s *MemoryStore) SaveGenome(_ context.Context, genome model.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.genomes[genome.ID] = cloneGenome(genome)
	return nil
}

func (s *MemoryStore) GetGenome(_ context.Context, id string) (model.Genome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	genome, ok := s.genomes[id]
	if !ok {
		return model.Genome{}, false, nil
	}
	return cloneGenome(genome), true, nil
}

func (s *MemoryStore) SaveGenerationRecord(_ context.Context, runID string, record model.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	byGeneration, ok := s.records[runID]
	if !ok {
		byGeneration = make(map[int]model.GenerationRecord)
		s.records[runID] = byGeneration
	}
	byGeneration[record.Generation] = record
	return nil
}

func (s *MemoryStore) GetGenerationRecords(_ context.Context, runID string) ([]model.GenerationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byGeneration, ok := s.records[runID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.GenerationRecord, 0, len(byGeneration))
	for _, record := range byGeneration {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	return copied, true, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, entry model.RunIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[entry.RunID] = entry
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunIndexEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.runs[runID]
	return entry, ok, nil
}

var errNotInitialized = errors.New("store is not initialized")

func cloneGenome(g model.Genome) model.Genome {
	out := g
	out.InputIDs = append([]string(nil), g.InputIDs...)
	out.OutputIDs = append([]string(nil), g.OutputIDs...)
	out.Neurons = append([]model.Neuron(nil), g.Neurons...)
	out.Synapses = append([]model.Synapse(nil), g.Synapses...)
	return out
}
