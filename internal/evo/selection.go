package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"neurodrive/internal/model"
)

// Selector produces the next population from a fully scored one.
type Selector interface {
	Name() string
	NextGeneration(ctx context.Context, population []Policy, generation int) ([]Policy, []model.LineageRecord, error)
}

// ElitistTournament carries the top EliteCount policies forward unchanged and
// fills the rest with mutated winners of size-TournamentSize tournaments.
type ElitistTournament struct {
	EliteCount     int
	TournamentSize int
	Seed           int64
	Checkpointer   Checkpointer
	Logger         *slog.Logger
}

func (ElitistTournament) Name() string {
	return "elitist_tournament"
}

// Validate checks the selector parameters against a population size.
func (s ElitistTournament) Validate(populationSize int) error {
	if populationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0", ErrConfig)
	}
	if s.EliteCount < 0 || s.EliteCount > populationSize {
		return fmt.Errorf("%w: elite count must be in [0, %d], got %d", ErrConfig, populationSize, s.EliteCount)
	}
	if s.TournamentSize < 2 || s.TournamentSize > populationSize {
		return fmt.Errorf("%w: tournament size must be in [2, %d], got %d", ErrConfig, populationSize, s.TournamentSize)
	}
	return nil
}

func (s ElitistTournament) NextGeneration(ctx context.Context, population []Policy, generation int) ([]Policy, []model.LineageRecord, error) {
	size := len(population)
	if err := s.Validate(size); err != nil {
		return nil, nil, err
	}

	ranked := RankByFitness(population)
	next := make([]Policy, 0, size)
	lineage := make([]model.LineageRecord, 0, size)
	nextGeneration := generation + 1

	for _, elite := range ranked[:s.EliteCount] {
		next = append(next, elite)
		lineage = append(lineage, model.LineageRecord{
			PolicyID:   elite.ID(),
			ParentID:   elite.ID(),
			Generation: nextGeneration,
			Operation:  model.OperationEliteClone,
		})
	}

	if s.Checkpointer != nil {
		if err := s.Checkpointer.Checkpoint(ctx, generation, ranked[0]); err != nil {
			s.logger().Warn("checkpoint failed", "generation", generation, "policy_id", ranked[0].ID(), "err", err)
		}
	}

	rng := rand.New(rand.NewSource(GenerationSeed(s.Seed, generation)))
	order := make([]int, size)
	for len(next) < size {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		members := sampleWithoutReplacement(rng, order, s.TournamentSize)
		tournament := make([]Policy, len(members))
		for i, idx := range members {
			tournament[i] = population[idx]
		}
		winners := RankByFitness(tournament)[:2]
		for _, parent := range winners {
			if len(next) >= size {
				break
			}
			seed := rng.Int63()
			child := parent.Mutate(seed, fmt.Sprintf("g%d-i%d", nextGeneration, len(next)))
			next = append(next, child)
			lineage = append(lineage, model.LineageRecord{
				PolicyID:     child.ID(),
				ParentID:     parent.ID(),
				Generation:   nextGeneration,
				Operation:    model.OperationMutate,
				MutationSeed: seed,
			})
		}
	}

	if len(next) != size {
		return nil, nil, fmt.Errorf("%w: next population size %d, want %d", ErrInvariant, len(next), size)
	}
	return next, lineage, nil
}

func (s ElitistTournament) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// RankByFitness returns a copy sorted by descending fitness. Equal fitness
// keeps the input order.
func RankByFitness(population []Policy) []Policy {
	ranked := make([]Policy, len(population))
	copy(ranked, population)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness() > ranked[j].Fitness()
	})
	return ranked
}

// GenerationSeed derives the selection seed for one generation so that its
// outcome does not depend on earlier draws.
func GenerationSeed(seed int64, generation int) int64 {
	z := uint64(seed) + uint64(generation+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

// sampleWithoutReplacement draws k distinct indices in [0, len(scratch)) with
// a partial Fisher-Yates shuffle. scratch is overwritten.
func sampleWithoutReplacement(rng *rand.Rand, scratch []int, k int) []int {
	for i := range scratch {
		scratch[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(scratch)-i)
		scratch[i], scratch[j] = scratch[j], scratch[i]
	}
	return scratch[:k]
}
