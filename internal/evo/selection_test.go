package evo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"neurodrive/internal/model"
)

func scoredPopulation(fitness ...float64) []Policy {
	population := make([]Policy, len(fitness))
	for i, f := range fitness {
		p := newGenePolicy(string(rune('a'+i)), float64(i))
		p.fitness = f
		population[i] = p
	}
	return population
}

func TestElitistTournamentKeepsPopulationSize(t *testing.T) {
	for size := 2; size <= 9; size++ {
		fitness := make([]float64, size)
		for i := range fitness {
			fitness[i] = float64((i * 7) % size)
		}
		for elite := 0; elite <= size; elite++ {
			for tournament := 2; tournament <= size; tournament++ {
				population := scoredPopulation(fitness...)
				sel := ElitistTournament{EliteCount: elite, TournamentSize: tournament, Seed: 5}
				next, lineage, err := sel.NextGeneration(context.Background(), population, 3)
				if err != nil {
					t.Fatalf("P=%d E=%d T=%d: %v", size, elite, tournament, err)
				}
				if len(next) != size {
					t.Fatalf("P=%d E=%d T=%d: got population %d", size, elite, tournament, len(next))
				}
				if len(lineage) != size {
					t.Fatalf("P=%d E=%d T=%d: got lineage %d", size, elite, tournament, len(lineage))
				}
			}
		}
	}
}

func TestElitistTournamentCarriesElitesUnchanged(t *testing.T) {
	population := scoredPopulation(3, 9, 1, 9, 7, 2)
	sel := ElitistTournament{EliteCount: 3, TournamentSize: 3, Seed: 11}
	next, lineage, err := sel.NextGeneration(context.Background(), population, 0)
	if err != nil {
		t.Fatalf("next generation: %v", err)
	}
	// Stable ordering: b (9) before d (9), then e (7).
	wantElites := []Policy{population[1], population[3], population[4]}
	for i, want := range wantElites {
		if next[i] != want {
			t.Fatalf("elite %d: got %s want %s", i, next[i].ID(), want.ID())
		}
		if lineage[i].Operation != model.OperationEliteClone || lineage[i].ParentID != want.ID() {
			t.Fatalf("unexpected elite lineage: %+v", lineage[i])
		}
		got, _ := next[i].Act(nil)
		orig, _ := want.Act(nil)
		if got[0] != orig[0] {
			t.Fatalf("elite behaviour changed")
		}
	}
	for i := 3; i < len(next); i++ {
		if lineage[i].Operation != model.OperationMutate {
			t.Fatalf("expected mutate lineage at %d, got %s", i, lineage[i].Operation)
		}
		if next[i].ID() != lineage[i].PolicyID {
			t.Fatalf("lineage id mismatch at %d", i)
		}
	}
}

func TestElitistTournamentDoesNotTouchParents(t *testing.T) {
	population := scoredPopulation(5, 4, 3, 2)
	before := make([]float64, len(population))
	for i, p := range population {
		before[i] = p.(*genePolicy).gene
	}
	sel := ElitistTournament{EliteCount: 0, TournamentSize: 4, Seed: 2}
	if _, _, err := sel.NextGeneration(context.Background(), population, 0); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	for i, p := range population {
		gp := p.(*genePolicy)
		if gp.gene != before[i] || gp.sets.Load() != 0 {
			t.Fatalf("parent %s mutated in place", gp.id)
		}
	}
}

func TestElitistTournamentFullTournamentPicksTopTwo(t *testing.T) {
	population := scoredPopulation(1, 8, 3, 6)
	sel := ElitistTournament{EliteCount: 0, TournamentSize: 4, Seed: 9}
	_, lineage, err := sel.NextGeneration(context.Background(), population, 0)
	if err != nil {
		t.Fatalf("next generation: %v", err)
	}
	for i, rec := range lineage {
		want := "b"
		if i%2 == 1 {
			want = "d"
		}
		if rec.ParentID != want {
			t.Fatalf("child %d parent: got %s want %s", i, rec.ParentID, want)
		}
	}
}

func TestElitistTournamentOddRemainderDropsSecondChild(t *testing.T) {
	population := scoredPopulation(1, 2, 3, 4, 5)
	sel := ElitistTournament{EliteCount: 2, TournamentSize: 2, Seed: 1}
	next, lineage, err := sel.NextGeneration(context.Background(), population, 0)
	if err != nil {
		t.Fatalf("next generation: %v", err)
	}
	if len(next) != 5 {
		t.Fatalf("expected 5 policies, got %d", len(next))
	}
	if lineage[4].Operation != model.OperationMutate {
		t.Fatalf("expected last policy to be a mutated child")
	}
}

func TestElitistTournamentDeterministicForSeed(t *testing.T) {
	run := func() []model.LineageRecord {
		population := scoredPopulation(4, 1, 7, 3, 9, 2, 6, 5)
		sel := ElitistTournament{EliteCount: 1, TournamentSize: 3, Seed: 42}
		_, lineage, err := sel.NextGeneration(context.Background(), population, 4)
		if err != nil {
			t.Fatalf("next generation: %v", err)
		}
		return lineage
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("lineage %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestElitistTournamentValidate(t *testing.T) {
	tests := []struct {
		name string
		sel  ElitistTournament
		size int
	}{
		{name: "empty population", sel: ElitistTournament{TournamentSize: 2}, size: 0},
		{name: "elite above population", sel: ElitistTournament{EliteCount: 5, TournamentSize: 2}, size: 4},
		{name: "negative elite", sel: ElitistTournament{EliteCount: -1, TournamentSize: 2}, size: 4},
		{name: "tournament above population", sel: ElitistTournament{TournamentSize: 5}, size: 4},
		{name: "tournament below two", sel: ElitistTournament{TournamentSize: 1}, size: 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.sel.Validate(tc.size); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestElitistTournamentCheckpointsBestAndSurvivesFailure(t *testing.T) {
	dir := t.TempDir()
	population := scoredPopulation(1, 5, 3)
	cp := FileCheckpointer{Dir: dir, Name: "scene"}
	sel := ElitistTournament{EliteCount: 1, TournamentSize: 2, Seed: 3, Checkpointer: cp}
	if _, _, err := sel.NextGeneration(context.Background(), population, 7); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "scene_g7.json"))
	if err != nil {
		t.Fatalf("read versioned checkpoint: %v", err)
	}
	if string(data) != "b" {
		t.Fatalf("expected best policy b checkpointed, got %q", data)
	}
	if _, err := os.Stat(cp.LatestPath()); err != nil {
		t.Fatalf("latest checkpoint missing: %v", err)
	}

	population = scoredPopulation(1, 5, 3)
	population[1].(*genePolicy).saveErr = errTransient
	next, _, err := sel.NextGeneration(context.Background(), population, 8)
	if err != nil {
		t.Fatalf("checkpoint failure must not fail selection: %v", err)
	}
	if len(next) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(next))
	}
}

func TestRankByFitnessStable(t *testing.T) {
	population := scoredPopulation(2, 5, 2, 5, 1)
	ranked := RankByFitness(population)
	want := []string{"b", "d", "a", "c", "e"}
	for i, p := range ranked {
		if p.ID() != want[i] {
			t.Fatalf("rank %d: got %s want %s", i, p.ID(), want[i])
		}
	}
	if population[0].ID() != "a" {
		t.Fatal("ranking must not reorder the input")
	}
}
