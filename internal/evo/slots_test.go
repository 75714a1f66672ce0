package evo

import (
	"errors"
	"reflect"
	"testing"
)

func TestRemap(t *testing.T) {
	tests := []struct {
		name    string
		raw     []float64
		indices []int
		want    []float64
	}{
		{name: "out of range maps to zero", raw: []float64{0.5, 0.25, 0.75}, indices: []int{0, 5, 2}, want: []float64{0.5, 0, 0.75}},
		{name: "negative index maps to zero", raw: []float64{1, 2}, indices: []int{-1, 1}, want: []float64{0, 2}},
		{name: "reorder and repeat", raw: []float64{1, 2, 3}, indices: []int{2, 2, 0}, want: []float64{3, 3, 1}},
		{name: "empty raw", raw: nil, indices: []int{0, 1}, want: []float64{0, 0}},
		{name: "no indices", raw: []float64{1}, indices: []int{}, want: []float64{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Remap(tc.raw, tc.indices)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestSlotPoolReusesSlotsExactlyOncePerPolicy(t *testing.T) {
	population := genePopulation(0.1, 0.9, 0.3, 0.7, 0.5, 0.2, 0.8)
	episodes := sumEpisodes(3, 0)
	pool, err := NewSlotPool(episodes, SlotPoolOptions{})
	if err != nil {
		t.Fatalf("new slot pool: %v", err)
	}
	queue := NewDispatchQueue(population)
	if _, err := pool.TryFill(queue); err != nil {
		t.Fatalf("initial fill: %v", err)
	}
	if pool.ActiveCount() != 3 {
		t.Fatalf("expected 3 active slots, got %d", pool.ActiveCount())
	}

	sum := 0.0
	seen := map[string]int{}
	for ticks := 0; queue.Len() > 0 || pool.ActiveCount() > 0; ticks++ {
		if ticks > 100 {
			t.Fatal("scheduler did not drain")
		}
		reclaimed, err := pool.Tick(0.02)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		for _, r := range reclaimed {
			seen[r.Policy.ID()]++
			sum += r.Fitness
		}
		if _, err := pool.TryFill(queue); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}

	if pool.Fills() != len(population) {
		t.Fatalf("expected %d fills, got %d", len(population), pool.Fills())
	}
	if pool.Attributed() != len(population) {
		t.Fatalf("expected %d attributed, got %d", len(population), pool.Attributed())
	}
	want := 0.0
	for _, p := range population {
		gp := p.(*genePolicy)
		if gp.sets.Load() != 1 {
			t.Fatalf("policy %s fitness written %d times", gp.id, gp.sets.Load())
		}
		if seen[gp.id] != 1 {
			t.Fatalf("policy %s reclaimed %d times", gp.id, seen[gp.id])
		}
		want += gp.fitness
	}
	if sum != want {
		t.Fatalf("reclaimed fitness sum %f != policy fitness sum %f", sum, want)
	}
}

func TestSlotPoolMoreSlotsThanPolicies(t *testing.T) {
	episodes := sumEpisodes(5, 2)
	pool, err := NewSlotPool(episodes, SlotPoolOptions{})
	if err != nil {
		t.Fatalf("new slot pool: %v", err)
	}
	queue := NewDispatchQueue(genePopulation(1, 2))
	filled, err := pool.TryFill(queue)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled != 2 || pool.ActiveCount() != 2 {
		t.Fatalf("expected 2 active slots, filled=%d active=%d", filled, pool.ActiveCount())
	}
	for i := 2; i < 5; i++ {
		if episodes[i].(*sumEpisode).resets != 0 {
			t.Fatalf("idle slot %d should not be reset", i)
		}
	}
}

func TestSlotPoolRejectsDoubleBinding(t *testing.T) {
	pool, err := NewSlotPool(sumEpisodes(2, 5), SlotPoolOptions{})
	if err != nil {
		t.Fatalf("new slot pool: %v", err)
	}
	p := newGenePolicy("dup", 1)
	queue := NewDispatchQueue([]Policy{p, p})
	if _, err := pool.TryFill(queue); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestSlotPoolRejectsEmptyEpisodes(t *testing.T) {
	if _, err := NewSlotPool(nil, SlotPoolOptions{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestSlotPoolReclaimsInSameTick(t *testing.T) {
	pool, err := NewSlotPool(sumEpisodes(1, 1), SlotPoolOptions{})
	if err != nil {
		t.Fatalf("new slot pool: %v", err)
	}
	queue := NewDispatchQueue(genePopulation(3, 4))
	if _, err := pool.TryFill(queue); err != nil {
		t.Fatalf("fill: %v", err)
	}
	reclaimed, err := pool.Tick(0.02)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(reclaimed) != 1 || pool.ActiveCount() != 0 {
		t.Fatalf("expected slot idle after one tick, reclaimed=%d active=%d", len(reclaimed), pool.ActiveCount())
	}
	if _, err := pool.TryFill(queue); err != nil {
		t.Fatalf("refill: %v", err)
	}
	if pool.ActiveCount() != 1 {
		t.Fatal("expected slot refilled without an extra tick")
	}
}

func TestSlotPoolAppliesObservationRemap(t *testing.T) {
	ep := &sumEpisode{fixedLength: 1, observeLen: 3}
	pool, err := NewSlotPool([]Episode{ep}, SlotPoolOptions{ObservationIndices: []int{0, 5, 2, 1}})
	if err != nil {
		t.Fatalf("new slot pool: %v", err)
	}
	p := newGenePolicy("p", 0)
	if _, err := pool.TryFill(NewDispatchQueue([]Policy{p})); err != nil {
		t.Fatalf("fill: %v", err)
	}
	// genePolicy echoes the observation length as its second action value.
	rec := &lengthRecorder{Episode: ep}
	pool.slots[0].episode = rec
	if _, err := pool.Tick(0.02); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if rec.lastAction[1] != 4 {
		t.Fatalf("expected remapped observation of length 4, got %v", rec.lastAction[1])
	}
}

type lengthRecorder struct {
	Episode
	lastAction []float64
}

func (r *lengthRecorder) Step(action []float64) {
	r.lastAction = append([]float64(nil), action...)
	r.Episode.Step(action)
}

func TestSlotPoolRecoveringEpisodeBypassesPolicy(t *testing.T) {
	const enterAt, k, after = 2, 4, 3
	ep := &recoveringEpisode{sumEpisode: sumEpisode{fixedLength: enterAt + k + after}, enterAt: enterAt, k: k}
	pool, err := NewSlotPool([]Episode{ep}, SlotPoolOptions{})
	if err != nil {
		t.Fatalf("new slot pool: %v", err)
	}
	p := newGenePolicy("p", 1)
	if _, err := pool.TryFill(NewDispatchQueue([]Policy{p})); err != nil {
		t.Fatalf("fill: %v", err)
	}

	actsDuringRecovery := -1
	for tick := 1; pool.ActiveCount() > 0; tick++ {
		if tick > 50 {
			t.Fatal("episode never finished")
		}
		if _, err := pool.Tick(0.02); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if tick == enterAt+k {
			actsDuringRecovery = int(p.acts.Load())
			if ep.Recovering() {
				t.Fatal("expected recovery to end after k steps")
			}
		}
	}

	if ep.recovered != k {
		t.Fatalf("expected %d recovery steps, got %d", k, ep.recovered)
	}
	if actsDuringRecovery != enterAt {
		t.Fatalf("policy consulted during recovery: acts=%d want=%d", actsDuringRecovery, enterAt)
	}
	if got := int(p.acts.Load()); got != enterAt+after {
		t.Fatalf("expected %d policy acts, got %d", enterAt+after, got)
	}
	// enterAt+after steps of +1 and k recovery steps of -1.
	if want := float64(enterAt + after - k); p.fitness != want {
		t.Fatalf("unexpected fitness: got=%f want=%f", p.fitness, want)
	}
}

func TestSlotPoolParallelActMatchesSequential(t *testing.T) {
	run := func(workers int) []float64 {
		population := genePopulation(0.1, -0.4, 0.35, 0.6, -0.2, 0.9)
		pool, err := NewSlotPool(sumEpisodes(4, 0), SlotPoolOptions{ActWorkers: workers})
		if err != nil {
			t.Fatalf("new slot pool: %v", err)
		}
		queue := NewDispatchQueue(population)
		var order []float64
		for queue.Len() > 0 || pool.ActiveCount() > 0 {
			if _, err := pool.TryFill(queue); err != nil {
				t.Fatalf("fill: %v", err)
			}
			reclaimed, err := pool.Tick(0.02)
			if err != nil {
				t.Fatalf("tick: %v", err)
			}
			for _, r := range reclaimed {
				order = append(order, r.Fitness)
			}
		}
		return order
	}
	seq := run(1)
	par := run(4)
	if !reflect.DeepEqual(seq, par) {
		t.Fatalf("parallel act changed outcome: seq=%v par=%v", seq, par)
	}
}
