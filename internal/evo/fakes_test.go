package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"sync/atomic"

	"neurodrive/internal/model"
)

// genePolicy acts with a constant gene value and mutates by gaussian jitter.
type genePolicy struct {
	id       string
	gene     float64
	fitness  float64
	sets     atomic.Int32
	acts     atomic.Int32
	saveErr  error
	savedTo  []string
	mutateFn func(seed int64) float64
}

func newGenePolicy(id string, gene float64) *genePolicy {
	return &genePolicy{id: id, gene: gene}
}

func (p *genePolicy) ID() string { return p.id }

func (p *genePolicy) Act(observation []float64) ([]float64, error) {
	p.acts.Add(1)
	return []float64{p.gene, float64(len(observation))}, nil
}

func (p *genePolicy) Mutate(seed int64, id string) Policy {
	rng := rand.New(rand.NewSource(seed))
	return &genePolicy{id: id, gene: p.gene + rng.NormFloat64()*0.5}
}

func (p *genePolicy) Fitness() float64 { return p.fitness }

func (p *genePolicy) SetFitness(fitness float64) {
	p.sets.Add(1)
	p.fitness = fitness
}

func (p *genePolicy) Save(identifier string) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.savedTo = append(p.savedTo, identifier)
	return os.WriteFile(identifier, []byte(p.id), 0o644)
}

func genePopulation(genes ...float64) []Policy {
	out := make([]Policy, len(genes))
	for i, g := range genes {
		out[i] = newGenePolicy("seed-"+string(rune('a'+i)), g)
	}
	return out
}

// sumEpisode accumulates action[0] as reward and finishes after a length
// derived from the first action it receives.
type sumEpisode struct {
	fixedLength int
	steps       int
	length      int
	reward      float64
	observeLen  int
	resets      int
	stops       int
}

func (e *sumEpisode) Observe() []float64 {
	n := e.observeLen
	if n == 0 {
		n = 3
	}
	obs := make([]float64, n)
	for i := range obs {
		obs[i] = float64(i + e.steps)
	}
	return obs
}

func (e *sumEpisode) Step(action []float64) {
	if e.steps == 0 {
		e.length = e.fixedLength
		if e.length <= 0 {
			e.length = 1 + int(math.Abs(action[0]*7))%4
		}
	}
	e.steps++
	e.reward += action[0]
}

func (e *sumEpisode) Done() bool { return e.length > 0 && e.steps >= e.length }
func (e *sumEpisode) Reward() float64 { return e.reward }
func (e *sumEpisode) Stop() { e.stops++ }

func (e *sumEpisode) Reset() {
	e.resets++
	e.steps = 0
	e.length = 0
	e.reward = 0
}

func sumEpisodes(n, fixedLength int) []Episode {
	out := make([]Episode, n)
	for i := range out {
		out[i] = &sumEpisode{fixedLength: fixedLength}
	}
	return out
}

// recoveringEpisode enters recovery after enterAt policy steps and stays there
// for k steps.
type recoveringEpisode struct {
	sumEpisode
	enterAt   int
	k         int
	remaining int
	entered   bool
	recovered int
}

func (e *recoveringEpisode) Recovering() bool { return e.remaining > 0 }

func (e *recoveringEpisode) AdvanceRecovery(float64) []float64 {
	e.remaining--
	e.recovered++
	return []float64{-1}
}

func (e *recoveringEpisode) Step(action []float64) {
	e.sumEpisode.Step(action)
	if !e.entered && e.steps == e.enterAt {
		e.entered = true
		e.remaining = e.k
	}
}

func (e *recoveringEpisode) Reset() {
	e.sumEpisode.Reset()
	e.entered = false
	e.remaining = 0
	e.recovered = 0
}

type memorySink struct {
	records []model.GenerationRecord
	err     error
}

func (s *memorySink) Append(_ context.Context, record model.GenerationRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

type countingRecorder struct {
	NopRecorder
	finished int
	closed   int
	failures map[string]int
}

func (r *countingRecorder) EpisodeFinished(int, float64) { r.finished++ }

func (r *countingRecorder) GenerationClosed(model.GenerationRecord) { r.closed++ }

func (r *countingRecorder) TransientFailure(kind string, _ error) {
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[kind]++
}

var errTransient = errors.New("transient failure")
