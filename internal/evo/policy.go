package evo

// Policy is an evolvable controller. Fitness is written by the scheduler once
// per generation, when the Policy's episode finishes.
type Policy interface {
	ID() string
	Act(observation []float64) ([]float64, error)
	// Mutate returns a new Policy derived from the receiver. The receiver is
	// left untouched and the same (seed, parent) pair yields the same child.
	Mutate(seed int64, id string) Policy
	Fitness() float64
	SetFitness(fitness float64)
	// Save persists the policy under identifier. Failures are non-fatal.
	Save(identifier string) error
}

// Episode is one bounded simulation run driven one step per tick.
type Episode interface {
	Observe() []float64
	Step(action []float64)
	Done() bool
	Reward() float64
	Reset()
	Stop()
}

// Recoverer is implemented by episodes with a self-driven recovery state.
// While Recovering reports true the bound Policy is not consulted.
type Recoverer interface {
	Recovering() bool
	AdvanceRecovery(dt float64) []float64
}

// Remap picks the observation values at indices. Out-of-range indices yield 0.
func Remap(raw []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, index := range indices {
		if index < 0 || index >= len(raw) {
			continue
		}
		out[i] = raw[index]
	}
	return out
}
