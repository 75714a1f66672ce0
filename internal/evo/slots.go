package evo

import (
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// Reclaimed reports one finished episode collected during a tick.
type Reclaimed struct {
	Slot    int
	Policy  Policy
	Fitness float64
}

type SlotPoolOptions struct {
	// ObservationIndices remaps raw episode observations before Act. Nil
	// passes observations through unchanged.
	ObservationIndices []int
	// ActWorkers bounds the goroutines computing actions within one tick.
	ActWorkers int
	Logger     *slog.Logger
}

type slot struct {
	episode Episode
	policy  Policy
	active  bool
}

// SlotPool binds policies to a fixed set of episodes. It is driven from a
// single goroutine.
type SlotPool struct {
	slots      []slot
	bound      map[string]int
	attributed map[string]struct{}
	indices    []int
	workers    int
	logger     *slog.Logger
	fills      int
}

func NewSlotPool(episodes []Episode, opts SlotPoolOptions) (*SlotPool, error) {
	if len(episodes) == 0 {
		return nil, fmt.Errorf("%w: slot count must be > 0", ErrConfig)
	}
	slots := make([]slot, len(episodes))
	for i, episode := range episodes {
		if episode == nil {
			return nil, fmt.Errorf("%w: episode for slot %d is nil", ErrConfig, i)
		}
		slots[i] = slot{episode: episode}
	}
	workers := opts.ActWorkers
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var indices []int
	if opts.ObservationIndices != nil {
		indices = append([]int(nil), opts.ObservationIndices...)
	}
	return &SlotPool{
		slots:      slots,
		bound:      make(map[string]int, len(episodes)),
		attributed: make(map[string]struct{}),
		indices:    indices,
		workers:    workers,
		logger:     logger,
	}, nil
}

func (p *SlotPool) Capacity() int {
	return len(p.slots)
}

func (p *SlotPool) ActiveCount() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].active {
			n++
		}
	}
	return n
}

// Fills returns the number of bind events since the last BeginGeneration.
func (p *SlotPool) Fills() int {
	return p.fills
}

// Attributed returns how many policies received fitness this generation.
func (p *SlotPool) Attributed() int {
	return len(p.attributed)
}

// BeginGeneration clears the per-generation attribution ledger.
func (p *SlotPool) BeginGeneration() {
	p.attributed = make(map[string]struct{}, len(p.attributed))
	p.fills = 0
}

// ResetAll resets every episode, bound or not.
func (p *SlotPool) ResetAll() {
	for i := range p.slots {
		p.slots[i].episode.Reset()
	}
}

// TryFill binds queued policies to idle slots, lowest index first.
func (p *SlotPool) TryFill(queue *DispatchQueue) (int, error) {
	filled := 0
	for i := range p.slots {
		if queue.Len() == 0 {
			break
		}
		s := &p.slots[i]
		if s.active {
			continue
		}
		policy, _ := queue.Pop()
		if policy == nil {
			return filled, fmt.Errorf("%w: nil policy dispatched to slot %d", ErrInvariant, i)
		}
		if other, ok := p.bound[policy.ID()]; ok {
			return filled, fmt.Errorf("%w: policy %s already bound to slot %d", ErrInvariant, policy.ID(), other)
		}
		s.episode.Reset()
		s.policy = policy
		s.active = true
		p.bound[policy.ID()] = i
		p.fills++
		filled++
	}
	return filled, nil
}

// Tick advances every active episode by one step. Actions are computed from
// the tick's start state before any episode is stepped; finished slots are
// reclaimed and left idle within the same tick.
func (p *SlotPool) Tick(dt float64) ([]Reclaimed, error) {
	stepping := make([]int, 0, len(p.slots))
	for i := range p.slots {
		s := &p.slots[i]
		if !s.active {
			continue
		}
		if s.policy == nil {
			p.logger.Warn("active slot without policy, releasing", "slot", i)
			s.active = false
			continue
		}
		if !s.episode.Done() {
			stepping = append(stepping, i)
		}
	}

	actions := make([][]float64, len(p.slots))
	errs := make([]error, len(p.slots))
	compute := func(i int) {
		s := &p.slots[i]
		if rec, ok := s.episode.(Recoverer); ok && rec.Recovering() {
			actions[i] = rec.AdvanceRecovery(dt)
			return
		}
		obs := s.episode.Observe()
		if p.indices != nil {
			obs = Remap(obs, p.indices)
		}
		actions[i], errs[i] = s.policy.Act(obs)
	}

	if p.workers > 1 && len(stepping) > 1 {
		wp := pool.New().WithMaxGoroutines(p.workers)
		for _, i := range stepping {
			i := i
			wp.Go(func() { compute(i) })
		}
		wp.Wait()
	} else {
		for _, i := range stepping {
			compute(i)
		}
	}

	for _, i := range stepping {
		if errs[i] != nil {
			return nil, fmt.Errorf("slot %d policy %s act: %w", i, p.slots[i].policy.ID(), errs[i])
		}
	}
	for _, i := range stepping {
		p.slots[i].episode.Step(actions[i])
	}

	var reclaimed []Reclaimed
	for i := range p.slots {
		s := &p.slots[i]
		if !s.active || !s.episode.Done() {
			continue
		}
		id := s.policy.ID()
		if _, dup := p.attributed[id]; dup {
			return reclaimed, fmt.Errorf("%w: policy %s scored twice in one generation", ErrInvariant, id)
		}
		fitness := s.episode.Reward()
		s.policy.SetFitness(fitness)
		p.attributed[id] = struct{}{}
		s.episode.Stop()
		reclaimed = append(reclaimed, Reclaimed{Slot: i, Policy: s.policy, Fitness: fitness})
		delete(p.bound, id)
		s.policy = nil
		s.active = false
	}
	return reclaimed, nil
}
