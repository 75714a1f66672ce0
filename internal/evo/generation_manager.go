package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"neurodrive/internal/model"
)

// RecordSentinel sits below any valid fitness; GenBestRecord starts each
// generation here and BestRecord starts the run here.
const RecordSentinel = -9999.0

const defaultTickSeconds = 0.02

type ManagerConfig struct {
	PopulationSize int
	EliteCount     int
	TournamentSize int
	Seed           int64
	// TickSeconds is the simulated time handed to recovering episodes per tick.
	TickSeconds        float64
	ObservationIndices []int
	ActWorkers         int

	// Selector overrides the default ElitistTournament built from the fields above.
	Selector     Selector
	Sink         StatsSink
	Checkpointer Checkpointer
	Recorder     Recorder
	// OnGenerationStart runs before the first dispatch of every generation.
	OnGenerationStart func(generation int)
	Logger            *slog.Logger
}

// GenerationManager owns the population and drives generations tick by tick.
// It is not safe for concurrent use.
type GenerationManager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	recorder Recorder
	selector Selector
	pool     *SlotPool

	population []Policy
	queue      *DispatchQueue
	generation int
	sumReward  float64
	completed  int
	bestRecord float64
	genBest    float64
	avgReward  float64
	records    []model.GenerationRecord
	lineage    []model.LineageRecord
}

func NewGenerationManager(cfg ManagerConfig, initial []Policy, episodes []Episode) (*GenerationManager, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", ErrConfig)
	}
	if len(initial) != cfg.PopulationSize {
		return nil, fmt.Errorf("%w: initial population mismatch: got=%d want=%d", ErrConfig, len(initial), cfg.PopulationSize)
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("%w: slot count must be > 0", ErrConfig)
	}
	seen := make(map[string]struct{}, len(initial))
	for i, p := range initial {
		if p == nil {
			return nil, fmt.Errorf("%w: initial policy %d is nil", ErrConfig, i)
		}
		if _, dup := seen[p.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate policy id %s", ErrConfig, p.ID())
		}
		seen[p.ID()] = struct{}{}
	}
	if cfg.TickSeconds <= 0 {
		cfg.TickSeconds = defaultTickSeconds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}

	selector := cfg.Selector
	if selector == nil {
		var checkpointer Checkpointer
		if cfg.Checkpointer != nil {
			checkpointer = reportingCheckpointer{inner: cfg.Checkpointer, recorder: cfg.Recorder}
		}
		et := ElitistTournament{
			EliteCount:     cfg.EliteCount,
			TournamentSize: cfg.TournamentSize,
			Seed:           cfg.Seed,
			Checkpointer:   checkpointer,
			Logger:         cfg.Logger,
		}
		if err := et.Validate(cfg.PopulationSize); err != nil {
			return nil, err
		}
		selector = et
	}

	pool, err := NewSlotPool(episodes, SlotPoolOptions{
		ObservationIndices: cfg.ObservationIndices,
		ActWorkers:         cfg.ActWorkers,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	m := &GenerationManager{
		cfg:        cfg,
		logger:     cfg.Logger,
		recorder:   cfg.Recorder,
		selector:   selector,
		pool:       pool,
		population: append([]Policy(nil), initial...),
		bestRecord: RecordSentinel,
		genBest:    RecordSentinel,
	}
	for _, p := range m.population {
		m.lineage = append(m.lineage, model.LineageRecord{
			PolicyID:   p.ID(),
			Generation: 0,
			Operation:  model.OperationSeed,
		})
	}
	if err := m.beginGeneration(); err != nil {
		return nil, err
	}
	return m, nil
}

// Tick advances all active slots by one step, refills idle slots, and closes
// the generation when every policy has been scored. It reports whether a
// generation closed during this tick.
func (m *GenerationManager) Tick(ctx context.Context) (bool, error) {
	reclaimed, err := m.pool.Tick(m.cfg.TickSeconds)
	if err != nil {
		return false, err
	}
	for _, r := range reclaimed {
		m.sumReward += r.Fitness
		m.bestRecord = math.Max(m.bestRecord, r.Fitness)
		m.genBest = math.Max(m.genBest, r.Fitness)
		m.completed++
		m.recorder.EpisodeFinished(r.Slot, r.Fitness)
	}
	if _, err := m.pool.TryFill(m.queue); err != nil {
		return false, err
	}

	if m.queue.Len() == 0 && m.pool.ActiveCount() == 0 {
		if err := m.closeGeneration(ctx); err != nil {
			return true, err
		}
		return true, nil
	}
	m.recorder.Progress(m.Progress())
	return false, nil
}

// Run ticks until the given number of further generations has closed.
func (m *GenerationManager) Run(ctx context.Context, generations int) error {
	if generations <= 0 {
		return fmt.Errorf("%w: generations must be > 0", ErrConfig)
	}
	target := m.generation + generations
	for m.generation < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *GenerationManager) closeGeneration(ctx context.Context) error {
	size := len(m.population)
	if m.pool.Attributed() != size {
		return fmt.Errorf("%w: generation %d scored %d of %d policies", ErrInvariant, m.generation, m.pool.Attributed(), size)
	}
	m.avgReward = m.sumReward / float64(size)
	record := model.GenerationRecord{
		Generation:    m.generation,
		BestRecord:    m.bestRecord,
		GenBestRecord: m.genBest,
		AvgReward:     m.avgReward,
	}
	m.records = append(m.records, record)
	if m.cfg.Sink != nil {
		if err := m.cfg.Sink.Append(ctx, record); err != nil {
			m.logger.Warn("stats sink append failed", "generation", record.Generation, "err", err)
			m.recorder.TransientFailure("sink", err)
		}
	}
	m.recorder.GenerationClosed(record)

	next, lineage, err := m.selector.NextGeneration(ctx, m.population, m.generation)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("select generation %d: %w", m.generation+1, err)
	}
	if len(next) != size {
		return fmt.Errorf("%w: selector %s returned %d policies, want %d", ErrInvariant, m.selector.Name(), len(next), size)
	}

	m.population = next
	m.lineage = append(m.lineage, lineage...)
	m.sumReward = 0
	m.completed = 0
	m.genBest = RecordSentinel
	m.generation++
	m.pool.ResetAll()
	return m.beginGeneration()
}

func (m *GenerationManager) beginGeneration() error {
	if m.cfg.OnGenerationStart != nil {
		m.cfg.OnGenerationStart(m.generation)
	}
	m.queue = NewDispatchQueue(m.population)
	m.pool.BeginGeneration()
	if _, err := m.pool.TryFill(m.queue); err != nil {
		return err
	}
	m.recorder.Progress(m.Progress())
	return nil
}

func (m *GenerationManager) Generation() int {
	return m.generation
}

func (m *GenerationManager) BestRecord() float64 {
	return m.bestRecord
}

func (m *GenerationManager) GenBestRecord() float64 {
	return m.genBest
}

func (m *GenerationManager) SumReward() float64 {
	return m.sumReward
}

func (m *GenerationManager) Population() []Policy {
	return append([]Policy(nil), m.population...)
}

func (m *GenerationManager) Records() []model.GenerationRecord {
	return append([]model.GenerationRecord(nil), m.records...)
}

func (m *GenerationManager) Lineage() []model.LineageRecord {
	return append([]model.LineageRecord(nil), m.lineage...)
}

// Fills reports slot bind events in the current generation.
func (m *GenerationManager) Fills() int {
	return m.pool.Fills()
}

func (m *GenerationManager) Progress() Progress {
	return Progress{
		Generation:     m.generation,
		Dispatched:     len(m.population) - m.queue.Len(),
		Completed:      m.completed,
		PopulationSize: len(m.population),
		ActiveSlots:    m.pool.ActiveCount(),
		Slots:          m.pool.Capacity(),
		BestRecord:     m.bestRecord,
		GenBestRecord:  m.genBest,
		AvgReward:      m.avgReward,
	}
}

type reportingCheckpointer struct {
	inner    Checkpointer
	recorder Recorder
}

func (c reportingCheckpointer) Checkpoint(ctx context.Context, generation int, best Policy) error {
	err := c.inner.Checkpoint(ctx, generation, best)
	if err != nil {
		c.recorder.TransientFailure("checkpoint", err)
	}
	return err
}
