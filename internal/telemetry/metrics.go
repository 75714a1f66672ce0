package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"neurodrive/internal/evo"
	"neurodrive/internal/model"
)

// Status is the snapshot served on /status.
type Status struct {
	RunID      string                  `json:"run_id"`
	Scene      string                  `json:"scene"`
	Progress   evo.Progress            `json:"progress"`
	LastRecord *model.GenerationRecord `json:"last_record,omitempty"`
	Episodes   int                     `json:"episodes"`
	Failures   map[string]int          `json:"failures"`
}

// Metrics records scheduler events into a private Prometheus registry and
// keeps the latest status snapshot. It implements evo.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	generation    prometheus.Gauge
	bestRecord    prometheus.Gauge
	genBestRecord prometheus.Gauge
	avgReward     prometheus.Gauge
	activeSlots   prometheus.Gauge
	episodes      prometheus.Counter
	failures      *prometheus.CounterVec
	fitness       prometheus.Histogram

	mu     sync.RWMutex
	status Status
}

var _ evo.Recorder = (*Metrics)(nil)

func NewMetrics(runID, scene string) *Metrics {
	labels := prometheus.Labels{"run_id": runID, "scene": scene}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "neurodrive_generation",
			Help:        "Index of the generation in progress.",
			ConstLabels: labels,
		}),
		bestRecord: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "neurodrive_best_record",
			Help:        "Best fitness seen during the run.",
			ConstLabels: labels,
		}),
		genBestRecord: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "neurodrive_generation_best_record",
			Help:        "Best fitness of the last closed generation.",
			ConstLabels: labels,
		}),
		avgReward: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "neurodrive_avg_reward",
			Help:        "Mean fitness of the last closed generation.",
			ConstLabels: labels,
		}),
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "neurodrive_active_slots",
			Help:        "Slots currently bound to a policy.",
			ConstLabels: labels,
		}),
		episodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "neurodrive_episodes_finished_total",
			Help:        "Episodes whose reward was attributed to a policy.",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "neurodrive_transient_failures_total",
			Help:        "Non-fatal sink and checkpoint failures.",
			ConstLabels: labels,
		}, []string{"kind"}),
		fitness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "neurodrive_episode_fitness",
			Help:        "Distribution of episode rewards.",
			ConstLabels: labels,
			Buckets:     []float64{-10, -1, -0.1, -0.01, 0, 10, 50, 100, 250, 500, 1000},
		}),
		status: Status{RunID: runID, Scene: scene, Failures: map[string]int{}},
	}
	m.registry.MustRegister(
		m.generation,
		m.bestRecord,
		m.genBestRecord,
		m.avgReward,
		m.activeSlots,
		m.episodes,
		m.failures,
		m.fitness,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) EpisodeFinished(_ int, fitness float64) {
	m.episodes.Inc()
	m.fitness.Observe(fitness)

	m.mu.Lock()
	m.status.Episodes++
	m.mu.Unlock()
}

func (m *Metrics) GenerationClosed(record model.GenerationRecord) {
	m.bestRecord.Set(record.BestRecord)
	m.genBestRecord.Set(record.GenBestRecord)
	m.avgReward.Set(record.AvgReward)

	m.mu.Lock()
	m.status.LastRecord = &record
	m.mu.Unlock()
}

func (m *Metrics) TransientFailure(kind string, _ error) {
	m.failures.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.status.Failures[kind]++
	m.mu.Unlock()
}

func (m *Metrics) Progress(progress evo.Progress) {
	m.generation.Set(float64(progress.Generation))
	m.activeSlots.Set(float64(progress.ActiveSlots))

	m.mu.Lock()
	m.status.Progress = progress
	m.mu.Unlock()
}

// Snapshot returns a copy safe to hand to other goroutines.
func (m *Metrics) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.status
	if m.status.LastRecord != nil {
		record := *m.status.LastRecord
		out.LastRecord = &record
	}
	out.Failures = make(map[string]int, len(m.status.Failures))
	for k, v := range m.status.Failures {
		out.Failures[k] = v
	}
	return out
}
