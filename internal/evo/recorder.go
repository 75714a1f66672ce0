package evo

import (
	"context"

	"neurodrive/internal/model"
)

// StatsSink receives one record per closed generation.
type StatsSink interface {
	Append(ctx context.Context, record model.GenerationRecord) error
}

// Progress is a point-in-time view of the scheduler for status reporting.
type Progress struct {
	Generation     int     `json:"generation"`
	Dispatched     int     `json:"dispatched"`
	Completed      int     `json:"completed"`
	PopulationSize int     `json:"population_size"`
	ActiveSlots    int     `json:"active_slots"`
	Slots          int     `json:"slots"`
	BestRecord     float64 `json:"best_record"`
	GenBestRecord  float64 `json:"gen_best_record"`
	AvgReward      float64 `json:"avg_reward"`
}

// Recorder observes scheduler events. Implementations must not call back
// into the GenerationManager.
type Recorder interface {
	EpisodeFinished(slot int, fitness float64)
	GenerationClosed(record model.GenerationRecord)
	TransientFailure(kind string, err error)
	Progress(progress Progress)
}

type NopRecorder struct{}

func (NopRecorder) EpisodeFinished(int, float64) {}
func (NopRecorder) GenerationClosed(model.GenerationRecord) {}
func (NopRecorder) TransientFailure(string, error) {}
func (NopRecorder) Progress(Progress) {}
