package storage

import (
	"context"

	"neurodrive/internal/model"
)

// Store persists run outputs: generation statistics, lineage, the run index
// and checkpointed brain genomes.
type Store interface {
	Init(ctx context.Context) error
	SaveGenome(ctx context.Context, genome model.Genome) error
	GetGenome(ctx context.Context, id string) (model.Genome, bool, error)
	// SaveGenerationRecord upserts by (runID, record.Generation).
	SaveGenerationRecord(ctx context.Context, runID string, record model.GenerationRecord) error
	GetGenerationRecords(ctx context.Context, runID string) ([]model.GenerationRecord, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
	SaveRun(ctx context.Context, entry model.RunIndexEntry) error
	GetRun(ctx context.Context, runID string) (model.RunIndexEntry, bool, error)
}
