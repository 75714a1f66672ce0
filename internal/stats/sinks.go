package stats

import (
	"context"
	"errors"
	"fmt"

	"neurodrive/internal/evo"
	"neurodrive/internal/model"
	"neurodrive/internal/storage"
)

// StoreSink upserts generation records into a Store under one run id.
type StoreSink struct {
	Store storage.Store
	RunID string
}

func (s StoreSink) Append(ctx context.Context, record model.GenerationRecord) error {
	if s.Store == nil {
		return errors.New("store is required")
	}
	return s.Store.SaveGenerationRecord(ctx, s.RunID, record)
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []evo.StatsSink

func (m MultiSink) Append(ctx context.Context, record model.GenerationRecord) error {
	var errs []error
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
