package evo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpointer persists the best policy of a generation. Callers treat
// failures as advisory.
type Checkpointer interface {
	Checkpoint(ctx context.Context, generation int, best Policy) error
}

// FileCheckpointer saves <Dir>/<Name>_g<generation>.json and refreshes
// <Dir>/<Name>.json as the latest copy.
type FileCheckpointer struct {
	Dir  string
	Name string
}

func (c FileCheckpointer) Checkpoint(ctx context.Context, generation int, best Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if best == nil {
		return errors.New("best policy is required")
	}
	if c.Name == "" {
		return errors.New("checkpoint name is required")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	if err := best.Save(c.VersionedPath(generation)); err != nil {
		return fmt.Errorf("save generation %d checkpoint: %w", generation, err)
	}
	if err := best.Save(c.LatestPath()); err != nil {
		return fmt.Errorf("save latest checkpoint: %w", err)
	}
	return nil
}

func (c FileCheckpointer) VersionedPath(generation int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_g%d.json", c.Name, generation))
}

func (c FileCheckpointer) LatestPath() string {
	return filepath.Join(c.Dir, c.Name+".json")
}
