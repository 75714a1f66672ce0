package scape

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

// Obstacle is a round blocker on the track surface. Unplaced obstacles are
// ignored by sensors and collisions.
type Obstacle struct {
	Tag    string  `json:"tag"`
	Pos    Vec2    `json:"pos"`
	Radius float64 `json:"radius"`
	Placed bool    `json:"placed"`
}

// ObstacleSource supplies the obstacles an episode sees.
type ObstacleSource interface {
	Obstacles() []Obstacle
}

type RandomizerConfig struct {
	// Tag selects which registered obstacles are moved.
	Tag string `json:"tag" yaml:"tag"`
	// EveryNth thins candidate anchors to every Nth waypoint.
	EveryNth      int     `json:"every_nth" yaml:"every_nth"`
	LateralOffset float64 `json:"lateral_offset" yaml:"lateral_offset"`
	LateralJitter float64 `json:"lateral_jitter" yaml:"lateral_jitter"`
	BothSides     bool    `json:"both_sides" yaml:"both_sides"`
	// NoDuplicateAnchors places at most one obstacle per anchor; obstacles
	// beyond the anchor count stay unplaced.
	NoDuplicateAnchors bool `json:"no_duplicate_anchors" yaml:"no_duplicate_anchors"`
}

func DefaultRandomizerConfig() RandomizerConfig {
	return RandomizerConfig{
		Tag:                "rock",
		EveryNth:           5,
		LateralOffset:      2.5,
		LateralJitter:      0.5,
		BothSides:          true,
		NoDuplicateAnchors: true,
	}
}

// ObstacleRandomizer keeps a tag registry of obstacles and re-places the ones
// under its configured tag beside thinned track waypoints.
type ObstacleRandomizer struct {
	track  *Track
	cfg    RandomizerConfig
	logger *slog.Logger

	mu        sync.RWMutex
	obstacles []Obstacle
	byTag     map[string][]int
}

func NewObstacleRandomizer(track *Track, cfg RandomizerConfig, logger *slog.Logger) (*ObstacleRandomizer, error) {
	if track == nil {
		return nil, errors.New("track is required")
	}
	if cfg.EveryNth < 1 {
		cfg.EveryNth = 1
	}
	if cfg.LateralJitter < 0 {
		return nil, fmt.Errorf("lateral jitter must be >= 0: %g", cfg.LateralJitter)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ObstacleRandomizer{
		track:  track,
		cfg:    cfg,
		logger: logger,
		byTag:  make(map[string][]int),
	}, nil
}

// Register adds an unplaced obstacle under tag.
func (r *ObstacleRandomizer) Register(tag string, radius float64) error {
	if tag == "" {
		return errors.New("obstacle tag is required")
	}
	if radius <= 0 {
		return fmt.Errorf("obstacle radius must be > 0: %g", radius)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byTag[tag] = append(r.byTag[tag], len(r.obstacles))
	r.obstacles = append(r.obstacles, Obstacle{Tag: tag, Radius: radius})
	return nil
}

// Tagged reports how many obstacles are registered under tag.
func (r *ObstacleRandomizer) Tagged(tag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTag[tag])
}

// Anchors returns the candidate waypoint indices in track order.
func (r *ObstacleRandomizer) Anchors() []int {
	var out []int
	for i := 0; i < r.track.Len(); i += r.cfg.EveryNth {
		out = append(out, i)
	}
	return out
}

// Randomize re-places every obstacle under the configured tag using seed and
// returns how many were placed. Equal seeds give equal layouts.
func (r *ObstacleRandomizer) Randomize(seed int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	anchors := r.Anchors()
	tagged := r.byTag[r.cfg.Tag]
	if len(anchors) == 0 {
		r.logger.Warn("no obstacle anchors on track", "track", r.track.Name)
		return 0
	}
	if len(tagged) == 0 {
		r.logger.Warn("no obstacles registered for tag", "tag", r.cfg.Tag)
		return 0
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(anchors), func(i, j int) { anchors[i], anchors[j] = anchors[j], anchors[i] })

	placed := 0
	for i, idx := range tagged {
		obstacle := &r.obstacles[idx]
		var anchor int
		if r.cfg.NoDuplicateAnchors {
			if i >= len(anchors) {
				obstacle.Placed = false
				continue
			}
			anchor = anchors[i]
		} else {
			anchor = anchors[rng.Intn(len(anchors))]
		}

		side := 1.0
		if r.cfg.BothSides && rng.Float64() < 0.5 {
			side = -1
		}
		jitter := (rng.Float64()*2 - 1) * r.cfg.LateralJitter
		offset := r.track.Right(anchor).Scale(side * (r.cfg.LateralOffset + jitter))
		obstacle.Pos = r.track.Waypoints[anchor].Add(offset)
		obstacle.Placed = true
		placed++
	}
	return placed
}

// Obstacles returns a snapshot of the placed obstacles.
func (r *ObstacleRandomizer) Obstacles() []Obstacle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Obstacle, 0, len(r.obstacles))
	for _, o := range r.obstacles {
		if o.Placed {
			out = append(out, o)
		}
	}
	return out
}
