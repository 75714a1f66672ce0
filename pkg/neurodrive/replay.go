package neurodrive

import (
	"context"
	"fmt"
	"path/filepath"

	"neurodrive/internal/brain"
	"neurodrive/internal/evo"
	"neurodrive/internal/scape"
	"neurodrive/internal/stats"
)

type ReplayRequest struct {
	RunID  string
	Latest bool
	// CheckpointPath overrides the run's latest checkpoint.
	CheckpointPath string
	// Generation selects the obstacle layout of that generation.
	Generation int
	// MaxSteps caps the replay; zero uses the car's step budget.
	MaxSteps int
}

type ReplayResult struct {
	RunID    string
	PolicyID string
	Reward   float64
	Steps    int
	Trace    scape.Trace
}

// Replay drives a checkpointed brain through one fresh episode on the track
// of the run that produced it.
func (c *Client) Replay(ctx context.Context, req ReplayRequest) (ReplayResult, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ReplayResult{}, err
	}
	var runReq RunRequest
	ok, err := stats.ReadRunConfig(c.runsDir, runID, &runReq)
	if err != nil {
		return ReplayResult{}, err
	}
	if !ok {
		return ReplayResult{}, fmt.Errorf("run config not found for run %s", runID)
	}
	runReq = runReq.withDefaults()

	path := req.CheckpointPath
	if path == "" {
		path = evo.FileCheckpointer{
			Dir:  filepath.Join(stats.RunDir(c.runsDir, runID), checkpointsDir),
			Name: runReq.Scene,
		}.LatestPath()
	}
	policy, err := brain.Load(path, brainConfig(runReq))
	if err != nil {
		return ReplayResult{}, err
	}

	track, err := buildTrack(runReq)
	if err != nil {
		return ReplayResult{}, err
	}
	randomizer, err := buildRandomizer(track, runReq, c.logger)
	if err != nil {
		return ReplayResult{}, err
	}
	randomizer.Randomize(runReq.ObstacleSeedBase + int64(req.Generation))
	episode, err := scape.NewCarEpisode(track, randomizer, runReq.Car)
	if err != nil {
		return ReplayResult{}, err
	}

	steps, err := drive(ctx, policy, episode, runReq.ObservationIndices, runReq.Car.TickSeconds, req.MaxSteps)
	if err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{
		RunID:    runID,
		PolicyID: policy.ID(),
		Reward:   episode.Reward(),
		Steps:    steps,
		Trace:    episode.Trace(),
	}, nil
}

// drive runs one episode to completion the way a scheduler slot would.
func drive(ctx context.Context, policy evo.Policy, episode *scape.CarEpisode, indices []int, dt float64, maxSteps int) (int, error) {
	episode.Reset()
	steps := 0
	for !episode.Done() {
		if maxSteps > 0 && steps >= maxSteps {
			episode.Stop()
			break
		}
		if steps%256 == 0 {
			if err := ctx.Err(); err != nil {
				return steps, err
			}
		}
		var action []float64
		if episode.Recovering() {
			action = episode.AdvanceRecovery(dt)
		} else {
			obs := episode.Observe()
			if len(indices) > 0 {
				obs = evo.Remap(obs, indices)
			}
			out, err := policy.Act(obs)
			if err != nil {
				return steps, fmt.Errorf("act at step %d: %w", steps, err)
			}
			action = out
		}
		episode.Step(action)
		steps++
	}
	return steps, nil
}
