package scape

import (
	"errors"
	"fmt"
	"math"

	"neurodrive/internal/evo"
	"neurodrive/internal/nn"
)

// ActionSize is the length of a car action: steer, gas, brake.
const ActionSize = 3

// minDistance keeps -1/distance finite for cars that never moved.
const minDistance = 1e-3

// reverseGasLimit bounds gas while backing up.
const reverseGasLimit = -0.3

type CarConfig struct {
	// SensorAngles are ray directions in degrees relative to the heading;
	// positive angles look right. Rays with |angle| < 90 count as front sensors.
	SensorAngles []float64 `json:"sensor_angles" yaml:"sensor_angles"`
	SensorRange  float64   `json:"sensor_range" yaml:"sensor_range"`

	StepMax           int  `json:"step_max" yaml:"step_max"`
	LocalStepMax      int  `json:"local_step_max" yaml:"local_step_max"`
	AllowPlusReward   bool `json:"allow_plus_reward" yaml:"allow_plus_reward"`
	BackUpOnCollision bool `json:"back_up_on_collision" yaml:"back_up_on_collision"`
	RecoverySteps     int  `json:"recovery_steps" yaml:"recovery_steps"`

	TickSeconds  float64 `json:"tick_seconds" yaml:"tick_seconds"`
	MaxSpeed     float64 `json:"max_speed" yaml:"max_speed"`
	Acceleration float64 `json:"acceleration" yaml:"acceleration"`
	BrakeDecel   float64 `json:"brake_decel" yaml:"brake_decel"`
	Drag         float64 `json:"drag" yaml:"drag"`
	SteerRate    float64 `json:"steer_rate" yaml:"steer_rate"`

	WallPenalty   float64 `json:"wall_penalty" yaml:"wall_penalty"`
	CornerPenalty float64 `json:"corner_penalty" yaml:"corner_penalty"`
	CornerSpeed   float64 `json:"corner_speed" yaml:"corner_speed"`
}

func DefaultCarConfig() CarConfig {
	return CarConfig{
		SensorAngles:    []float64{-60, -30, 0, 30, 60},
		SensorRange:     20,
		StepMax:         5000,
		LocalStepMax:    200,
		AllowPlusReward: true,
		RecoverySteps:   50,
		TickSeconds:     0.02,
		MaxSpeed:        25,
		Acceleration:    12,
		BrakeDecel:      25,
		Drag:            0.1,
		SteerRate:       2.5,
		WallPenalty:     0.001,
		CornerPenalty:   0.0005,
		CornerSpeed:     15,
	}
}

// ObservationSize is the observation length for cfg: one value per sensor,
// three for local velocity and three for the next waypoint direction.
func ObservationSize(cfg CarConfig) int {
	return len(cfg.SensorAngles) + 6
}

func (c CarConfig) validate() error {
	if len(c.SensorAngles) == 0 {
		return errors.New("at least one sensor angle is required")
	}
	if c.SensorRange <= 0 || c.TickSeconds <= 0 || c.MaxSpeed <= 0 {
		return fmt.Errorf("sensor range, tick seconds and max speed must be > 0: %g %g %g", c.SensorRange, c.TickSeconds, c.MaxSpeed)
	}
	if c.StepMax <= 0 || c.LocalStepMax <= 0 {
		return fmt.Errorf("step budgets must be > 0: step_max=%d local_step_max=%d", c.StepMax, c.LocalStepMax)
	}
	if c.BackUpOnCollision && c.RecoverySteps <= 0 {
		return fmt.Errorf("recovery steps must be > 0 when backing up: %d", c.RecoverySteps)
	}
	return nil
}

// CarEpisode drives one kinematic car around a Track. Walls and obstacles
// are solid: a move that would hit them is undone.
type CarEpisode struct {
	track     *Track
	obstacles ObstacleSource
	cfg       CarConfig

	placed  []Obstacle
	pos     Vec2
	lastPos Vec2
	angle   float64
	speed   float64
	nextDir Vec2

	currentStep   int
	localStep     int
	totalDistance float64
	waypointIndex int
	laps          int
	collisions    int

	reward     float64
	done       bool
	recovering int
	backingUp  bool
}

var (
	_ evo.Episode   = (*CarEpisode)(nil)
	_ evo.Recoverer = (*CarEpisode)(nil)
)

// NewCarEpisode builds an episode on track. obstacles may be nil.
func NewCarEpisode(track *Track, obstacles ObstacleSource, cfg CarConfig) (*CarEpisode, error) {
	if track == nil {
		return nil, errors.New("track is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.SensorAngles = append([]float64(nil), cfg.SensorAngles...)
	e := &CarEpisode{track: track, obstacles: obstacles, cfg: cfg}
	e.Reset()
	return e, nil
}

// NewCarEpisodes builds n independent episodes sharing track and obstacles.
func NewCarEpisodes(n int, track *Track, obstacles ObstacleSource, cfg CarConfig) ([]evo.Episode, error) {
	if n <= 0 {
		return nil, fmt.Errorf("episode count must be > 0: %d", n)
	}
	out := make([]evo.Episode, 0, n)
	for i := 0; i < n; i++ {
		e, err := NewCarEpisode(track, obstacles, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (e *CarEpisode) Reset() {
	e.pos = e.track.Waypoints[0]
	e.lastPos = e.pos
	e.angle = e.track.StartHeading()
	e.speed = 0
	e.nextDir = e.track.Direction(0)
	e.currentStep = 0
	e.localStep = 0
	e.totalDistance = 0
	e.waypointIndex = 0
	e.laps = 0
	e.collisions = 0
	e.reward = 0
	e.done = false
	e.recovering = 0
	e.backingUp = false
	e.placed = nil
	if e.obstacles != nil {
		e.placed = e.obstacles.Obstacles()
	}
}

func (e *CarEpisode) Stop() {
	e.speed = 0
}

func (e *CarEpisode) Done() bool {
	return e.done
}

func (e *CarEpisode) Reward() float64 {
	return e.reward
}

// Observe returns sensor readings in [0, 1] (1 is clear), the local velocity
// divided by 5 and the local direction of the next waypoint. Local vectors
// are (right, up, forward).
func (e *CarEpisode) Observe() []float64 {
	out := make([]float64, 0, ObservationSize(e.cfg))
	out = append(out, e.sensorReadings()...)
	out = append(out, 0, 0, e.speed/5)
	forward := heading(e.angle)
	out = append(out, e.nextDir.Dot(forward.Right()), 0, e.nextDir.Dot(forward))
	return out
}

func (e *CarEpisode) Recovering() bool {
	return e.recovering > 0 && !e.done
}

// AdvanceRecovery spends one recovery step and returns a reversing action
// that swings the car back toward the track direction.
func (e *CarEpisode) AdvanceRecovery(float64) []float64 {
	if e.recovering > 0 {
		e.recovering--
	}
	e.backingUp = true
	target := e.track.Direction(e.track.NearestWaypoint(e.pos))
	diff := wrapAngle(math.Atan2(target.Y, target.X) - e.angle)
	return []float64{nn.Sat(diff*2, 1, -1), reverseGasLimit, 0}
}

func (e *CarEpisode) Step(action []float64) {
	if e.done {
		return
	}
	e.currentStep++
	e.localStep++
	e.totalDistance += e.pos.Sub(e.lastPos).Len()
	inReverse := e.backingUp
	e.backingUp = false

	e.applyShaping()

	if e.currentStep > e.cfg.StepMax {
		e.finish(e.totalDistance)
		return
	}
	if e.localStep > e.cfg.LocalStepMax {
		e.finish(-1 / math.Max(e.totalDistance, minDistance))
		return
	}

	steer := nn.Sat(component(action, 0), 1, -1)
	var gas float64
	if inReverse {
		gas = nn.Sat(component(action, 1), 0, reverseGasLimit)
	} else {
		gas = nn.Sat(component(action, 1), 1, 0)
	}
	brake := nn.Sat(component(action, 2), 1, 0)

	e.lastPos = e.pos
	e.integrate(steer, gas, brake)
	if e.blocked(e.pos) {
		e.pos = e.lastPos
		e.speed = 0
		e.collide()
		if e.done {
			return
		}
	}
	e.passGate()
}

// Trace reports episode diagnostics.
func (e *CarEpisode) Trace() Trace {
	return Trace{
		"distance":   e.totalDistance,
		"steps":      e.currentStep,
		"waypoint":   e.waypointIndex,
		"laps":       e.laps,
		"collisions": e.collisions,
		"reward":     e.reward,
		"done":       e.done,
	}
}

func (e *CarEpisode) Position() Vec2 {
	return e.pos
}

func (e *CarEpisode) Speed() float64 {
	return e.speed
}

func (e *CarEpisode) TotalDistance() float64 {
	return e.totalDistance
}

func (e *CarEpisode) applyShaping() {
	readings := e.sensorReadings()
	minFront := 1.0
	for i, angle := range e.cfg.SensorAngles {
		if math.Abs(angle) < 90 && readings[i] < minFront {
			minFront = readings[i]
		}
	}
	e.reward -= e.cfg.WallPenalty * (1 - minFront)

	cornerFactor := nn.InverseLerp(10, 60, angleBetween(heading(e.angle), e.nextDir))
	overSpeed := math.Max(0, math.Abs(e.speed)-e.cfg.CornerSpeed)
	e.reward -= e.cfg.CornerPenalty * cornerFactor * overSpeed
}

func (e *CarEpisode) finish(reward float64) {
	if reward > 0 && !e.cfg.AllowPlusReward {
		reward = 0
	}
	e.reward += reward
	e.done = true
}

func (e *CarEpisode) integrate(steer, gas, brake float64) {
	dt := e.cfg.TickSeconds
	grip := math.Min(1, math.Abs(e.speed)/5)
	direction := 1.0
	if e.speed < 0 {
		direction = -1
	}
	e.angle = wrapAngle(e.angle - steer*e.cfg.SteerRate*dt*grip*direction)

	e.speed += gas * e.cfg.Acceleration * dt
	if brake > 0 {
		decel := brake * e.cfg.BrakeDecel * dt
		if math.Abs(e.speed) <= decel {
			e.speed = 0
		} else {
			e.speed -= math.Copysign(decel, e.speed)
		}
	}
	e.speed -= e.speed * e.cfg.Drag * dt
	e.speed = nn.Sat(e.speed, e.cfg.MaxSpeed, e.cfg.MaxSpeed*reverseGasLimit)
	e.pos = e.pos.Add(heading(e.angle).Scale(e.speed * dt))
}

func (e *CarEpisode) blocked(p Vec2) bool {
	if !e.track.OnTrack(p) {
		return true
	}
	for _, o := range e.placed {
		if p.Sub(o.Pos).Len() <= o.Radius {
			return true
		}
	}
	return false
}

func (e *CarEpisode) collide() {
	if e.recovering > 0 {
		return
	}
	e.collisions++
	if e.cfg.BackUpOnCollision {
		e.recovering = e.cfg.RecoverySteps
		return
	}
	e.finish(-1 / math.Max(e.totalDistance, minDistance))
}

// passGate applies waypoint progress. Gate 0 is the start line and never
// counts; skipping ahead or crossing an already passed gate is a reverse run.
func (e *CarEpisode) passGate() {
	idx := e.track.GateCrossed(e.lastPos, e.pos)
	if idx <= 0 {
		return
	}
	if idx > e.waypointIndex+1 || idx <= e.waypointIndex {
		if e.cfg.BackUpOnCollision {
			return
		}
		e.finish(-1 / math.Max(e.totalDistance, minDistance))
		return
	}

	e.waypointIndex = idx
	if idx == e.track.Len()-1 {
		e.waypointIndex = 0
		e.laps++
	}
	e.localStep = 0
	e.recovering = 0
	e.nextDir = e.track.Direction(idx)
}

func (e *CarEpisode) sensorReadings() []float64 {
	out := make([]float64, len(e.cfg.SensorAngles))
	for i, angle := range e.cfg.SensorAngles {
		dir := heading(e.angle - angle*math.Pi/180)
		d := e.track.WallDistance(e.pos, dir, e.cfg.SensorRange)
		for _, o := range e.placed {
			if hit, ok := rayCircle(e.pos, dir, o.Pos, o.Radius); ok && hit < d {
				d = hit
			}
		}
		out[i] = d / e.cfg.SensorRange
	}
	return out
}

func component(action []float64, i int) float64 {
	if i < len(action) {
		return action[i]
	}
	return 0
}
