package scape

import (
	"errors"
	"fmt"
	"math"
)

// Track is a closed loop of waypoints with walls HalfWidth either side of the
// centre line. Waypoint 0 is the start line.
type Track struct {
	Name      string  `json:"name"`
	Waypoints []Vec2  `json:"waypoints"`
	HalfWidth float64 `json:"half_width"`

	walls  []segment
	center []segment
}

func NewTrack(name string, waypoints []Vec2, halfWidth float64) (*Track, error) {
	if len(waypoints) < 3 {
		return nil, fmt.Errorf("track %s needs at least 3 waypoints, got %d", name, len(waypoints))
	}
	if halfWidth <= 0 {
		return nil, errors.New("track half width must be > 0")
	}
	t := &Track{
		Name:      name,
		Waypoints: append([]Vec2(nil), waypoints...),
		HalfWidth: halfWidth,
	}
	n := len(t.Waypoints)
	for i := 0; i < n; i++ {
		a, b := t.Waypoints[i], t.Waypoints[(i+1)%n]
		t.center = append(t.center, segment{a, b})
		ra, rb := t.Right(i).Scale(halfWidth), t.Right((i+1)%n).Scale(halfWidth)
		t.walls = append(t.walls,
			segment{a.Add(ra), b.Add(rb)},
			segment{a.Sub(ra), b.Sub(rb)},
		)
	}
	return t, nil
}

// NewOvalTrack samples an ellipse counter-clockwise starting on the +X axis.
func NewOvalTrack(name string, radiusX, radiusY float64, points int, halfWidth float64) (*Track, error) {
	if radiusX <= 0 || radiusY <= 0 {
		return nil, fmt.Errorf("oval radii must be > 0: %g x %g", radiusX, radiusY)
	}
	if points < 3 {
		return nil, fmt.Errorf("oval needs at least 3 points, got %d", points)
	}
	waypoints := make([]Vec2, points)
	for i := range waypoints {
		angle := 2 * math.Pi * float64(i) / float64(points)
		waypoints[i] = Vec2{radiusX * math.Cos(angle), radiusY * math.Sin(angle)}
	}
	return NewTrack(name, waypoints, halfWidth)
}

func (t *Track) Len() int {
	return len(t.Waypoints)
}

// Direction is the unit vector from waypoint i to the next one.
func (t *Track) Direction(i int) Vec2 {
	n := len(t.Waypoints)
	i = ((i % n) + n) % n
	return t.Waypoints[(i+1)%n].Sub(t.Waypoints[i]).Normalize()
}

// Right is the outward lateral direction at waypoint i, averaged over the two
// segments meeting there.
func (t *Track) Right(i int) Vec2 {
	n := len(t.Waypoints)
	i = ((i % n) + n) % n
	in := t.Waypoints[i].Sub(t.Waypoints[(i-1+n)%n]).Normalize()
	out := t.Waypoints[(i+1)%n].Sub(t.Waypoints[i]).Normalize()
	return in.Add(out).Normalize().Right()
}

// StartHeading is the heading angle of the first segment in radians.
func (t *Track) StartHeading() float64 {
	d := t.Direction(0)
	return math.Atan2(d.Y, d.X)
}

// CenterDistance is the distance from p to the nearest centre line segment.
func (t *Track) CenterDistance(p Vec2) float64 {
	best := math.Inf(1)
	for _, s := range t.center {
		if d, _ := pointSegmentDistance(p, s); d < best {
			best = d
		}
	}
	return best
}

// OnTrack reports whether p lies between the walls.
func (t *Track) OnTrack(p Vec2) bool {
	return t.CenterDistance(p) <= t.HalfWidth
}

// WallDistance casts a unit ray against the walls up to maxRange.
func (t *Track) WallDistance(origin, dir Vec2, maxRange float64) float64 {
	best := maxRange
	for _, s := range t.walls {
		if d, ok := raySegment(origin, dir, s); ok && d < best {
			best = d
		}
	}
	return best
}

// Gate is the wall-to-wall line through waypoint i.
func (t *Track) Gate(i int) (Vec2, Vec2) {
	r := t.Right(i).Scale(t.HalfWidth)
	wp := t.Waypoints[i]
	return wp.Sub(r), wp.Add(r)
}

// GateCrossed returns the first gate index crossed moving from a to b, or -1.
func (t *Track) GateCrossed(a, b Vec2) int {
	if a == b {
		return -1
	}
	move := segment{a, b}
	for i := range t.Waypoints {
		l, r := t.Gate(i)
		if segmentsCross(move, segment{l, r}) {
			return i
		}
	}
	return -1
}

// NearestWaypoint returns the index of the waypoint closest to p.
func (t *Track) NearestWaypoint(p Vec2) int {
	best, at := math.Inf(1), 0
	for i, wp := range t.Waypoints {
		if d := p.Sub(wp).Len(); d < best {
			best, at = d, i
		}
	}
	return at
}
