package scape

import "math"

// Vec2 is a point or direction on the ground plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }

func (v Vec2) Dot(o Vec2) float64 { return v.X*o.X + v.Y*o.Y }

func (v Vec2) Cross(o Vec2) float64 { return v.X*o.Y - v.Y*o.X }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Right is v rotated a quarter turn clockwise.
func (v Vec2) Right() Vec2 { return Vec2{v.Y, -v.X} }

func heading(angle float64) Vec2 {
	return Vec2{math.Cos(angle), math.Sin(angle)}
}

// angleBetween returns the unsigned angle between a and b in degrees.
func angleBetween(a, b Vec2) float64 {
	a, b = a.Normalize(), b.Normalize()
	if a == (Vec2{}) || b == (Vec2{}) {
		return 0
	}
	cos := math.Max(-1, math.Min(1, a.Dot(b)))
	return math.Acos(cos) * 180 / math.Pi
}

type segment struct {
	a, b Vec2
}

// raySegment returns the distance along a unit ray to segment s.
func raySegment(origin, dir Vec2, s segment) (float64, bool) {
	edge := s.b.Sub(s.a)
	denom := dir.Cross(edge)
	if math.Abs(denom) < 1e-12 {
		return 0, false
	}
	diff := s.a.Sub(origin)
	t := diff.Cross(edge) / denom
	u := diff.Cross(dir) / denom
	if t < 0 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// rayCircle returns the distance along a unit ray to the first crossing of a
// circle. Origins inside the circle report zero.
func rayCircle(origin, dir, center Vec2, radius float64) (float64, bool) {
	oc := origin.Sub(center)
	c := oc.Dot(oc) - radius*radius
	if c <= 0 {
		return 0, true
	}
	b := oc.Dot(dir)
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	t := -b - math.Sqrt(disc)
	if t < 0 {
		return 0, false
	}
	return t, true
}

// pointSegmentDistance returns the distance from p to s and the clamped
// projection parameter along s.
func pointSegmentDistance(p Vec2, s segment) (float64, float64) {
	edge := s.b.Sub(s.a)
	l2 := edge.Dot(edge)
	if l2 == 0 {
		return p.Sub(s.a).Len(), 0
	}
	t := math.Max(0, math.Min(1, p.Sub(s.a).Dot(edge)/l2))
	return p.Sub(s.a.Add(edge.Scale(t))).Len(), t
}

// segmentsCross reports whether segments p and q intersect.
func segmentsCross(p, q segment) bool {
	d1 := p.b.Sub(p.a)
	d2 := q.b.Sub(q.a)
	denom := d1.Cross(d2)
	if math.Abs(denom) < 1e-12 {
		return false
	}
	diff := q.a.Sub(p.a)
	t := diff.Cross(d2) / denom
	u := diff.Cross(d1) / denom
	return t >= 0 && t <= 1 && u >= 0 && u <= 1
}

// wrapAngle maps a radian angle into (-pi, pi].
func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
