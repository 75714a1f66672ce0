package nn

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// InverseLerp maps value from [a, b] to [0, 1], clamped.
func InverseLerp(a, b, value float64) float64 {
	if a == b {
		return 0
	}
	return Sat((value-a)/(b-a), 1, 0)
}
