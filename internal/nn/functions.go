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

// ScaleUnit maps a raw reading in [0, max] onto [0, 1], saturating outside.
func ScaleUnit(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return Sat(value/max, 1, 0)
}
