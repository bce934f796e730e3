package arena

import (
	"fmt"
	"math"
	"math/rand"
)

// PlacementConfig controls random start positions. Robots keep at least
// 2*Radius between centres and Radius from every wall.
type PlacementConfig struct {
	Radius      float64 `yaml:"radius" json:"radius"`
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
}

func DefaultPlacement() PlacementConfig {
	return PlacementConfig{Radius: 0.082, MaxAttempts: 10000}
}

// Draw places n robots uniformly at random with uniform headings. Each robot
// gets MaxAttempts tries before ErrNoSpace.
func (pc PlacementConfig) Draw(width, height float64, n int, rng *rand.Rand) ([]Pose, error) {
	if pc.Radius <= 0 || 2*pc.Radius >= math.Min(width, height) {
		return nil, fmt.Errorf("%w: placement radius %g", ErrInvalidConfig, pc.Radius)
	}
	attempts := pc.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPlacement().MaxAttempts
	}
	spanX := width - 2*pc.Radius
	spanY := height - 2*pc.Radius

	headings := make([]float64, n)
	for i := range headings {
		headings[i] = 2 * math.Pi * rng.Float64()
	}
	poses := make([]Pose, 0, n)
	for i := 0; i < n; i++ {
		placed := false
		for try := 0; try < attempts && !placed; try++ {
			x := rng.Float64()*spanX - spanX/2
			y := rng.Float64()*spanY - spanY/2
			placed = true
			for _, p := range poses {
				if math.Hypot(p.X-x, p.Y-y) < 2*pc.Radius {
					placed = false
					break
				}
			}
			if placed {
				poses = append(poses, Pose{X: x, Y: y, Heading: headings[i]})
			}
		}
		if !placed {
			return nil, fmt.Errorf("%w: robot %d of %d after %d attempts", ErrNoSpace, i+1, n, attempts)
		}
	}
	return poses, nil
}
