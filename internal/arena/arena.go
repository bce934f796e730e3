// Package arena simulates Thymio robots in a walled square so a whole swarm
// can evolve in one process.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/robotio"
)

var (
	ErrInvalidConfig = errors.New("invalid arena config")
	ErrNoSpace       = errors.New("no free position for robot")
)

// Config describes the arena geometry and the simulated Thymio body. Lengths
// are metres; the arena is centred on the origin.
type Config struct {
	Width       float64        `yaml:"width" json:"width"`
	Height      float64        `yaml:"height" json:"height"`
	BodyRadius  float64        `yaml:"body_radius" json:"body_radius"`
	AxleLength  float64        `yaml:"axle_length" json:"axle_length"`
	SpeedScale  float64        `yaml:"speed_scale" json:"speed_scale"`
	ProxRange   float64        `yaml:"prox_range" json:"prox_range"`
	EdgeBand    float64        `yaml:"edge_band" json:"edge_band"`
	TickSeconds float64        `yaml:"tick_seconds" json:"tick_seconds"`
	Limits      robotio.Limits `yaml:"limits" json:"limits"`
}

// DefaultConfig is the 1.1 m square used with real robots. A motor value of
// 315 moves a wheel at about 12.6 cm/s.
func DefaultConfig() Config {
	return Config{
		Width:       1.1,
		Height:      1.1,
		BodyRadius:  0.056,
		AxleLength:  0.095,
		SpeedScale:  0.126 / 315,
		ProxRange:   0.12,
		EdgeBand:    0.04,
		TickSeconds: 0.1,
		Limits:      robotio.DefaultLimits(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: arena %gx%g", ErrInvalidConfig, c.Width, c.Height)
	case c.BodyRadius <= 0 || 2*c.BodyRadius >= math.Min(c.Width, c.Height):
		return fmt.Errorf("%w: body radius %g", ErrInvalidConfig, c.BodyRadius)
	case c.AxleLength <= 0 || c.SpeedScale <= 0 || c.ProxRange <= 0 || c.TickSeconds <= 0:
		return fmt.Errorf("%w: axle, speed scale, prox range and tick must be positive", ErrInvalidConfig)
	case c.EdgeBand < 0:
		return fmt.Errorf("%w: edge band %g", ErrInvalidConfig, c.EdgeBand)
	}
	return c.Limits.Validate()
}

// Pose is a robot position and heading in radians.
type Pose struct {
	X       float64
	Y       float64
	Heading float64
}

type body struct {
	pose        Pose
	left, right float64
}

// Arena owns the robot bodies. Bodies are driven through the robotio views
// returned by Robot and advanced together by Step.
type Arena struct {
	cfg Config

	mu     sync.Mutex
	bodies []body
}

func New(cfg Config, robots int) (*Arena, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if robots <= 0 {
		return nil, fmt.Errorf("%w: robots %d", ErrInvalidConfig, robots)
	}
	return &Arena{cfg: cfg, bodies: make([]body, robots)}, nil
}

func (a *Arena) Config() Config { return a.cfg }

func (a *Arena) Len() int { return len(a.bodies) }

// Place draws a fresh non-overlapping placement and stops every robot.
func (a *Arena) Place(pc PlacementConfig, rng *rand.Rand) error {
	poses, err := pc.Draw(a.cfg.Width, a.cfg.Height, len(a.bodies), rng)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.bodies {
		a.bodies[i] = body{pose: poses[i]}
	}
	return nil
}

// SetPose moves one robot. Used by tests and replays.
func (a *Arena) SetPose(i int, p Pose) {
	a.mu.Lock()
	a.bodies[i].pose = p
	a.mu.Unlock()
}

func (a *Arena) Poses() []Pose {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Pose, len(a.bodies))
	for i, b := range a.bodies {
		out[i] = b.pose
	}
	return out
}

// Step integrates one tick of differential-drive motion. A robot whose move
// would leave the arena or overlap another robot stays where it is and only
// turns.
func (a *Arena) Step() {
	a.mu.Lock()
	defer a.mu.Unlock()
	dt := a.cfg.TickSeconds
	for i := range a.bodies {
		b := &a.bodies[i]
		vl := b.left * a.cfg.SpeedScale
		vr := b.right * a.cfg.SpeedScale
		v := (vl + vr) / 2
		omega := (vr - vl) / a.cfg.AxleLength

		heading := b.pose.Heading + omega*dt
		next := Pose{
			X:       b.pose.X + v*math.Cos(heading)*dt,
			Y:       b.pose.Y + v*math.Sin(heading)*dt,
			Heading: math.Mod(heading+2*math.Pi, 2*math.Pi),
		}
		if a.free(i, next.X, next.Y) {
			b.pose = next
		} else {
			b.pose.Heading = next.Heading
		}
	}
}

func (a *Arena) free(self int, x, y float64) bool {
	r := a.cfg.BodyRadius
	if math.Abs(x) > a.cfg.Width/2-r || math.Abs(y) > a.cfg.Height/2-r {
		return false
	}
	for j, other := range a.bodies {
		if j == self {
			continue
		}
		if math.Hypot(other.pose.X-x, other.pose.Y-y) < 2*r {
			return false
		}
	}
	return true
}

// Robot is the robotio view of body i. Write stores the wheel command for
// the next Step.
type Robot struct {
	arena *Arena
	index int
}

var (
	_ robotio.SensorArray   = (*Robot)(nil)
	_ robotio.Drive         = (*Robot)(nil)
	_ robotio.SnapshotDrive = (*Robot)(nil)
)

func (a *Arena) Robot(i int) *Robot {
	return &Robot{arena: a, index: i}
}

func (r *Robot) Name() string { return fmt.Sprintf("arena-%d", r.index) }

func (r *Robot) Read(context.Context) ([]float64, error) {
	horizontal, ground := r.arena.Raw(r.index)
	return r.arena.cfg.Limits.Normalize(horizontal, ground)
}

func (r *Robot) Write(_ context.Context, left, right float64) error {
	r.arena.mu.Lock()
	r.arena.bodies[r.index].left = left
	r.arena.bodies[r.index].right = right
	r.arena.mu.Unlock()
	return nil
}

func (r *Robot) Last() (float64, float64) {
	r.arena.mu.Lock()
	defer r.arena.mu.Unlock()
	b := r.arena.bodies[r.index]
	return b.left, b.right
}
