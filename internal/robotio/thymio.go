package robotio

import (
	"errors"
	"fmt"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/nn"
)

// Sensor layout of the Thymio: five front and two back horizontal proximity
// sensors, then two ground sensors.
const (
	FrontProximity = 5
	BackProximity  = 2
	GroundSensors  = 2
	SensorCount    = FrontProximity + BackProximity + GroundSensors
	MotorCount     = 2
)

var ErrReadingWidth = errors.New("unexpected raw reading width")

// Limits are the raw ranges of the Thymio hardware.
type Limits struct {
	MaxSpeed      float64 `yaml:"max_speed" json:"max_speed"`
	MaxHorizontal float64 `yaml:"max_horizontal_sensor" json:"max_horizontal_sensor"`
	MaxGround     float64 `yaml:"max_ground_sensor" json:"max_ground_sensor"`
}

// DefaultLimits: 315 is about 12.6 cm/s.
func DefaultLimits() Limits {
	return Limits{MaxSpeed: 315, MaxHorizontal: 4500, MaxGround: 1023}
}

func (l Limits) Validate() error {
	if l.MaxSpeed <= 0 || l.MaxHorizontal <= 0 || l.MaxGround <= 0 {
		return fmt.Errorf("limits must be positive: %+v", l)
	}
	return nil
}

// Normalize maps seven raw horizontal and two raw ground readings onto the
// nine-wide observation the networks consume.
func (l Limits) Normalize(horizontal, ground []float64) ([]float64, error) {
	if len(horizontal) != FrontProximity+BackProximity {
		return nil, fmt.Errorf("%w: horizontal=%d", ErrReadingWidth, len(horizontal))
	}
	if len(ground) != GroundSensors {
		return nil, fmt.Errorf("%w: ground=%d", ErrReadingWidth, len(ground))
	}
	out := make([]float64, 0, SensorCount)
	for _, v := range horizontal {
		out = append(out, nn.ScaleUnit(v, l.MaxHorizontal))
	}
	for _, v := range ground {
		out = append(out, nn.ScaleUnit(v, l.MaxGround))
	}
	return out, nil
}

// Motors scales a two-wide action to wheel speeds. Actions outside [-1,1]
// saturate at full speed.
func (l Limits) Motors(action []float64) (left, right float64, err error) {
	if len(action) != MotorCount {
		return 0, 0, fmt.Errorf("%w: action=%d", ErrReadingWidth, len(action))
	}
	return nn.Sat(action[0], 1, -1) * l.MaxSpeed, nn.Sat(action[1], 1, -1) * l.MaxSpeed, nil
}
