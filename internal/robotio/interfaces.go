// Package robotio connects controllers to robot sensors and motors.
package robotio

import "context"

// SensorArray reads one normalized observation per control tick. Values lie
// in [0,1].
type SensorArray interface {
	Name() string
	Read(ctx context.Context) ([]float64, error)
}

// Drive sets the wheel speeds of a differential-drive robot.
type Drive interface {
	Name() string
	Write(ctx context.Context, left, right float64) error
}

// SnapshotDrive is an optional drive capability used by tests and the
// simulator to inspect the last command.
type SnapshotDrive interface {
	Last() (left, right float64)
}
