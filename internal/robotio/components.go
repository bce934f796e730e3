package robotio

import (
	"context"
	"fmt"
	"sync"
)

const (
	StaticSensorName   = "static"
	RecordingDriveName = "recording"
)

// StaticSensor returns the last value it was given. It stands in for robot
// hardware when an agent is run without a body.
type StaticSensor struct {
	mu    sync.RWMutex
	width int
	value []float64
}

func NewStaticSensor(width int) *StaticSensor {
	return &StaticSensor{width: width, value: make([]float64, width)}
}

func (s *StaticSensor) Name() string { return StaticSensorName }

func (s *StaticSensor) Read(context.Context) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.value...), nil
}

func (s *StaticSensor) Set(values []float64) error {
	if len(values) != s.width {
		return fmt.Errorf("%w: got %d want %d", ErrReadingWidth, len(values), s.width)
	}
	s.mu.Lock()
	s.value = append(s.value[:0], values...)
	s.mu.Unlock()
	return nil
}

type RecordingDrive struct {
	mu          sync.RWMutex
	left, right float64
	writes      int
}

func NewRecordingDrive() *RecordingDrive {
	return &RecordingDrive{}
}

func (d *RecordingDrive) Name() string { return RecordingDriveName }

func (d *RecordingDrive) Write(_ context.Context, left, right float64) error {
	d.mu.Lock()
	d.left, d.right = left, right
	d.writes++
	d.mu.Unlock()
	return nil
}

func (d *RecordingDrive) Last() (float64, float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.left, d.right
}

func (d *RecordingDrive) Writes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}

func init() {
	MustRegisterSensor(StaticSensorName, func(width int) (SensorArray, error) {
		return NewStaticSensor(width), nil
	})
	MustRegisterDrive(RecordingDriveName, func() (Drive, error) {
		return NewRecordingDrive(), nil
	})
}
