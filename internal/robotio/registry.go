package robotio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrSensorExists   = errors.New("sensor already registered")
	ErrSensorNotFound = errors.New("sensor not found")
	ErrDriveExists    = errors.New("drive already registered")
	ErrDriveNotFound  = errors.New("drive not found")
)

type SensorFactory func(width int) (SensorArray, error)

type DriveFactory func() (Drive, error)

var sensorRegistry = struct {
	mu sync.RWMutex
	m  map[string]SensorFactory
}{
	m: make(map[string]SensorFactory),
}

var driveRegistry = struct {
	mu sync.RWMutex
	m  map[string]DriveFactory
}{
	m: make(map[string]DriveFactory),
}

// RegisterSensor makes a sensor backend selectable by name from
// configuration.
func RegisterSensor(name string, factory SensorFactory) error {
	if name == "" {
		return errors.New("sensor name is required")
	}
	if factory == nil {
		return errors.New("sensor factory is required")
	}
	sensorRegistry.mu.Lock()
	defer sensorRegistry.mu.Unlock()
	if _, exists := sensorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrSensorExists, name)
	}
	sensorRegistry.m[name] = factory
	return nil
}

func MustRegisterSensor(name string, factory SensorFactory) {
	if err := RegisterSensor(name, factory); err != nil {
		panic(err)
	}
}

func ResolveSensor(name string, width int) (SensorArray, error) {
	sensorRegistry.mu.RLock()
	factory, ok := sensorRegistry.m[name]
	sensorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, name)
	}
	return factory(width)
}

func ListSensors() []string {
	sensorRegistry.mu.RLock()
	defer sensorRegistry.mu.RUnlock()
	names := make([]string, 0, len(sensorRegistry.m))
	for name := range sensorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func RegisterDrive(name string, factory DriveFactory) error {
	if name == "" {
		return errors.New("drive name is required")
	}
	if factory == nil {
		return errors.New("drive factory is required")
	}
	driveRegistry.mu.Lock()
	defer driveRegistry.mu.Unlock()
	if _, exists := driveRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrDriveExists, name)
	}
	driveRegistry.m[name] = factory
	return nil
}

func MustRegisterDrive(name string, factory DriveFactory) {
	if err := RegisterDrive(name, factory); err != nil {
		panic(err)
	}
}

func ResolveDrive(name string) (Drive, error) {
	driveRegistry.mu.RLock()
	factory, ok := driveRegistry.m[name]
	driveRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriveNotFound, name)
	}
	return factory()
}

func ListDrives() []string {
	driveRegistry.mu.RLock()
	defer driveRegistry.mu.RUnlock()
	names := make([]string, 0, len(driveRegistry.m))
	for name := range driveRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
