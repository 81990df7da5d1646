// Package mock provides test doubles for the sensor.Fingers and sensor.IMU
// driver interfaces.
//
// Values are read from configurable fields on every Update; a script can be
// attached to advance readings frame by frame.
//
// Example:
//
//	f := &mock.Fingers{ReadyValue: true, Flex: [5]float64{0.5, 0.5, 0.5, 0.5, 0.5}}
//	acq := sensor.NewAcquirer(f, nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// Fingers is a mock implementation of sensor.Fingers.
type Fingers struct {
	mu sync.Mutex

	// ReadyValue is returned by Ready.
	ReadyValue bool

	// Flex is returned by Values when Script is empty.
	Flex [sensor.NumFingers]float64

	// Script, if non-empty, supplies one Flex frame per Update call. The last
	// frame repeats once the script is exhausted.
	Script [][sensor.NumFingers]float64

	// UpdateErr, if non-nil, is returned by Update.
	UpdateErr error

	// CalibrateErr, if non-nil, is returned by Calibrate.
	CalibrateErr error

	// CalibrationValue is returned by Calibration.
	CalibrationValue sensor.FingerCalibration

	// UpdateCalls and CalibrateCalls count invocations.
	UpdateCalls    int
	CalibrateCalls int

	pos int
}

// Update advances the script and returns UpdateErr.
func (f *Fingers) Update(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	if len(f.Script) > 0 {
		idx := min(f.pos, len(f.Script)-1)
		f.Flex = f.Script[idx]
		f.pos++
	}
	return nil
}

// Values returns the current Flex frame.
func (f *Fingers) Values() [sensor.NumFingers]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Flex
}

// Ready returns ReadyValue.
func (f *Fingers) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReadyValue
}

// Calibrate records the call and returns CalibrateErr.
func (f *Fingers) Calibrate(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CalibrateCalls++
	return f.CalibrateErr
}

// Calibration returns CalibrationValue.
func (f *Fingers) Calibration() sensor.FingerCalibration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CalibrationValue
}

// IMU is a mock implementation of sensor.IMU.
type IMU struct {
	mu sync.Mutex

	// ReadyValue is returned by Ready.
	ReadyValue bool

	// AccelValue and GyroValue are returned by Accel and Gyro.
	AccelValue sensor.Vec3
	GyroValue  sensor.Vec3

	// GyroScript, if non-empty, supplies one GyroValue per Update call. The
	// last entry repeats once the script is exhausted.
	GyroScript []sensor.Vec3

	// UpdateErr, if non-nil, is returned by Update.
	UpdateErr error

	// CalibrateErr, if non-nil, is returned by Calibrate.
	CalibrateErr error

	// UpdateCalls and CalibrateCalls count invocations.
	UpdateCalls    int
	CalibrateCalls int

	pos int
}

// Update advances the gyro script and returns UpdateErr.
func (m *IMU) Update(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if len(m.GyroScript) > 0 {
		idx := min(m.pos, len(m.GyroScript)-1)
		m.GyroValue = m.GyroScript[idx]
		m.pos++
	}
	return nil
}

// Accel returns AccelValue.
func (m *IMU) Accel() sensor.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AccelValue
}

// Gyro returns GyroValue.
func (m *IMU) Gyro() sensor.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GyroValue
}

// Ready returns ReadyValue.
func (m *IMU) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadyValue
}

// Calibrate records the call and returns CalibrateErr.
func (m *IMU) Calibrate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CalibrateCalls++
	return m.CalibrateErr
}

// Compile-time interface assertions.
var (
	_ sensor.Fingers = (*Fingers)(nil)
	_ sensor.IMU     = (*IMU)(nil)
)
