// Package sim provides synthetic finger and IMU drivers that model a resting
// hand. They let the full pipeline run on a workstation without the glove.
//
// A shake burst can be injected with [IMU.Shake] to exercise the motion
// trigger path.
package sim

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// Option configures the simulated drivers.
type Option func(*config)

type config struct {
	flex      float64
	noise     float64
	gyroNoise float64
	seed      uint64
}

// WithFlex sets the resting bend value for every finger. Default 0.5.
func WithFlex(v float64) Option {
	return func(c *config) { c.flex = v }
}

// WithNoise sets the uniform noise amplitude added to finger readings.
// Default 0.01.
func WithNoise(v float64) Option {
	return func(c *config) {
		if v >= 0 {
			c.noise = v
		}
	}
}

// WithGyroNoise sets the uniform noise amplitude on each gyro axis.
// Default 0.05.
func WithGyroNoise(v float64) Option {
	return func(c *config) {
		if v >= 0 {
			c.gyroNoise = v
		}
	}
}

// WithSeed makes the noise deterministic.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

func newConfig(opts []Option) config {
	c := config{flex: 0.5, noise: 0.01, gyroNoise: 0.05, seed: uint64(time.Now().UnixNano())}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Fingers simulates five flex sensors resting at a fixed bend.
type Fingers struct {
	cfg config
	rng *rand.Rand

	mu     sync.Mutex
	values [sensor.NumFingers]float64
	calib  sensor.FingerCalibration
}

var _ sensor.Fingers = (*Fingers)(nil)

// NewFingers returns a calibrated simulated finger driver.
func NewFingers(opts ...Option) *Fingers {
	cfg := newConfig(opts)
	f := &Fingers{cfg: cfg, rng: rand.New(rand.NewPCG(cfg.seed, 1))}
	for i := range sensor.NumFingers {
		f.calib.Observe(i, 0)
		f.calib.Observe(i, 1)
	}
	return f
}

// Update draws the next noisy reading.
func (f *Fingers) Update(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.values {
		raw := f.cfg.flex + (f.rng.Float64()*2-1)*f.cfg.noise
		f.values[i] = f.calib.Normalize(i, raw)
	}
	return nil
}

// Values returns the latest normalized readings.
func (f *Fingers) Values() [sensor.NumFingers]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values
}

// Ready always reports true.
func (f *Fingers) Ready() bool { return true }

// Calibrate resets the calibration to the full [0,1] range.
func (f *Fingers) Calibrate(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calib = sensor.FingerCalibration{}
	for i := range sensor.NumFingers {
		f.calib.Observe(i, 0)
		f.calib.Observe(i, 1)
	}
	return nil
}

// Calibration returns the current calibration.
func (f *Fingers) Calibration() sensor.FingerCalibration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calib
}

// IMU simulates an inertial unit lying still, with optional shake bursts.
type IMU struct {
	cfg config
	rng *rand.Rand

	mu         sync.Mutex
	accel      sensor.Vec3
	gyro       sensor.Vec3
	shakeLeft  int
	shakeLevel float64
}

var _ sensor.IMU = (*IMU)(nil)

// NewIMU returns a simulated IMU.
func NewIMU(opts ...Option) *IMU {
	cfg := newConfig(opts)
	return &IMU{cfg: cfg, rng: rand.New(rand.NewPCG(cfg.seed, 2))}
}

// Shake makes the next frames report an angular rate of magnitude level on
// every axis.
func (m *IMU) Shake(frames int, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shakeLeft = frames
	m.shakeLevel = level
}

// Update draws the next reading.
func (m *IMU) Update(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accel = sensor.Vec3{
		sensor.DefaultAxisNorm.AX.Mean,
		sensor.DefaultAxisNorm.AY.Mean,
		sensor.DefaultAxisNorm.AZ.Mean,
	}
	for i := range m.gyro {
		m.gyro[i] = (m.rng.Float64()*2 - 1) * m.cfg.gyroNoise
	}
	if m.shakeLeft > 0 {
		m.shakeLeft--
		sign := 1.0
		if m.shakeLeft%2 == 0 {
			sign = -1
		}
		for i := range m.gyro {
			m.gyro[i] += sign * m.shakeLevel
		}
	}
	return nil
}

// Accel returns the latest acceleration.
func (m *IMU) Accel() sensor.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accel
}

// Gyro returns the latest angular rate.
func (m *IMU) Gyro() sensor.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gyro
}

// Ready always reports true.
func (m *IMU) Ready() bool { return true }

// Calibrate is a no-op for the simulator.
func (m *IMU) Calibrate(_ context.Context) error { return nil }
