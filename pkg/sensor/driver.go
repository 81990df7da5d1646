package sensor

import (
	"context"
	"math"
)

// Fingers is the flex-sensor driver capability.
//
// Implementations must be safe for use from a single goroutine; the sampling
// task is the only caller of Update and Values. Calibrate may be invoked from
// the console while sampling continues and must synchronise internally.
type Fingers interface {
	// Update refreshes the driver's readings. A non-nil error marks the
	// current frame's finger data invalid.
	Update(ctx context.Context) error

	// Values returns the most recent normalized bend values in [0,1].
	Values() [NumFingers]float64

	// Ready reports whether the sensors are connected and calibrated.
	Ready() bool

	// Calibrate runs the interactive min/max calibration routine.
	Calibrate(ctx context.Context) error

	// Calibration returns the current per-finger calibration ranges.
	Calibration() FingerCalibration
}

// IMU is the inertial measurement unit driver capability.
type IMU interface {
	// Update refreshes the acceleration and angular-rate readings.
	Update(ctx context.Context) error

	// Accel returns the latest acceleration vector.
	Accel() Vec3

	// Gyro returns the latest angular-rate vector.
	Gyro() Vec3

	// Ready reports whether the IMU is connected and responding.
	Ready() bool

	// Calibrate runs the driver's bias calibration routine.
	Calibrate(ctx context.Context) error
}

// minSpan is the smallest calibrated range considered usable. Narrower ranges
// normalize to 0.
const minSpan = 0.01

// FingerCalibration records the raw min/max observed for each finger during
// calibration.
type FingerCalibration struct {
	Min        [NumFingers]float64
	Max        [NumFingers]float64
	Calibrated [NumFingers]bool
}

// Complete reports whether every finger has been calibrated.
func (c FingerCalibration) Complete() bool {
	for _, ok := range c.Calibrated {
		if !ok {
			return false
		}
	}
	return true
}

// Normalize maps a raw reading for finger i into [0,1]. Uncalibrated fingers
// and fingers whose range is narrower than minSpan yield 0.
func (c FingerCalibration) Normalize(i int, raw float64) float64 {
	if i < 0 || i >= NumFingers || !c.Calibrated[i] {
		return 0
	}
	span := c.Max[i] - c.Min[i]
	if math.Abs(span) <= minSpan {
		return 0
	}
	return clamp01((raw - c.Min[i]) / span)
}

// Observe widens the range of finger i to include raw and marks it
// calibrated. Used by calibration routines sweeping each finger.
func (c *FingerCalibration) Observe(i int, raw float64) {
	if i < 0 || i >= NumFingers {
		return
	}
	if !c.Calibrated[i] {
		c.Min[i], c.Max[i] = raw, raw
		c.Calibrated[i] = true
		return
	}
	c.Min[i] = math.Min(c.Min[i], raw)
	c.Max[i] = math.Max(c.Max[i], raw)
}
