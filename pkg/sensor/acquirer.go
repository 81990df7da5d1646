package sensor

import (
	"context"
	"log/slog"
	"time"
)

// Acquirer reads both driver subsystems and produces one [Sample] per call.
// It never blocks on an unavailable subsystem: missing data is zero-filled and
// flagged invalid so the pipeline keeps ticking.
//
// An Acquirer is owned by the sampling task and is not safe for concurrent use.
type Acquirer struct {
	fingers Fingers
	imu     IMU
	norm    AxisNorm
	now     func() time.Time
	trace   func(Subsystem) func()

	// warned suppresses repeated logs while a subsystem stays down.
	fingerWarned bool
	imuWarned    bool
}

// Subsystem identifies one of the two driver groups.
type Subsystem uint8

const (
	SubsystemFingers Subsystem = iota
	SubsystemIMU
)

// String returns the subsystem name.
func (s Subsystem) String() string {
	if s == SubsystemIMU {
		return "imu"
	}
	return "fingers"
}

// AcquirerOption configures an [Acquirer].
type AcquirerOption func(*Acquirer)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) AcquirerOption {
	return func(a *Acquirer) { a.now = now }
}

// WithAxisNorm sets the per-axis calibration used for AccelNorm/GyroNorm.
// Defaults to [DefaultAxisNorm].
func WithAxisNorm(n AxisNorm) AcquirerOption {
	return func(a *Acquirer) { a.norm = n }
}

// WithUpdateTrace brackets every driver update: trace is called before the
// update and the returned func after it.
func WithUpdateTrace(trace func(Subsystem) func()) AcquirerOption {
	return func(a *Acquirer) {
		if trace != nil {
			a.trace = trace
		}
	}
}

func noTrace(Subsystem) func() { return func() {} }

// NewAcquirer returns an Acquirer over the given drivers. Either driver may be
// nil, in which case its fields are always invalid.
func NewAcquirer(fingers Fingers, imu IMU, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		fingers: fingers,
		imu:     imu,
		norm:    DefaultAxisNorm,
		now:     time.Now,
		trace:   noTrace,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetAxisNorm replaces the calibration used for subsequent samples.
func (a *Acquirer) SetAxisNorm(n AxisNorm) {
	a.norm = n
}

// Acquire reads the drivers and returns the fused sample.
func (a *Acquirer) Acquire(ctx context.Context) Sample {
	s := Sample{Timestamp: a.now()}

	if a.fingers != nil && a.fingers.Ready() {
		end := a.trace(SubsystemFingers)
		err := a.fingers.Update(ctx)
		end()
		if err != nil {
			if !a.fingerWarned {
				slog.Warn("sensor: finger update failed", "err", err)
				a.fingerWarned = true
			}
		} else {
			a.fingerWarned = false
			vals := a.fingers.Values()
			for i := range vals {
				s.Flex[i] = clamp01(vals[i])
			}
			s.FingersValid = true
		}
	}

	if a.imu != nil && a.imu.Ready() {
		end := a.trace(SubsystemIMU)
		err := a.imu.Update(ctx)
		end()
		if err != nil {
			if !a.imuWarned {
				slog.Warn("sensor: imu update failed", "err", err)
				a.imuWarned = true
			}
		} else {
			a.imuWarned = false
			s.Accel = a.imu.Accel()
			s.Gyro = a.imu.Gyro()
			s.AccelNorm = a.norm.NormalizeAccel(s.Accel)
			s.GyroNorm = a.norm.NormalizeGyro(s.Gyro)
			s.IMUValid = true
		}
	}

	return s
}

// FingersReady reports the finger driver's readiness without touching it.
func (a *Acquirer) FingersReady() bool {
	return a.fingers != nil && a.fingers.Ready()
}

// IMUReady reports the IMU driver's readiness without touching it.
func (a *Acquirer) IMUReady() bool {
	return a.imu != nil && a.imu.Ready()
}
