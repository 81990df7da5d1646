// Package sensor defines the glove's sensor sample model, the driver
// capabilities the pipeline reads from, and the [Acquirer] that fuses finger
// and inertial readings into one normalized [Sample] per tick.
//
// Drivers are external collaborators: the package only fixes their contracts.
// Implementations live in sub-packages (sim, replay, mock).
package sensor

import (
	"math"
	"time"
)

// NumFingers is the number of flex channels on the glove.
const NumFingers = 5

// Vec3 is a three-axis reading (x, y, z).
type Vec3 [3]float64

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Sample is one fused sensor frame. It contains only value types so copying a
// Sample never aliases another.
type Sample struct {
	// Timestamp is when the frame was acquired.
	Timestamp time.Time

	// Flex holds per-finger bend values in [0,1].
	Flex [NumFingers]float64

	// Accel and Gyro are the driver's acceleration and angular-rate readings.
	Accel Vec3
	Gyro  Vec3

	// AccelNorm and GyroNorm are Accel and Gyro z-scored with the configured
	// calibration [NormParams].
	AccelNorm Vec3
	GyroNorm  Vec3

	// FingersValid and IMUValid report whether the respective subsystem
	// produced data for this frame. Invalid subsystems are zero-filled.
	FingersValid bool
	IMUValid     bool
}

// Window is a chronologically ordered run of samples, oldest first.
type Window []Sample

// Clone returns an independent copy of w.
func (w Window) Clone() Window {
	if w == nil {
		return nil
	}
	out := make(Window, len(w))
	copy(out, w)
	return out
}

// NormParams holds the mean and spread used to z-score one channel.
type NormParams struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
}

// Apply returns (v - Mean) / Std, or 0 when Std is not positive.
func (p NormParams) Apply(v float64) float64 {
	if p.Std <= 0 {
		return 0
	}
	return (v - p.Mean) / p.Std
}

// Invert maps a z-scored value back into raw space.
func (p NormParams) Invert(z float64) float64 {
	return z*p.Std + p.Mean
}

// AxisNorm groups the per-axis normalization of the inertial channels.
type AxisNorm struct {
	AX NormParams `yaml:"ax"`
	AY NormParams `yaml:"ay"`
	AZ NormParams `yaml:"az"`
	GX NormParams `yaml:"gx"`
	GY NormParams `yaml:"gy"`
	GZ NormParams `yaml:"gz"`
}

// NormalizeAccel z-scores an acceleration vector.
func (n AxisNorm) NormalizeAccel(v Vec3) Vec3 {
	return Vec3{n.AX.Apply(v[0]), n.AY.Apply(v[1]), n.AZ.Apply(v[2])}
}

// NormalizeGyro z-scores an angular-rate vector.
func (n AxisNorm) NormalizeGyro(v Vec3) Vec3 {
	return Vec3{n.GX.Apply(v[0]), n.GY.Apply(v[1]), n.GZ.Apply(v[2])}
}

// DefaultAxisNorm holds the calibration statistics the shipped gesture model
// was trained against.
var DefaultAxisNorm = AxisNorm{
	AX: NormParams{Mean: 0.652877, Std: 0.246747},
	AY: NormParams{Mean: 0.662821, Std: 0.117152},
	AZ: NormParams{Mean: 0.410897, Std: 0.252453},
	GX: NormParams{Mean: 0.504955, Std: 0.301887},
	GY: NormParams{Mean: 0.501236, Std: 0.212698},
	GZ: NormParams{Mean: 0.485134, Std: 0.303284},
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
