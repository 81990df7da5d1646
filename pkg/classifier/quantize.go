package classifier

import (
	"math"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// FeaturesPerSample is the model input width per frame: five flex channels
// followed by six inertial channels.
const FeaturesPerSample = sensor.NumFingers + 6

// Quantization describes an affine int8 encoding.
type Quantization struct {
	Scale     float64 `yaml:"scale"`
	ZeroPoint int     `yaml:"zero_point"`
}

// Quantize encodes v, saturating to the int8 range.
func (q Quantization) Quantize(v float64) int8 {
	if q.Scale == 0 {
		return int8(max(-128, min(127, q.ZeroPoint)))
	}
	n := int(math.Round(v/q.Scale)) + q.ZeroPoint
	return int8(max(-128, min(127, n)))
}

// Dequantize decodes v.
func (q Quantization) Dequantize(v int8) float64 {
	return float64(int(v)-q.ZeroPoint) * q.Scale
}

// Preprocess flattens w into the model's quantized input tensor of
// length*FeaturesPerSample values. Flex channels are clamped to [0,1]; inertial
// channels are z-scored with norm. Channels of an invalid subsystem feed 0.
// Windows shorter than length are padded with quantized zeros; longer windows
// are truncated to their first length samples.
func Preprocess(w sensor.Window, length int, norm sensor.AxisNorm, q Quantization) []int8 {
	out := make([]int8, 0, length*FeaturesPerSample)
	n := min(len(w), length)
	for i := range n {
		s := w[i]
		for f := range sensor.NumFingers {
			v := 0.0
			if s.FingersValid {
				v = min(1, max(0, s.Flex[f]))
			}
			out = append(out, q.Quantize(v))
		}
		var a, g sensor.Vec3
		if s.IMUValid {
			a = norm.NormalizeAccel(s.Accel)
			g = norm.NormalizeGyro(s.Gyro)
		}
		for _, v := range [6]float64{a[0], a[1], a[2], g[0], g[1], g[2]} {
			out = append(out, q.Quantize(v))
		}
	}
	zero := q.Quantize(0)
	for len(out) < length*FeaturesPerSample {
		out = append(out, zero)
	}
	return out
}
