package sim_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/signglove/pkg/sensor"
	"github.com/MrWong99/signglove/pkg/sensor/sim"
)

// shakeThreshold is the gyro magnitude the motion trigger counts as a hit.
const shakeThreshold = 3.5

func TestFingers_RestPoseWithinNoise(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := sim.NewFingers(sim.WithSeed(42), sim.WithFlex(0.3), sim.WithNoise(0.02))
	b := sim.NewFingers(sim.WithSeed(42), sim.WithFlex(0.3), sim.WithNoise(0.02))

	for i := range 200 {
		if err := a.Update(ctx); err != nil {
			t.Fatalf("Update: %v", err)
		}
		_ = b.Update(ctx)
		va, vb := a.Values(), b.Values()
		if va != vb {
			t.Fatalf("update %d: same seed diverged: %v vs %v", i, va, vb)
		}
		for j, v := range va {
			if math.Abs(v-0.3) > 0.02+1e-9 {
				t.Fatalf("update %d finger %d = %v, want 0.3 ± 0.02", i, j, v)
			}
		}
	}
	if !a.Calibration().Complete() {
		t.Error("simulated fingers should start calibrated")
	}
}

func TestIMU_RestIsStill(t *testing.T) {
	t.Parallel()
	m := sim.NewIMU(sim.WithSeed(7), sim.WithGyroNoise(0.05))

	for range 100 {
		_ = m.Update(context.Background())
		if n := m.Gyro().Norm(); n > math.Sqrt(3)*0.05 {
			t.Fatalf("resting gyro norm = %v, want within noise", n)
		}
		if got := sensor.DefaultAxisNorm.NormalizeAccel(m.Accel()); got != (sensor.Vec3{}) {
			t.Fatalf("resting accel normalizes to %v, want zero", got)
		}
	}
}

func TestIMU_ShakeLastsExactlyFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frames int
		level  float64
	}{
		{"short burst", 3, 4},
		{"full buffer", 25, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := sim.NewIMU(sim.WithSeed(1))
			m.Shake(tt.frames, tt.level)

			hot := 0
			for range tt.frames + 10 {
				_ = m.Update(context.Background())
				if m.Gyro().Norm() > shakeThreshold {
					hot++
				}
			}
			if hot != tt.frames {
				t.Errorf("updates above threshold = %d, want %d", hot, tt.frames)
			}
		})
	}
}
