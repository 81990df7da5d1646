package centroid

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/sensor"
)

func restingWindow(n int, flex float64) sensor.Window {
	w := make(sensor.Window, n)
	for i := range w {
		for f := range w[i].Flex {
			w[i].Flex[f] = flex
		}
		w[i].Accel = sensor.Vec3{
			sensor.DefaultAxisNorm.AX.Mean,
			sensor.DefaultAxisNorm.AY.Mean,
			sensor.DefaultAxisNorm.AZ.Mean,
		}
		w[i].Gyro = sensor.Vec3{
			sensor.DefaultAxisNorm.GX.Mean,
			sensor.DefaultAxisNorm.GY.Mean,
			sensor.DefaultAxisNorm.GZ.Mean,
		}
		w[i].FingersValid = true
		w[i].IMUValid = true
	}
	return w
}

func TestClassify_NotReadyReturnsNeutral(t *testing.T) {
	t.Parallel()
	c := New()
	r := c.Classify(context.Background(), restingWindow(25, 0.9))
	if r.Symbol != classifier.Neutral || r.Confidence != 0 || r.ClassIndex != classifier.NoClass {
		t.Errorf("Classify before Initialize = %+v, want neutral/0/NoClass", r)
	}
}

func TestClassify_DefaultModel(t *testing.T) {
	t.Parallel()
	c := New()
	if !c.Initialize(context.Background()) {
		t.Fatal("Initialize returned false")
	}
	if !c.Initialize(context.Background()) {
		t.Fatal("second Initialize returned false")
	}

	tests := []struct {
		name      string
		window    sensor.Window
		want      classifier.Symbol
		wantLabel string
	}{
		{"resting hand", restingWindow(25, 0.5), classifier.Neutral, "NEUTRAL"},
		{"closed fist", func() sensor.Window {
			w := restingWindow(25, 0.85)
			for i := range w {
				w[i].Flex[4] = 0.3
			}
			return w
		}(), 'E', "EAT"},
	}
	for _, tt := range tests {
		r := c.Classify(context.Background(), tt.window)
		if r.Symbol != tt.want {
			t.Errorf("%s: Symbol = %v, want %v", tt.name, r.Symbol, tt.want)
		}
		if got := c.LabelForIndex(r.ClassIndex); got != tt.wantLabel {
			t.Errorf("%s: label = %q, want %q", tt.name, got, tt.wantLabel)
		}
		if r.Confidence < 0.9 || r.Confidence > 1 {
			t.Errorf("%s: Confidence = %v, want in [0.9, 1]", tt.name, r.Confidence)
		}
	}
}

func TestClassify_ConfidenceIsQuantized(t *testing.T) {
	t.Parallel()
	c := New()
	c.Initialize(context.Background())
	r := c.Classify(context.Background(), restingWindow(25, 0.5))
	steps := r.Confidence * 256
	if steps != float64(int(steps)) {
		t.Errorf("Confidence %v is not a multiple of the output scale", r.Confidence)
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()
	c := New()
	c.Initialize(context.Background())
	got := strings.Join(c.Labels(), ",")
	if got != "NEUTRAL,EAT,HELLO" {
		t.Errorf("Labels = %q", got)
	}
	if c.LabelForIndex(-1) != "" || c.LabelForIndex(3) != "" {
		t.Error("LabelForIndex out of range must return empty string")
	}
}

const modelYAML = `
window_size: 10
temperature: 0.1
input: {scale: 0.05, zero_point: 0}
output: {scale: 0.00390625, zero_point: -128}
classes:
  - {label: SPACE, centroid: [0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]}
  - {label: A, centroid: [1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0]}
`

func TestInitialize_FromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(modelYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(WithModelPath(path))
	if !c.Initialize(context.Background()) {
		t.Fatal("Initialize returned false")
	}
	r := c.Classify(context.Background(), restingWindow(10, 0.95))
	if r.Symbol != 'A' {
		t.Errorf("Symbol = %v, want A", r.Symbol)
	}
	r = c.Classify(context.Background(), restingWindow(10, 0))
	if r.Symbol != classifier.Space {
		t.Errorf("Symbol = %v, want SPACE", r.Symbol)
	}
}

func TestInitialize_BadModel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.yaml")
	bad := strings.Replace(modelYAML, "[0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]", "[0, 0]", 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(WithModelPath(path))
	if c.Initialize(context.Background()) {
		t.Fatal("Initialize succeeded on an invalid model")
	}
	if c.Ready() {
		t.Error("Ready() = true after failed Initialize")
	}

	missing := New(WithModelPath(filepath.Join(t.TempDir(), "absent.yaml")))
	if missing.Initialize(context.Background()) {
		t.Error("Initialize succeeded on a missing file")
	}
}

func TestModelValidate(t *testing.T) {
	t.Parallel()
	m := DefaultModel()
	if err := m.Validate(); err != nil {
		t.Fatalf("DefaultModel invalid: %v", err)
	}
	m.Classes[1].Symbol = "EA"
	m.Temperature = 0
	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"temperature", "symbol"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
