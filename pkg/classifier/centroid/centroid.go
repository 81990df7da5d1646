// Package centroid implements classifier.Classifier with a quantized
// nearest-centroid model.
//
// The model runs on the same int8 input tensor a fixed-point network would
// receive: the window is preprocessed with [classifier.Preprocess], averaged
// per channel after dequantization, and scored against one centroid per class.
// Scores are a temperature-scaled softmax over negative squared distances,
// passed through the output quantization so confidences carry the same
// resolution as an int8 model head.
//
// Models are YAML documents:
//
//	window_size: 25
//	temperature: 0.05
//	input:  {scale: 0.05, zero_point: 0}
//	output: {scale: 0.00390625, zero_point: -128}
//	classes:
//	  - {label: NEUTRAL, symbol: NEUTRAL, centroid: [0.5, 0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0, 0, 0]}
//	  - {label: EAT, symbol: E, centroid: [0.85, 0.85, 0.85, 0.85, 0.3, 0, 0, 0, 0, 0, 0]}
package centroid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/sensor"
)

// Class is one model output class.
type Class struct {
	// Label is the full class name (e.g. "HELLO").
	Label string `yaml:"label"`

	// Symbol is the committed token: a reserved label name ("NEUTRAL",
	// "BACKSPACE", "SPACE") or a single character. Empty means the first
	// character of Label.
	Symbol string `yaml:"symbol"`

	// Centroid holds the mean of each of the FeaturesPerSample input channels.
	Centroid []float64 `yaml:"centroid"`
}

// Model is the serialisable form of a centroid classifier.
type Model struct {
	WindowSize  int                     `yaml:"window_size"`
	Temperature float64                 `yaml:"temperature"`
	Input       classifier.Quantization `yaml:"input"`
	Output      classifier.Quantization `yaml:"output"`

	// Normalization overrides the per-channel statistics used for inertial
	// inputs. Nil means [sensor.DefaultAxisNorm].
	Normalization *sensor.AxisNorm `yaml:"normalization"`

	Classes []Class `yaml:"classes"`
}

// DefaultModel returns the built-in three-class model (NEUTRAL, EAT, HELLO).
func DefaultModel() Model {
	return Model{
		WindowSize:  25,
		Temperature: 0.05,
		Input:       classifier.Quantization{Scale: 0.05, ZeroPoint: 0},
		Output:      classifier.Quantization{Scale: 1.0 / 256, ZeroPoint: -128},
		Classes: []Class{
			{Label: classifier.LabelNeutral, Symbol: classifier.LabelNeutral, Centroid: []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0, 0, 0}},
			{Label: "EAT", Symbol: "E", Centroid: []float64{0.85, 0.85, 0.85, 0.85, 0.3, 0, 0, 0, 0, 0, 0}},
			{Label: "HELLO", Symbol: "H", Centroid: []float64{0.05, 0.05, 0.05, 0.05, 0.05, 0, 0, 0, 0.8, 0, 0}},
		},
	}
}

// Validate checks that m is usable.
func (m Model) Validate() error {
	var errs []error
	if m.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window_size %d must be positive", m.WindowSize))
	}
	if m.Temperature <= 0 {
		errs = append(errs, fmt.Errorf("temperature %v must be positive", m.Temperature))
	}
	if m.Input.Scale <= 0 || m.Output.Scale <= 0 {
		errs = append(errs, errors.New("input and output quantization scales must be positive"))
	}
	if len(m.Classes) == 0 {
		errs = append(errs, errors.New("at least one class is required"))
	}
	for i, c := range m.Classes {
		if c.Label == "" {
			errs = append(errs, fmt.Errorf("classes[%d].label is required", i))
		}
		if len(c.Centroid) != classifier.FeaturesPerSample {
			errs = append(errs, fmt.Errorf("classes[%d].centroid has %d values, want %d", i, len(c.Centroid), classifier.FeaturesPerSample))
		}
		if !classifier.ReservedLabel(c.Symbol) && utf8.RuneCountInString(c.Symbol) > 1 {
			errs = append(errs, fmt.Errorf("classes[%d].symbol %q must be a single character or a reserved label", i, c.Symbol))
		}
	}
	return errors.Join(errs...)
}

// LoadModel decodes and validates a model document.
func LoadModel(r io.Reader) (Model, error) {
	var m Model
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Model{}, fmt.Errorf("centroid: decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Model{}, fmt.Errorf("centroid: invalid model: %w", err)
	}
	return m, nil
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithModelPath loads the model from a YAML file during Initialize instead of
// using [DefaultModel].
func WithModelPath(path string) Option {
	return func(c *Classifier) { c.path = path }
}

// WithModel uses m instead of [DefaultModel].
func WithModel(m Model) Option {
	return func(c *Classifier) { c.model = m }
}

// WithClock overrides the result timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// Classifier is a nearest-centroid gesture classifier.
type Classifier struct {
	path string
	now  func() time.Time

	mu      sync.RWMutex
	model   Model
	symbols []classifier.Symbol
	norm    sensor.AxisNorm
	ready   bool
}

var _ classifier.Classifier = (*Classifier)(nil)

// New returns an uninitialised classifier. Call Initialize before use.
func New(opts ...Option) *Classifier {
	c := &Classifier{model: DefaultModel(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initialize loads and compiles the model.
func (c *Classifier) Initialize(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return true
	}

	m := c.model
	if c.path != "" {
		f, err := os.Open(c.path)
		if err != nil {
			slog.Error("centroid: open model", "path", c.path, "err", err)
			return false
		}
		m, err = LoadModel(f)
		f.Close()
		if err != nil {
			slog.Error("centroid: load model", "path", c.path, "err", err)
			return false
		}
	} else if err := m.Validate(); err != nil {
		slog.Error("centroid: invalid model", "err", err)
		return false
	}

	c.model = m
	c.symbols = make([]classifier.Symbol, len(m.Classes))
	for i, cl := range m.Classes {
		c.symbols[i] = symbolFor(cl)
	}
	c.norm = sensor.DefaultAxisNorm
	if m.Normalization != nil {
		c.norm = *m.Normalization
	}
	c.ready = true
	slog.Info("centroid: model ready", "classes", len(m.Classes), "window", m.WindowSize)
	return true
}

// Ready reports whether the model has been loaded.
func (c *Classifier) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Classify scores w against every class centroid.
func (c *Classifier) Classify(_ context.Context, w sensor.Window) classifier.Result {
	ts := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready || len(w) == 0 {
		return classifier.NeutralResult(ts)
	}

	m := c.model
	tensor := classifier.Preprocess(w, m.WindowSize, c.norm, m.Input)

	// Mean of each channel over the window's frames.
	var means [classifier.FeaturesPerSample]float64
	frames := len(tensor) / classifier.FeaturesPerSample
	for i, q := range tensor {
		means[i%classifier.FeaturesPerSample] += m.Input.Dequantize(q)
	}
	for i := range means {
		means[i] /= float64(frames)
	}

	logits := make([]float64, len(m.Classes))
	maxLogit := math.Inf(-1)
	for i, cl := range m.Classes {
		var d float64
		for f, v := range cl.Centroid {
			diff := means[f] - v
			d += diff * diff
		}
		logits[i] = -d / m.Temperature
		maxLogit = max(maxLogit, logits[i])
	}
	var sum float64
	for i := range logits {
		logits[i] = math.Exp(logits[i] - maxLogit)
		sum += logits[i]
	}

	best, bestScore := classifier.NoClass, -1.0
	for i := range logits {
		score := m.Output.Dequantize(m.Output.Quantize(logits[i] / sum))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best == classifier.NoClass {
		return classifier.NeutralResult(ts)
	}
	return classifier.Result{
		Symbol:     c.symbols[best],
		Confidence: min(1, max(0, bestScore)),
		Timestamp:  ts,
		ClassIndex: best,
	}
}

// LabelForIndex returns the label of class i.
func (c *Classifier) LabelForIndex(i int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.model.Classes) {
		return ""
	}
	return c.model.Classes[i].Label
}

// Labels returns all class labels in index order.
func (c *Classifier) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.model.Classes))
	for i, cl := range c.model.Classes {
		out[i] = cl.Label
	}
	return out
}

func symbolFor(cl Class) classifier.Symbol {
	s := cl.Symbol
	if s == "" {
		s = cl.Label
	}
	switch s {
	case classifier.LabelNeutral:
		return classifier.Neutral
	case classifier.LabelBackspace:
		return classifier.Backspace
	case classifier.LabelSpace:
		return classifier.Space
	}
	r, _ := utf8.DecodeRuneInString(s)
	return classifier.Symbol(r)
}
