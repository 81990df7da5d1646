package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/signglove/internal/console"
	"github.com/MrWong99/signglove/pkg/sensor"
)

var (
	// ErrNoCache is returned by ClearSpeechCache without a speech cache.
	ErrNoCache = errors.New("pipeline: no speech cache")
	// ErrNoDriver is returned by calibration without the matching driver.
	ErrNoDriver = errors.New("pipeline: sensor driver not configured")
)

var _ console.Controller = (*Scheduler)(nil)

// Debug returns the diagnostic flags.
func (s *Scheduler) Debug() console.Debug { return s.state.Debug() }

// SetDebug replaces the diagnostic flags.
func (s *Scheduler) SetDebug(d console.Debug) { s.state.debug.Store(uint32(d)) }

// SetSpeechEnabled switches trigger-driven speech on or off.
func (s *Scheduler) SetSpeechEnabled(on bool) {
	s.state.speechEnabled.Store(on)
	slog.Info("pipeline: speech toggled", "enabled", on)
}

// Status summarises the subsystems. PendingText is only consistent when
// called from the logic task, which is where the console runs.
func (s *Scheduler) Status() console.Status {
	return console.Status{
		IMUReady:         s.state.IMUAvailable(),
		FingersReady:     s.state.FingersAvailable(),
		NetworkConnected: s.state.NetworkConnected(),
		SpeechEnabled:    s.state.SpeechEnabled(),
		ClassifierReady:  s.state.ClassifierReady(),
		Playing:          s.state.Playing(),
		PendingText:      s.dispatcher.Text(),
	}
}

// InitClassifier loads the model if needed and records its readiness.
func (s *Scheduler) InitClassifier(ctx context.Context) (wasReady, ready bool) {
	wasReady = s.deps.Classifier.Ready()
	ready = s.deps.Classifier.Initialize(ctx)
	s.state.classifierReady.Store(ready)
	if ready && !wasReady {
		slog.Info("pipeline: classifier ready", "labels", len(s.deps.Classifier.Labels()))
	}
	return wasReady, ready
}

// Labels returns the classifier's class labels.
func (s *Scheduler) Labels() []string { return s.deps.Classifier.Labels() }

// ClearSpeechCache removes every cached clip.
func (s *Scheduler) ClearSpeechCache(ctx context.Context) (int, error) {
	if s.deps.Cache == nil {
		return 0, ErrNoCache
	}
	return s.deps.Cache.Clear(ctx)
}

// CalibrateFingers runs the finger driver's calibration.
func (s *Scheduler) CalibrateFingers(ctx context.Context) error {
	if s.deps.Fingers == nil {
		return ErrNoDriver
	}
	return s.deps.Fingers.Calibrate(ctx)
}

// CalibrateIMU runs the IMU driver's calibration.
func (s *Scheduler) CalibrateIMU(ctx context.Context) error {
	if s.deps.IMU == nil {
		return ErrNoDriver
	}
	return s.deps.IMU.Calibrate(ctx)
}

// FingerCalibration returns the finger driver's calibration.
func (s *Scheduler) FingerCalibration() (sensor.FingerCalibration, bool) {
	if s.deps.Fingers == nil {
		return sensor.FingerCalibration{}, false
	}
	return s.deps.Fingers.Calibration(), true
}

// NormalizedFingers returns the flex values of the latest sample.
func (s *Scheduler) NormalizedFingers() ([sensor.NumFingers]float64, bool) {
	if s.deps.Fingers == nil {
		return [sensor.NumFingers]float64{}, false
	}
	if smp := s.latest.Load(); smp != nil {
		return smp.Flex, true
	}
	return [sensor.NumFingers]float64{}, true
}
