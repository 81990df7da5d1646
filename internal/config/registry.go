package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/signglove/internal/speechcache"
	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/provider/tts"
	"github.com/MrWong99/signglove/pkg/sensor"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name to constructor table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	fingers    factories[sensor.Fingers]
	imu        factories[sensor.IMU]
	classifier factories[classifier.Classifier]
	tts        factories[tts.Provider]
	player     factories[audio.Player]
	cache      factories[speechcache.Store]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		fingers:    newFactories[sensor.Fingers]("fingers"),
		imu:        newFactories[sensor.IMU]("imu"),
		classifier: newFactories[classifier.Classifier]("classifier"),
		tts:        newFactories[tts.Provider]("tts"),
		player:     newFactories[audio.Player]("player"),
		cache:      newFactories[speechcache.Store]("cache"),
	}
}

// RegisterFingers registers a finger driver factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterFingers(name string, factory Factory[sensor.Fingers]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingers.m[name] = factory
}

// RegisterIMU registers an IMU driver factory under name.
func (r *Registry) RegisterIMU(name string, factory Factory[sensor.IMU]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imu.m[name] = factory
}

// RegisterClassifier registers a gesture classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory Factory[classifier.Classifier]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterPlayer registers an audio output factory under name.
func (r *Registry) RegisterPlayer(name string, factory Factory[audio.Player]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.player.m[name] = factory
}

// RegisterCache registers a speech cache factory under name.
func (r *Registry) RegisterCache(name string, factory Factory[speechcache.Store]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.m[name] = factory
}

// CreateFingers instantiates a finger driver using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateFingers(entry ProviderEntry) (sensor.Fingers, error) {
	return r.fingers.create(&r.mu, entry)
}

// CreateIMU instantiates an IMU driver using the factory registered under entry.Name.
func (r *Registry) CreateIMU(entry ProviderEntry) (sensor.IMU, error) {
	return r.imu.create(&r.mu, entry)
}

// CreateClassifier instantiates a classifier using the factory registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Classifier, error) {
	return r.classifier.create(&r.mu, entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// CreatePlayer instantiates an audio output using the factory registered under entry.Name.
func (r *Registry) CreatePlayer(entry ProviderEntry) (audio.Player, error) {
	return r.player.create(&r.mu, entry)
}

// CreateCache instantiates a speech cache using the factory registered under entry.Name.
func (r *Registry) CreateCache(entry ProviderEntry) (speechcache.Store, error) {
	return r.cache.create(&r.mu, entry)
}
