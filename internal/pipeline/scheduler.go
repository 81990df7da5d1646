package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/signglove/internal/console"
	"github.com/MrWong99/signglove/internal/datalog"
	"github.com/MrWong99/signglove/internal/debounce"
	"github.com/MrWong99/signglove/internal/dispatch"
	"github.com/MrWong99/signglove/internal/motion"
	"github.com/MrWong99/signglove/internal/observe"
	"github.com/MrWong99/signglove/internal/profiler"
	"github.com/MrWong99/signglove/internal/queue"
	"github.com/MrWong99/signglove/internal/speechcache"
	"github.com/MrWong99/signglove/internal/telemetry"
	"github.com/MrWong99/signglove/internal/window"
	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/provider/tts"
	"github.com/MrWong99/signglove/pkg/sensor"
)

var (
	// ErrNoClassifier is returned by [New] without a classifier.
	ErrNoClassifier = errors.New("pipeline: no classifier")
	// ErrNoSpeech is returned by [New] without a speech provider.
	ErrNoSpeech = errors.New("pipeline: no speech provider")
	// ErrRunning is returned by a second concurrent [Scheduler.Run].
	ErrRunning = errors.New("pipeline: already running")

	errEmptyClip = errors.New("pipeline: synthesis returned no audio")
)

// Speech sources used as metric and event attributes.
const (
	sourceCache = "cache"
	sourceSynth = "synth"
)

// Queues holds the queue depths.
type Queues struct {
	Samples   int
	Decisions int
	Requests  int
	Playback  int
	// DataLog buffers samples for the CSV writer.
	DataLog int
}

// Config holds the scheduler parameters.
type Config struct {
	// Period is the sampling interval.
	Period time.Duration
	// WindowSize is the number of samples per classifier window.
	WindowSize int
	// LogicPoll bounds how long the logic task waits for a sample before
	// servicing decisions and console input.
	LogicPoll time.Duration

	Debounce debounce.Config
	Motion   motion.Config
	Norm     sensor.AxisNorm

	// SpeechEnabled allows shake triggers to queue speech.
	SpeechEnabled bool
	// Speech selects language and voice.
	Speech tts.SynthesisOptions
	// MaxText is the pending text capacity in bytes.
	MaxText int
	// SpeechTimeout bounds a single synthesis request.
	SpeechTimeout time.Duration

	// Output is the player's format. Clips in other formats are converted;
	// the zero value plays clips as they are.
	Output audio.Format

	Queues Queues
}

// DefaultConfig returns the glove's tuned defaults.
func DefaultConfig() Config {
	return Config{
		Period:        20 * time.Millisecond,
		WindowSize:    window.DefaultSize,
		LogicPoll:     5 * time.Millisecond,
		Debounce:      debounce.DefaultConfig(),
		Motion:        motion.DefaultConfig(),
		Norm:          sensor.DefaultAxisNorm,
		SpeechEnabled: true,
		Speech:        tts.SynthesisOptions{Language: "en"},
		MaxText:       dispatch.DefaultMaxText,
		SpeechTimeout: 8 * time.Second,
		Queues:        Queues{Samples: 20, Decisions: 10, Requests: 3, Playback: 3, DataLog: 50},
	}
}

// withDefaults fills non-positive durations and sizes from [DefaultConfig].
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Period = cmp.Or(max(c.Period, 0), def.Period)
	c.LogicPoll = cmp.Or(max(c.LogicPoll, 0), def.LogicPoll)
	c.SpeechTimeout = cmp.Or(max(c.SpeechTimeout, 0), def.SpeechTimeout)
	c.MaxText = cmp.Or(max(c.MaxText, 0), def.MaxText)
	c.Queues.DataLog = cmp.Or(max(c.Queues.DataLog, 0), def.Queues.DataLog)
	return c
}

// Deps are the collaborators the scheduler drives. Classifier and Speech are
// required; everything else is optional.
type Deps struct {
	Fingers    sensor.Fingers
	IMU        sensor.IMU
	Classifier classifier.Classifier
	Speech     tts.Provider
	Cache      speechcache.Store
	// Player defaults to a deviceless [audio.TimedPlayer].
	Player    audio.Player
	DataLog   *datalog.Logger
	Profiler  *profiler.Profiler
	Telemetry *telemetry.Hub
	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

type speechRequest struct {
	job  dispatch.PlaybackJob
	opts tts.SynthesisOptions
}

type playbackItem struct {
	job  dispatch.PlaybackJob
	clip audio.Clip
}

// Scheduler owns the five pipeline tasks and the queues between them.
type Scheduler struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	now     func() time.Time
	state   State

	// sampling
	acq     *sensor.Acquirer
	builder *window.Builder
	latest  atomic.Pointer[sensor.Sample]

	// logic
	debouncer  *debounce.Debouncer
	trigger    *motion.Trigger
	dispatcher *dispatch.Dispatcher
	speechOpts tts.SynthesisOptions
	console    *console.Console
	// configuredSpeech is the last speech.enabled value from configuration.
	// A reload only touches the live flag when this changes, so a console
	// toggle survives unrelated edits.
	configuredSpeech bool

	converter *audio.Converter

	windows   *queue.Mailbox[sensor.Window]
	samples   *queue.Ring[sensor.Sample]
	decisions *queue.Ring[classifier.Result]
	requests  *queue.Ring[speechRequest]
	playback  *queue.Ring[playbackItem]
	reconfig  *queue.Mailbox[Config]
	logged    *queue.Ring[sensor.Sample]

	// outstanding counts speech jobs accepted by the logic task and not yet
	// played or failed.
	outstanding atomic.Int64
	running     atomic.Bool
}

// New wires a scheduler. It does not start any goroutine.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Classifier == nil {
		return nil, ErrNoClassifier
	}
	if deps.Speech == nil {
		return nil, ErrNoSpeech
	}
	if deps.Player == nil {
		deps.Player = &audio.TimedPlayer{}
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		now:     deps.Now,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.Output.Valid() {
		s.converter = &audio.Converter{Target: cfg.Output}
	}

	s.acq = sensor.NewAcquirer(deps.Fingers, deps.IMU,
		sensor.WithAxisNorm(cfg.Norm),
		sensor.WithClock(s.now),
		sensor.WithUpdateTrace(func(sub sensor.Subsystem) func() {
			if sub == sensor.SubsystemIMU {
				return deps.Profiler.Span(profiler.IMUUpdate)
			}
			return deps.Profiler.Span(profiler.FingerUpdate)
		}),
	)
	s.builder = window.New(cfg.WindowSize)
	s.debouncer = debounce.New(cfg.Debounce,
		debounce.WithLabels(deps.Classifier.LabelForIndex),
		debounce.WithPlaybackHistory(&s.state),
		debounce.WithOutcomeHook(func(o debounce.Outcome, _ debounce.Commit) {
			s.metrics.RecordCommit(context.Background(), o.String())
		}),
	)
	s.trigger = motion.New(cfg.Motion)
	s.dispatcher = dispatch.New(s, dispatch.WithMaxText(cfg.MaxText))
	s.speechOpts = cfg.Speech
	s.configuredSpeech = cfg.SpeechEnabled

	s.windows = queue.NewMailbox[sensor.Window]()
	s.reconfig = queue.NewMailbox[Config]()
	s.samples = queue.NewRing(cfg.Queues.Samples,
		queue.WithDropHook[sensor.Sample](s.dropped("samples")))
	s.decisions = queue.NewRing(cfg.Queues.Decisions,
		queue.WithDropHook[classifier.Result](s.dropped("decisions")))
	s.requests = queue.NewRing(cfg.Queues.Requests,
		queue.WithDropHook[speechRequest](s.droppedJob("requests")))
	s.playback = queue.NewRing(cfg.Queues.Playback,
		queue.WithDropHook[playbackItem](s.droppedJob("playback")))
	s.logged = queue.NewRing(cfg.Queues.DataLog,
		queue.WithDropHook[sensor.Sample](s.dropped("datalog")))

	s.state.speechEnabled.Store(cfg.SpeechEnabled)
	s.state.classifierReady.Store(deps.Classifier.Ready())
	return s, nil
}

func (s *Scheduler) dropped(name string) func() {
	return func() { s.metrics.RecordQueueDrop(context.Background(), name) }
}

func (s *Scheduler) droppedJob(name string) func() {
	return func() {
		s.outstanding.Add(-1)
		s.metrics.RecordQueueDrop(context.Background(), name)
	}
}

// AttachConsole makes the logic task service c. Call before [Scheduler.Run].
func (s *Scheduler) AttachConsole(c *console.Console) { s.console = c }

// State returns the shared state for read-only inspection.
func (s *Scheduler) State() *State { return &s.state }

// SpeechEnabled implements dispatch.Gate.
func (s *Scheduler) SpeechEnabled() bool { return s.state.SpeechEnabled() }

// InFlight implements dispatch.Gate.
func (s *Scheduler) InFlight() bool {
	return s.state.SpeechBusy() || s.state.Playing() ||
		s.outstanding.Load() > 0 ||
		s.requests.Len() > 0 || s.playback.Len() > 0
}

// Reconfigure hands new tunables to the logic task, which applies the
// debounce, motion, speech and text capacity settings on its next iteration.
// Timing and queue settings only take effect on restart.
func (s *Scheduler) Reconfigure(cfg Config) { s.reconfig.Put(cfg) }

// Run starts the five tasks, plus the data log writer when a logger is
// set, and blocks until ctx is done or one of them fails.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	slog.Info("pipeline: starting",
		"period", s.cfg.Period,
		"window", s.builder.Size(),
		"speech_enabled", s.state.SpeechEnabled(),
		"classifier_ready", s.state.ClassifierReady(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runSampling(ctx) })
	g.Go(func() error { return s.runClassification(ctx) })
	g.Go(func() error { return s.runLogic(ctx) })
	g.Go(func() error { return s.runSpeech(ctx) })
	g.Go(func() error { return s.runPlayback(ctx) })
	if s.deps.DataLog != nil {
		g.Go(func() error { return s.runDataLog(ctx) })
	}
	err := g.Wait()
	slog.Info("pipeline: stopped")
	return err
}

// ── sampling ────────────────────────────────────────────────────────────────

func (s *Scheduler) runSampling(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Period)
	defer t.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick := <-t.C:
			s.metrics.TickLateness.Record(ctx, time.Since(tick).Seconds())
			s.sample(ctx, n)
			n++
		}
	}
}

// debugEvery spaces out per-sample debug lines to twice a second at 50 Hz.
const debugEvery = 25

func (s *Scheduler) sample(ctx context.Context, n uint64) {
	prof := s.deps.Profiler

	end := prof.Span(profiler.SensorRead)
	smp := s.acq.Acquire(ctx)
	end()

	s.state.fingersAvailable.Store(smp.FingersValid)
	s.state.imuAvailable.Store(smp.IMUValid)
	s.latest.Store(&smp)

	s.metrics.Samples.Add(ctx, 1)
	if !smp.FingersValid {
		s.metrics.RecordSensorFault(ctx, "fingers")
	}
	if !smp.IMUValid {
		s.metrics.RecordSensorFault(ctx, "imu")
	}
	if n%debugEvery == 0 {
		if smp.IMUValid {
			s.debug(console.DebugIMU, "imu", "accel", smp.Accel, "gyro", smp.Gyro)
		}
		if smp.FingersValid {
			s.debug(console.DebugFingers, "fingers", "flex", smp.Flex)
		}
	}

	if dl := s.deps.DataLog; dl != nil && dl.Active() {
		s.logged.Push(smp)
	}
	s.deps.Telemetry.Publish(telemetry.Event{Type: telemetry.TypeSample, Time: smp.Timestamp, Data: smp})

	s.samples.Push(smp)

	end = prof.Span(profiler.WindowBuild)
	w, ok := s.builder.Add(smp)
	end()
	if ok && s.windows.Put(w) {
		s.metrics.RecordQueueDrop(ctx, "window")
	}
}

// runDataLog writes queued samples off the sampling task. Rows still queued
// at shutdown are written before it returns.
func (s *Scheduler) runDataLog(ctx context.Context) error {
	for {
		smp, err := s.logged.Pop(ctx)
		if err != nil {
			s.flushDataLog()
			return nil
		}
		s.writeDataLog(smp)
	}
}

func (s *Scheduler) flushDataLog() {
	for {
		smp, ok := s.logged.TryPop()
		if !ok {
			return
		}
		s.writeDataLog(smp)
	}
}

func (s *Scheduler) writeDataLog(smp sensor.Sample) {
	if err := s.deps.DataLog.Record(smp); err != nil {
		slog.Warn("pipeline: data log write failed", "err", err)
	}
}

// ── classification ──────────────────────────────────────────────────────────

func (s *Scheduler) runClassification(ctx context.Context) error {
	for {
		w, err := s.windows.Wait(ctx)
		if err != nil {
			return nil
		}
		s.classify(ctx, w)
	}
}

func (s *Scheduler) classify(ctx context.Context, w sensor.Window) {
	start := time.Now()
	end := s.deps.Profiler.Span(profiler.Inference)
	r := s.deps.Classifier.Classify(ctx, w)
	end()
	s.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
	s.decisions.Push(r)
}

// ── logic ───────────────────────────────────────────────────────────────────

func (s *Scheduler) runLogic(ctx context.Context) error {
	for {
		if cfg, ok := s.reconfig.Take(); ok {
			s.apply(cfg)
		}
		smp, ok, err := s.samples.PopTimeout(ctx, s.cfg.LogicPoll)
		if err != nil {
			return nil
		}
		if ok && smp.IMUValid {
			s.observeMotion(ctx, smp)
		}
		if r, ok := s.decisions.TryPop(); ok {
			s.observeDecision(r)
		}
		if s.console != nil {
			s.console.Service(ctx)
		}
	}
}

func (s *Scheduler) apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.debouncer.SetConfig(cfg.Debounce)
	s.trigger.SetConfig(cfg.Motion)
	s.dispatcher.SetMaxText(cfg.MaxText)
	s.speechOpts = cfg.Speech
	if cfg.SpeechEnabled != s.configuredSpeech {
		s.configuredSpeech = cfg.SpeechEnabled
		s.state.speechEnabled.Store(cfg.SpeechEnabled)
		slog.Info("pipeline: speech toggled", "enabled", cfg.SpeechEnabled)
	}
	slog.Info("pipeline: reconfigured",
		"confidence", cfg.Debounce.ConfidenceThreshold,
		"hold", cfg.Debounce.Hold,
		"motion_threshold", cfg.Motion.Threshold,
		"motion_quorum", cfg.Motion.Quorum,
	)
}

func (s *Scheduler) observeMotion(ctx context.Context, smp sensor.Sample) {
	end := s.deps.Profiler.Span(profiler.ShakeDetect)
	fired := s.trigger.Add(motion.Magnitude(smp.Gyro), smp.Timestamp)
	end()
	if !fired {
		return
	}

	job, outcome := s.dispatcher.Trigger(smp.Timestamp)
	s.metrics.RecordTrigger(ctx, outcome.String())
	s.deps.Telemetry.Publish(telemetry.Event{
		Type: telemetry.TypeTrigger,
		Time: smp.Timestamp,
		Data: triggerEvent{Outcome: outcome.String(), Text: job.Text},
	})

	switch outcome {
	case dispatch.OutcomeQueued:
		s.outstanding.Add(1)
		s.requests.Push(speechRequest{job: job, opts: s.speechOpts})
		s.debug(console.DebugShake, "shake: speech queued", "job_id", job.ID, "text", job.Text)
	case dispatch.OutcomeDisabled:
		s.debug(console.DebugShake, "shake: speech disabled")
	case dispatch.OutcomeEmpty:
		s.debug(console.DebugShake, "shake: buffer empty")
	case dispatch.OutcomeBusy:
		s.debug(console.DebugShake, "shake: speech in progress")
	}
}

func (s *Scheduler) observeDecision(r classifier.Result) {
	end := s.deps.Profiler.Span(profiler.Classification)
	c, ok := s.debouncer.Observe(r)
	end()

	if r.Symbol != classifier.Neutral {
		s.debug(console.DebugInference, "inference", "symbol", r.Symbol, "confidence", r.Confidence)
	}
	s.deps.Telemetry.Publish(telemetry.Event{
		Type: telemetry.TypeDecision,
		Time: r.Timestamp,
		Data: decisionEvent{Symbol: r.Symbol.String(), Confidence: r.Confidence, Phase: s.debouncer.Phase().String()},
	})
	if !ok {
		return
	}

	end = s.deps.Profiler.Span(profiler.LetterCommit)
	changed := s.dispatcher.Apply(c)
	end()
	if !changed {
		return
	}
	text := s.dispatcher.Text()
	s.debug(console.DebugInference, "commit", "symbol", c.Symbol, "label", c.Label, "text", text)
	s.deps.Telemetry.Publish(telemetry.Event{
		Type: telemetry.TypeCommit,
		Time: c.Timestamp,
		Data: commitEvent{Symbol: c.Symbol.String(), Label: c.Label, Text: text},
	})
}

// ── speech ──────────────────────────────────────────────────────────────────

func (s *Scheduler) runSpeech(ctx context.Context) error {
	for {
		req, err := s.requests.Pop(ctx)
		if err != nil {
			return nil
		}
		s.speak(ctx, req)
	}
}

// speak resolves one request to audio and queues it for playback. Busy is
// released only after the clip is queued.
func (s *Scheduler) speak(ctx context.Context, req speechRequest) {
	s.state.speechBusy.Store(true)
	defer s.state.speechBusy.Store(false)
	s.state.setLastPlayed(req.job.Text)

	ctx, span := observe.StartSpeechSpan(ctx, req.job.ID.String(), req.job.Text)
	defer span.End()
	log := observe.Logger(ctx).With("job_id", req.job.ID, "text", req.job.Text)

	start := time.Now()
	end := s.deps.Profiler.Span(profiler.TTSDownload)
	clip, source, err := s.resolve(ctx, req)
	end()
	s.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("source", source)))

	if err != nil {
		s.outstanding.Add(-1)
		s.metrics.RecordSpeech(ctx, source, "error")
		s.metrics.SpeechErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("pipeline: speech failed", "err", err)
		s.publishSpeech(req.job, source, "error")
		return
	}

	s.metrics.RecordSpeech(ctx, source, "ok")
	s.debug(console.DebugNetwork, "speech ready", "job_id", req.job.ID, "source", source, "duration", clip.Duration())
	s.publishSpeech(req.job, source, "ready")
	s.playback.Push(playbackItem{job: req.job, clip: clip})
}

// resolve looks text up in the cache and synthesizes it on a miss. Cache
// failures are logged and treated as misses.
func (s *Scheduler) resolve(ctx context.Context, req speechRequest) (audio.Clip, string, error) {
	text := req.job.Text
	if s.deps.Cache != nil {
		clip, err := s.deps.Cache.Lookup(ctx, text)
		switch {
		case err == nil:
			return clip, sourceCache, nil
		case !errors.Is(err, speechcache.ErrNotFound):
			slog.Warn("pipeline: speech cache lookup failed", "text", text, "err", err)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SpeechTimeout)
	defer cancel()
	clip, err := s.deps.Speech.Synthesize(sctx, text, req.opts)
	if err == nil && clip.Empty() {
		err = errEmptyClip
	}
	if err != nil {
		s.state.networkConnected.Store(false)
		return audio.Clip{}, sourceSynth, fmt.Errorf("pipeline: synthesize %q: %w", text, err)
	}
	s.state.networkConnected.Store(true)

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Store(ctx, text, clip); err != nil {
			slog.Warn("pipeline: speech cache store failed", "text", text, "err", err)
		}
	}
	return clip, sourceSynth, nil
}

// ── playback ────────────────────────────────────────────────────────────────

func (s *Scheduler) runPlayback(ctx context.Context) error {
	for {
		item, err := s.playback.Pop(ctx)
		if err != nil {
			return nil
		}
		s.play(ctx, item)
	}
}

func (s *Scheduler) play(ctx context.Context, item playbackItem) {
	clip := item.clip
	if s.converter != nil {
		clip = s.converter.Convert(clip)
	}

	s.state.playing.Store(true)
	start := time.Now()
	end := s.deps.Profiler.Span(profiler.TTSPlayback)
	err := s.deps.Player.Play(ctx, clip)
	end()
	s.state.setCompletion(s.now())
	s.state.playing.Store(false)
	s.outstanding.Add(-1)

	s.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil && ctx.Err() == nil {
		slog.Warn("pipeline: playback failed", "job_id", item.job.ID, "err", err)
		s.publishSpeech(item.job, "", "playback_error")
		return
	}
	s.publishSpeech(item.job, "", "played")
}

func (s *Scheduler) publishSpeech(job dispatch.PlaybackJob, source, status string) {
	s.deps.Telemetry.Publish(telemetry.Event{
		Type: telemetry.TypeSpeech,
		Time: s.now(),
		Data: speechEvent{JobID: job.ID.String(), Text: job.Text, Source: source, Status: status},
	})
}

// debug logs at Info when every flag in d is enabled.
func (s *Scheduler) debug(d console.Debug, msg string, args ...any) {
	if s.state.DebugEnabled(d) {
		slog.Info(msg, args...)
	}
}

type triggerEvent struct {
	Outcome string `json:"outcome"`
	Text    string `json:"text,omitempty"`
}

type decisionEvent struct {
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	Phase      string  `json:"phase"`
}

type commitEvent struct {
	Symbol string `json:"symbol"`
	Label  string `json:"label,omitempty"`
	Text   string `json:"text"`
}

type speechEvent struct {
	JobID  string `json:"job_id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Status string `json:"status"`
}
