package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/signglove/internal/datalog"
	"github.com/MrWong99/signglove/internal/debounce"
	"github.com/MrWong99/signglove/internal/motion"
	"github.com/MrWong99/signglove/internal/profiler"
	"github.com/MrWong99/signglove/internal/speechcache"
	"github.com/MrWong99/signglove/pkg/audio"
	audiomock "github.com/MrWong99/signglove/pkg/audio/mock"
	"github.com/MrWong99/signglove/pkg/classifier"
	classmock "github.com/MrWong99/signglove/pkg/classifier/mock"
	ttsmock "github.com/MrWong99/signglove/pkg/provider/tts/mock"
	"github.com/MrWong99/signglove/pkg/sensor"
	sensormock "github.com/MrWong99/signglove/pkg/sensor/mock"
)

const tick = 20 * time.Millisecond

var (
	epoch    = time.Unix(1_700_000_000, 0)
	testClip = audio.Clip{
		Format: audio.Format{SampleRate: 16000, Channels: 1},
		PCM:    []byte{1, 0, 2, 0, 3, 0, 4, 0},
	}
)

type fixture struct {
	s      *Scheduler
	cls    *classmock.Classifier
	tts    *ttsmock.Provider
	player *audiomock.Player
}

func newFixture(t *testing.T, mutate func(*Config, *Deps)) *fixture {
	t.Helper()
	f := &fixture{
		cls: &classmock.Classifier{
			ReadyValue: true,
			LabelList:  []string{"A", "B", "H", "I"},
		},
		tts:    &ttsmock.Provider{SynthesizeResult: testClip},
		player: &audiomock.Player{},
	}
	cfg := DefaultConfig()
	deps := Deps{Classifier: f.cls, Speech: f.tts, Player: f.player}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.s = s
	return f
}

// hold feeds n confident results for sym starting at start and returns the
// time after the last one.
func (f *fixture) hold(sym classifier.Symbol, idx, n int, start time.Time) time.Time {
	ts := start
	for range n {
		f.s.observeDecision(classifier.Result{Symbol: sym, Confidence: 0.95, ClassIndex: idx, Timestamp: ts})
		ts = ts.Add(tick)
	}
	return ts
}

func (f *fixture) neutral(n int, start time.Time) time.Time {
	ts := start
	for range n {
		f.s.observeDecision(classifier.NeutralResult(ts))
		ts = ts.Add(tick)
	}
	return ts
}

// shake feeds one full motion buffer of hot gyro samples.
func (f *fixture) shake(ctx context.Context, start time.Time) time.Time {
	ts := start
	for range motion.DefaultConfig().Buffer {
		f.s.observeMotion(ctx, sensor.Sample{Timestamp: ts, Gyro: sensor.Vec3{5, 0, 0}, IMUValid: true})
		ts = ts.Add(tick)
	}
	return ts
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(DefaultConfig(), Deps{Speech: &ttsmock.Provider{}}); !errors.Is(err, ErrNoClassifier) {
		t.Errorf("no classifier: err = %v, want ErrNoClassifier", err)
	}
	if _, err := New(DefaultConfig(), Deps{Classifier: &classmock.Classifier{}}); !errors.Is(err, ErrNoSpeech) {
		t.Errorf("no speech: err = %v, want ErrNoSpeech", err)
	}
}

func TestLogic_CommitTriggerSpeakPlay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	ts := f.hold('H', 2, 15, epoch)
	ts = f.neutral(3, ts)
	ts = f.hold('I', 3, 15, ts)
	if got := f.s.dispatcher.Text(); got != "HI" {
		t.Fatalf("pending text = %q, want %q", got, "HI")
	}

	f.shake(ctx, ts)
	if f.s.requests.Len() != 1 {
		t.Fatalf("requests queued = %d, want 1", f.s.requests.Len())
	}
	if f.s.dispatcher.Text() != "" {
		t.Errorf("pending text not cleared: %q", f.s.dispatcher.Text())
	}
	if !f.s.InFlight() {
		t.Error("InFlight = false with a queued request")
	}

	req, _ := f.s.requests.TryPop()
	f.s.speak(ctx, req)
	if f.s.State().SpeechBusy() {
		t.Error("SpeechBusy still set after speak")
	}
	if !f.s.State().NetworkConnected() {
		t.Error("NetworkConnected = false after successful synthesis")
	}
	calls := f.tts.Calls()
	if len(calls) != 1 || calls[0].Text != "HI" || calls[0].Options.Language != "en" {
		t.Fatalf("synthesize calls = %+v", calls)
	}

	item, ok := f.s.playback.TryPop()
	if !ok {
		t.Fatal("no playback item queued")
	}
	f.s.play(ctx, item)
	if n := len(f.player.PlayCalls()); n != 1 {
		t.Fatalf("play calls = %d, want 1", n)
	}
	text, at := f.s.State().LastPlayed()
	if text != "HI" || at.IsZero() {
		t.Errorf("LastPlayed = %q at %v", text, at)
	}
	if f.s.InFlight() {
		t.Error("InFlight = true after playback finished")
	}
}

func TestLogic_TriggerOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		prepare func(*fixture)
		letter  bool
		queued  int
		keeps   string
	}{
		{"queued", func(*fixture) {}, true, 1, ""},
		{"empty buffer", func(*fixture) {}, false, 0, ""},
		{"speech disabled", func(f *fixture) { f.s.SetSpeechEnabled(false) }, true, 0, "A"},
		{"playing", func(f *fixture) { f.s.state.playing.Store(true) }, true, 0, "A"},
		{"synthesizing", func(f *fixture) { f.s.state.speechBusy.Store(true) }, true, 0, "A"},
		{"job outstanding", func(f *fixture) { f.s.outstanding.Add(1) }, true, 0, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			tt.prepare(f)
			ts := epoch
			if tt.letter {
				ts = f.hold('A', 0, 15, ts)
			}
			f.shake(context.Background(), ts)
			if got := f.s.requests.Len(); got != tt.queued {
				t.Errorf("requests = %d, want %d", got, tt.queued)
			}
			if got := f.s.dispatcher.Text(); got != tt.keeps {
				t.Errorf("pending text = %q, want %q", got, tt.keeps)
			}
		})
	}
}

func TestLogic_PostPlaybackSuppression(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.s.state.setLastPlayed(" A ")
	f.s.state.setCompletion(epoch)

	ts := f.hold('A', 0, 15, epoch)
	if got := f.s.dispatcher.Text(); got != "" {
		t.Fatalf("spoken label re-committed within cooldown: %q", got)
	}
	ts = f.neutral(3, ts)

	// A different letter is unaffected.
	ts = f.hold('B', 1, 15, ts)
	if got := f.s.dispatcher.Text(); got != "B" {
		t.Fatalf("pending text = %q, want %q", got, "B")
	}
	ts = f.neutral(3, ts)

	f.hold('A', 0, 15, ts.Add(2*time.Second))
	if got := f.s.dispatcher.Text(); got != "BA" {
		t.Errorf("pending text after cooldown = %q, want %q", got, "BA")
	}
}

func TestSpeak_CacheHitSkipsSynthesis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, err := speechcache.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if err := cache.Store(ctx, "HELLO", testClip); err != nil {
		t.Fatalf("Store: %v", err)
	}
	f := newFixture(t, func(_ *Config, d *Deps) { d.Cache = cache })

	f.s.outstanding.Add(1)
	f.s.speak(ctx, speechRequest{job: jobFor("HELLO")})

	if n := len(f.tts.Calls()); n != 0 {
		t.Errorf("synthesize calls = %d, want 0", n)
	}
	item, ok := f.s.playback.TryPop()
	if !ok {
		t.Fatal("no playback item queued")
	}
	if !bytes.Equal(item.clip.PCM, testClip.PCM) {
		t.Errorf("played clip PCM = %v, want %v", item.clip.PCM, testClip.PCM)
	}
	if f.s.State().NetworkConnected() {
		t.Error("cache hit marked the network connected")
	}
}

func TestSpeak_MissSynthesizesAndStores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, err := speechcache.OpenBadger("", speechcache.InMemory())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	f := newFixture(t, func(_ *Config, d *Deps) { d.Cache = cache })

	f.s.outstanding.Add(1)
	f.s.speak(ctx, speechRequest{job: jobFor("HELLO")})

	if n := len(f.tts.Calls()); n != 1 {
		t.Fatalf("synthesize calls = %d, want 1", n)
	}
	if _, err := cache.Lookup(ctx, "HELLO"); err != nil {
		t.Errorf("clip not cached: %v", err)
	}
	if f.s.playback.Len() != 1 {
		t.Errorf("playback queue = %d, want 1", f.s.playback.Len())
	}
}

func TestSpeak_Failure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tts  *ttsmock.Provider
	}{
		{"provider error", &ttsmock.Provider{SynthesizeErr: errors.New("connection refused")}},
		{"empty clip", &ttsmock.Provider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(_ *Config, d *Deps) { d.Speech = tt.tts })
			f.s.state.networkConnected.Store(true)
			f.s.outstanding.Add(1)

			f.s.speak(context.Background(), speechRequest{job: jobFor("HELLO")})

			st := f.s.State()
			if st.SpeechBusy() || st.NetworkConnected() {
				t.Errorf("busy = %v, network = %v; want both false", st.SpeechBusy(), st.NetworkConnected())
			}
			if f.s.playback.Len() != 0 {
				t.Error("failed job reached playback")
			}
			if f.s.InFlight() {
				t.Error("InFlight = true after a failed job")
			}
			if text, _ := st.LastPlayed(); text != "HELLO" {
				t.Errorf("LastPlayed text = %q, want HELLO", text)
			}
		})
	}
}

func TestPlay_ConvertsToOutputFormat(t *testing.T) {
	t.Parallel()
	out := audio.Format{SampleRate: 16000, Channels: 2}
	f := newFixture(t, func(c *Config, _ *Deps) { c.Output = out })

	f.s.outstanding.Add(1)
	f.s.play(context.Background(), playbackItem{job: jobFor("HI"), clip: testClip})

	calls := f.player.PlayCalls()
	if len(calls) != 1 {
		t.Fatalf("play calls = %d, want 1", len(calls))
	}
	if calls[0].Clip.Format != out {
		t.Errorf("played format = %v, want %v", calls[0].Clip.Format, out)
	}
	if f.s.outstanding.Load() != 0 {
		t.Errorf("outstanding = %d, want 0", f.s.outstanding.Load())
	}
}

func TestSample_StateWindowAndDataLog(t *testing.T) {
	t.Parallel()
	var csv bytes.Buffer
	dl := datalog.New(&csv, nil)
	dl.SetPerson("p1")
	dl.SetLabel("A")
	if err := dl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fingers := &sensormock.Fingers{ReadyValue: true, Flex: [5]float64{0.1, 0.2, 0.3, 0.4, 0.5}}
	f := newFixture(t, func(_ *Config, d *Deps) {
		d.Fingers = fingers
		d.DataLog = dl
	})

	for i := range 25 {
		f.s.sample(context.Background(), uint64(i))
	}

	st := f.s.State()
	if !st.FingersAvailable() || st.IMUAvailable() {
		t.Errorf("fingers = %v, imu = %v; want true, false", st.FingersAvailable(), st.IMUAvailable())
	}
	w, ok := f.s.windows.Take()
	if !ok || len(w) != 25 {
		t.Fatalf("window = %d samples (ok=%v), want 25", len(w), ok)
	}
	if f.s.samples.Len() != 20 || f.s.samples.Dropped() != 5 {
		t.Errorf("sample ring len = %d, dropped = %d; want 20, 5", f.s.samples.Len(), f.s.samples.Dropped())
	}
	if dl.Rows() != 0 || f.s.logged.Len() != 25 {
		t.Errorf("rows = %d, queued = %d; want rows written only by the data log task", dl.Rows(), f.s.logged.Len())
	}
	f.s.flushDataLog()
	if dl.Rows() != 25 {
		t.Errorf("data log rows = %d, want 25", dl.Rows())
	}
	if !strings.HasPrefix(csv.String(), "person_id,label,timestamp") {
		t.Errorf("csv does not start with header: %q", csv.String()[:min(40, csv.Len())])
	}
	vals, ok := f.s.NormalizedFingers()
	if !ok || vals != fingers.Flex {
		t.Errorf("NormalizedFingers = %v, %v", vals, ok)
	}
}

// gatedWriter blocks every Write until release is closed.
type gatedWriter struct {
	release chan struct{}

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func TestSample_StalledDataLogDoesNotBlock(t *testing.T) {
	t.Parallel()
	w := &gatedWriter{release: make(chan struct{})}
	dl := datalog.New(w, nil)
	dl.SetPerson("p1")
	dl.SetLabel("A")
	if err := dl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f := newFixture(t, func(c *Config, d *Deps) {
		c.Queues.DataLog = 4
		d.Fingers = &sensormock.Fingers{ReadyValue: true}
		d.DataLog = dl
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writer := make(chan error, 1)
	go func() { writer <- f.s.runDataLog(ctx) }()

	sampled := make(chan struct{})
	go func() {
		for i := range 10 {
			f.s.sample(ctx, uint64(i))
		}
		close(sampled)
	}()
	select {
	case <-sampled:
	case <-time.After(2 * time.Second):
		close(w.release)
		t.Fatal("sample blocked on a stalled data log writer")
	}
	if f.s.logged.Dropped() == 0 {
		t.Error("no samples dropped while the writer was stalled")
	}

	close(w.release)
	cancel()
	select {
	case err := <-writer:
		if err != nil {
			t.Errorf("runDataLog: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("data log task did not stop")
	}
	if got := dl.Rows() + f.s.logged.Dropped(); got != 10 {
		t.Errorf("rows + dropped = %d, want 10", got)
	}
}

func TestSample_ProfilesDriverUpdates(t *testing.T) {
	t.Parallel()
	prof := profiler.New(100)
	prof.Enable()
	f := newFixture(t, func(_ *Config, d *Deps) {
		d.Fingers = &sensormock.Fingers{ReadyValue: true}
		d.IMU = &sensormock.IMU{ReadyValue: true}
		d.Profiler = prof
	})

	f.s.sample(context.Background(), 0)

	for _, m := range []profiler.Marker{profiler.SensorRead, profiler.FingerUpdate, profiler.IMUUpdate} {
		if got := prof.Stats(m).Count; got != 1 {
			t.Errorf("%s count = %d, want 1", m, got)
		}
	}
}

func TestPipeline_RestingHandCommitsNothing(t *testing.T) {
	t.Parallel()
	now := epoch
	f := newFixture(t, func(_ *Config, d *Deps) {
		d.Fingers = &sensormock.Fingers{ReadyValue: true, Flex: [5]float64{0.5, 0.5, 0.5, 0.5, 0.5}}
		d.IMU = &sensormock.IMU{ReadyValue: true}
		d.Now = func() time.Time { return now }
	})
	f.cls.Default = classifier.Result{Symbol: classifier.Neutral, Confidence: 0.97, ClassIndex: classifier.NoClass}
	ctx := context.Background()

	for i := range 60 {
		f.s.sample(ctx, uint64(i))
		if w, ok := f.s.windows.Take(); ok {
			f.s.classify(ctx, w)
		}
		for {
			r, ok := f.s.decisions.TryPop()
			if !ok {
				break
			}
			f.s.observeDecision(r)
		}
		now = now.Add(tick)
	}

	if got := f.cls.Calls(); got != 36 {
		t.Errorf("classifier calls = %d, want 36", got)
	}
	if got := f.s.dispatcher.Text(); got != "" {
		t.Errorf("pending text = %q, want empty", got)
	}
	if got := f.s.debouncer.Phase(); got != debounce.PhaseNeutral {
		t.Errorf("phase = %v, want %v", got, debounce.PhaseNeutral)
	}
}

func TestReconfigure_AppliedByLogic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	cfg := DefaultConfig()
	cfg.SpeechEnabled = false
	cfg.Motion = motion.Config{Threshold: 1, Buffer: 5, Quorum: 3, Cooldown: time.Second}
	cfg.Debounce.Hold = 50 * time.Millisecond
	f.s.Reconfigure(cfg)

	got, ok := f.s.reconfig.Take()
	if !ok {
		t.Fatal("reconfiguration not queued")
	}
	f.s.apply(got)

	if f.s.SpeechEnabled() {
		t.Error("speech still enabled")
	}
	if f.s.trigger.Config() != cfg.Motion {
		t.Errorf("motion config = %+v, want %+v", f.s.trigger.Config(), cfg.Motion)
	}
	if f.s.debouncer.Config().Hold != 50*time.Millisecond {
		t.Errorf("hold = %v, want 50ms", f.s.debouncer.Config().Hold)
	}
}

func TestReconfigure_KeepsConsoleSpeechToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.s.SetSpeechEnabled(false)

	cfg := DefaultConfig()
	cfg.Debounce.Hold = 250 * time.Millisecond
	f.s.apply(cfg)
	if f.s.SpeechEnabled() {
		t.Fatal("unrelated reload re-enabled speech")
	}
	if f.s.debouncer.Config().Hold != 250*time.Millisecond {
		t.Errorf("hold = %v, want 250ms", f.s.debouncer.Config().Hold)
	}

	// Changing the configured value still takes effect.
	cfg.SpeechEnabled = false
	f.s.apply(cfg)
	cfg.SpeechEnabled = true
	f.s.apply(cfg)
	if !f.s.SpeechEnabled() {
		t.Error("speech.enabled change from false to true was not applied")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	f := newFixture(t, func(c *Config, d *Deps) {
		c.Period = 2 * time.Millisecond
		c.LogicPoll = time.Millisecond
		c.Debounce.Hold = 20 * time.Millisecond
		c.Debounce.LetterCooldown = 20 * time.Millisecond
		c.Motion.Cooldown = 30 * time.Millisecond
		d.Fingers = &sensormock.Fingers{ReadyValue: true}
		d.IMU = &sensormock.IMU{ReadyValue: true, GyroValue: sensor.Vec3{10, 0, 0}}
	})
	f.cls.Default = classifier.Result{Symbol: 'A', Confidence: 0.95, ClassIndex: 0}
	f.player.Started = started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was played")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	calls := f.tts.Calls()
	if len(calls) == 0 || calls[0].Text != "A" {
		t.Errorf("synthesize calls = %+v, want first text A", calls)
	}
	if f.cls.Calls() == 0 {
		t.Error("classifier never called")
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !f.s.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := f.s.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run = %v, want ErrRunning", err)
	}
	cancel()
	<-done
}
