// Package console implements the single-key command surface used to operate
// the glove from a terminal: debug toggles, calibration, data-logger identity,
// profiling and speech control.
//
// Input is read on a separate goroutine and buffered; commands only execute
// when the owner calls [Console.Service], so every state change happens on
// the caller's goroutine.
package console

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/signglove/internal/datalog"
	"github.com/MrWong99/signglove/internal/profiler"
	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/sensor"
)

// Debug is a set of per-subsystem diagnostic flags.
type Debug uint32

const (
	DebugIMU Debug = 1 << iota
	DebugFingers
	DebugNetwork
	DebugShake
	DebugInference

	DebugAll = DebugIMU | DebugFingers | DebugNetwork | DebugShake | DebugInference
)

// loggingMuted is cleared whenever CSV logging starts so rows are not
// interleaved with diagnostics.
const loggingMuted = DebugIMU | DebugFingers | DebugNetwork | DebugShake

// Status is the subsystem summary printed by the status command.
type Status struct {
	IMUReady         bool
	FingersReady     bool
	NetworkConnected bool
	SpeechEnabled    bool
	ClassifierReady  bool
	Playing          bool
	PendingText      string
}

// Controller is the pipeline surface the console operates on.
type Controller interface {
	Debug() Debug
	SetDebug(Debug)
	SetSpeechEnabled(bool)
	Status() Status
	// InitClassifier loads the model and reports readiness before and after.
	InitClassifier(ctx context.Context) (wasReady, ready bool)
	Labels() []string
	ClearSpeechCache(ctx context.Context) (int, error)
	CalibrateFingers(ctx context.Context) error
	CalibrateIMU(ctx context.Context) error
	// FingerCalibration returns the calibration, or false without a driver.
	FingerCalibration() (sensor.FingerCalibration, bool)
	// NormalizedFingers returns the latest readings, or false without a driver.
	NormalizedFingers() ([sensor.NumFingers]float64, bool)
}

type inputMode int

const (
	modeCommand inputMode = iota
	modePerson
	modeLabel
)

const maxLine = 32

// Console parses and executes commands.
type Console struct {
	ctl       Controller
	log       *datalog.Logger
	prof      *profiler.Profiler
	exportDir string
	out       io.Writer
	upper     cases.Caser

	in       chan rune
	mode     inputMode
	line     []rune
	commands atomic.Uint64
}

// Option configures a [Console].
type Option func(*Console)

// WithDataLogger attaches the CSV logger driven by p, l, g and t.
func WithDataLogger(l *datalog.Logger) Option {
	return func(c *Console) { c.log = l }
}

// WithProfiler attaches the profiler driven by o, O and j. VCD files are
// written to dir.
func WithProfiler(p *profiler.Profiler, dir string) Option {
	return func(c *Console) {
		c.prof = p
		c.exportDir = dir
	}
}

// New returns a console writing its responses to out.
func New(ctl Controller, out io.Writer, opts ...Option) *Console {
	c := &Console{
		ctl:   ctl,
		out:   out,
		upper: cases.Upper(language.Und),
		in:    make(chan rune, 256),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ReadFrom reads runes from r until EOF or ctx is done and queues them for
// [Console.Service]. Runes arriving while the queue is full are dropped.
func (c *Console) ReadFrom(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		ch, _, err := br.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("console: read: %w", err)
		}
		select {
		case c.in <- ch:
		case <-ctx.Done():
			return ctx.Err()
		default:
			slog.Debug("console: input dropped", "rune", ch)
		}
	}
}

// Feed queues s as if it had been typed. Intended for tests and scripted
// sessions.
func (c *Console) Feed(s string) {
	for _, r := range s {
		select {
		case c.in <- r:
		default:
		}
	}
}

// Commands returns the number of commands executed.
func (c *Console) Commands() uint64 { return c.commands.Load() }

// Service executes all queued input without blocking.
func (c *Console) Service(ctx context.Context) {
	for {
		select {
		case r := <-c.in:
			c.handle(ctx, r)
		default:
			return
		}
	}
}

func (c *Console) handle(ctx context.Context, r rune) {
	if r == '\r' || r == '\n' {
		if c.mode != modeCommand {
			c.finishLine()
		}
		return
	}
	if c.mode != modeCommand {
		if len(c.line) < maxLine {
			c.line = append(c.line, r)
		}
		return
	}
	c.commands.Add(1)
	c.command(ctx, r)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) command(ctx context.Context, r rune) {
	// 'o' and 'O' are distinct commands; every other key is case-insensitive.
	key := r
	if r != 'O' {
		key = toLower(r)
	}
	switch key {
	case 'i':
		c.toggle("IMU debug", DebugIMU)
	case 'f':
		c.toggle("Finger debug", DebugFingers)
	case 'w':
		c.toggle("Network debug", DebugNetwork)
	case 's':
		c.toggle("Shake debug", DebugShake)
	case 'm':
		c.toggle("Inference debug", DebugInference)
	case 'x':
		on := !c.ctl.Status().SpeechEnabled
		c.ctl.SetSpeechEnabled(on)
		c.printf("[CMD] Speech %s\n", onOff(on, "ENABLED", "DISABLED"))
	case 'e':
		switch was, ok := c.ctl.InitClassifier(ctx); {
		case was:
			c.printf("[CMD] Classifier already initialized.\n")
		case ok:
			c.printf("[CMD] Classifier initialized.\n")
		default:
			c.printf("[CMD] Failed to initialize classifier.\n")
		}
	case 'a':
		c.printStatus()
	case 'c':
		c.printCalibration()
	case 'd':
		n, err := c.ctl.ClearSpeechCache(ctx)
		if err != nil {
			c.printf("[CMD] Clearing speech cache failed: %v\n", err)
			return
		}
		c.printf("[CMD] Removed %d cached phrases.\n", n)
	case 'r':
		if err := c.ctl.CalibrateFingers(ctx); err != nil {
			c.printf("[CMD] Finger calibration failed: %v\n", err)
			return
		}
		c.printf("[CMD] Finger calibration complete.\n")
	case 'u':
		if err := c.ctl.CalibrateIMU(ctx); err != nil {
			c.printf("[CMD] IMU calibration failed: %v\n", err)
			return
		}
		c.printf("[CMD] IMU calibration complete.\n")
	case 'n':
		c.printNormalized()
	case 'p':
		c.startLine(modePerson, "Enter person ID (e.g. P1, P2) and press ENTER:")
	case 'l':
		c.startLine(modeLabel, "Enter label (A-Z, NEUTRAL, SPACE, etc) and press ENTER:")
	case 'g':
		c.startLogging()
	case 't':
		if c.log != nil {
			c.log.Stop()
		}
		c.printf("[DATA] Logging stopped.\n")
	case 'q':
		c.ctl.SetDebug(0)
		c.printf("[CMD] Quiet mode enabled.\n")
	case 'v':
		c.ctl.SetDebug(DebugAll)
		c.printf("[CMD] Verbose mode enabled.\n")
	case 'o':
		if c.prof == nil {
			c.printf("[CMD] Profiler not available.\n")
			return
		}
		c.prof.Reset()
		c.prof.Enable()
		c.printf("[PROFILER] Reset and enabled.\n")
	case 'O':
		if c.prof == nil {
			c.printf("[CMD] Profiler not available.\n")
			return
		}
		c.prof.Disable()
		c.printStats()
	case 'j':
		c.exportVCD()
	case 'h', '?':
		c.printf("%s", help)
	default:
		c.printf("[CMD] Unknown command '%c' - press 'h' for help.\n", r)
	}
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func onOff(b bool, on, off string) string {
	if b {
		return on
	}
	return off
}

func (c *Console) toggle(name string, flag Debug) {
	d := c.ctl.Debug() ^ flag
	c.ctl.SetDebug(d)
	c.printf("[CMD] %s: %s\n", name, onOff(d&flag != 0, "ON", "OFF"))
}

func (c *Console) startLine(mode inputMode, prompt string) {
	c.mode = mode
	c.line = c.line[:0]
	c.printf("\n[DATA] %s\n", prompt)
}

func (c *Console) finishLine() {
	mode := c.mode
	text := strings.TrimSpace(string(c.line))
	c.mode = modeCommand
	c.line = c.line[:0]

	if text == "" {
		c.printf("[DATA] Input cancelled.\n")
		return
	}
	text = c.upper.String(text)
	if c.log == nil {
		c.printf("[DATA] Data logger not available.\n")
		return
	}
	switch mode {
	case modePerson:
		c.log.SetPerson(text)
		c.printf("[DATA] Person ID set to %s\n", text)
	case modeLabel:
		c.setLabel(text)
	}
}

func (c *Console) setLabel(label string) {
	if hint := c.suggest(label); hint != "" {
		c.printf("[DATA] %s is not a model label; did you mean %s?\n", label, hint)
	}
	enabled := c.log.SetLabel(label)
	id := c.log.Identity()
	cal, _ := c.ctl.FingerCalibration()
	switch {
	case !cal.Complete():
		c.printf("[DATA] Label set, but sensors are not calibrated yet. Run 'r'.\n")
	case id.Person == "":
		c.printf("[DATA] Label stored. Set person ID before logging.\n")
	default:
		c.printf("[DATA] Label set to %s. Logging %s.\n", label, onOff(enabled, "ENABLED", "DISABLED"))
	}
	if enabled {
		c.mute()
	}
}

// suggest returns the closest classifier label when label is not one of
// them. Reserved labels and exact matches yield "".
func (c *Console) suggest(label string) string {
	if classifier.ReservedLabel(label) {
		return ""
	}
	var (
		best  string
		score float64
	)
	for _, l := range c.ctl.Labels() {
		if l == label {
			return ""
		}
		if s := matchr.JaroWinkler(label, l, false); s > score {
			best, score = l, s
		}
	}
	if score < 0.8 {
		return ""
	}
	return best
}

func (c *Console) startLogging() {
	if c.log == nil {
		c.printf("[DATA] Data logger not available.\n")
		return
	}
	if err := c.log.Start(); err != nil {
		c.printf("[DATA] Cannot start logging: %v\n", err)
		return
	}
	id := c.log.Identity()
	c.printf("[DATA] Logging enabled for %s label %s. Use 't' to stop.\n", id.Person, id.Label)
	c.mute()
}

func (c *Console) mute() {
	c.ctl.SetDebug(c.ctl.Debug() &^ loggingMuted)
	c.printf("[DATA] Debug output muted while logging for clean CSV.\n")
}

func (c *Console) printStatus() {
	st := c.ctl.Status()
	c.printf("\nSensor Status\n")
	c.printf("IMU: %s\n", onOff(st.IMUReady, "READY", "NOT AVAILABLE"))
	c.printf("Finger Sensors: %s\n", onOff(st.FingersReady, "READY", "NOT READY"))
	c.printf("Network: %s\n", onOff(st.NetworkConnected, "Connected", "Offline"))
	c.printf("Classifier: %s\n", onOff(st.ClassifierReady, "READY", "NOT READY"))
	c.printf("Speech: %s\n", onOff(st.SpeechEnabled, "ENABLED", "DISABLED"))
	c.printf("Pending text: %q\n", st.PendingText)
	if c.log != nil {
		id := c.log.Identity()
		c.printf("Logger Person ID: %s\n", cmp.Or(id.Person, "(not set)"))
		c.printf("Logger Label: %s\n", cmp.Or(id.Label, "(not set)"))
		c.printf("Logging: %s\n", onOff(id.Enabled, "ENABLED", "DISABLED"))
	}
	c.printf("\n")
}

func (c *Console) printCalibration() {
	cal, ok := c.ctl.FingerCalibration()
	if !ok {
		c.printf("[DATA] Finger sensors not available.\n")
		return
	}
	c.printf("\nFinger Calibration\n")
	for i := range sensor.NumFingers {
		if !cal.Calibrated[i] {
			c.printf("  finger %d: not calibrated\n", i+1)
			continue
		}
		c.printf("  finger %d: min=%.4f max=%.4f span=%.4f\n", i+1, cal.Min[i], cal.Max[i], cal.Max[i]-cal.Min[i])
	}
}

func (c *Console) printNormalized() {
	cal, ok := c.ctl.FingerCalibration()
	if !ok || !cal.Complete() {
		c.printf("[DATA] Sensors not calibrated. Run 'r' first.\n")
		return
	}
	vals, _ := c.ctl.NormalizedFingers()
	c.printf("[DATA] Normalized flex: %.3f %.3f %.3f %.3f %.3f\n", vals[0], vals[1], vals[2], vals[3], vals[4])
}

func (c *Console) printStats() {
	c.printf("\n[PROFILER] Statistics (%d events)\n", c.prof.Len())
	c.printf("%-20s | %5s | %9s | %9s | %9s | %9s\n", "Marker", "Count", "Min", "Avg", "Max", "Median")
	for _, s := range c.prof.AllStats() {
		c.printf("%s\n", s)
	}
	c.printf("\n")
}

func (c *Console) exportVCD() {
	if c.prof == nil {
		c.printf("[CMD] Profiler not available.\n")
		return
	}
	path, err := c.prof.ExportVCD(c.exportDir)
	if err != nil {
		c.printf("[CMD] Failed to export profiling data: %v\n", err)
		return
	}
	c.printf("[CMD] Profiling data exported to %s\n", path)
}

const help = `
Command Menu
i - Toggle IMU debug output
f - Toggle finger sensor debug output
w - Toggle network debug output
s - Toggle shake detection debug output
m - Toggle inference debug output
x - Toggle shake-triggered speech
e - Initialize classifier
a - Show sensor and logger status
u - Run IMU calibration routine
c - Show finger calibration info
r - Run finger calibration routine
n - Show normalized finger values
d - Clear speech cache
p - Set person ID (e.g. P1, P2)
l - Set label (A, B, NEUTRAL, SPACE, etc)
g - Start data logging
t - Stop data logging
o - Start performance profiling
O - Stop profiling and show statistics
j - Export profiling data to a VCD file
q - Quiet mode (disable all debug output)
v - Verbose mode (enable all debug output)
h/? - Show this help menu

`
