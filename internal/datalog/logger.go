// Package datalog writes labelled sensor samples as CSV for building gesture
// training sets.
//
// The logger identity (person, label, enabled) is guarded by one mutex so the
// sampling task always observes a consistent triple: whenever logging is
// enabled both person and label are set.
package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// Header is the CSV column layout.
var Header = []string{
	"person_id", "label", "timestamp",
	"flex1", "flex2", "flex3", "flex4", "flex5",
	"ax_norm", "ay_norm", "az_norm", "gx_norm", "gy_norm", "gz_norm",
}

// Start preconditions.
var (
	ErrNotCalibrated = errors.New("datalog: finger sensors are not calibrated")
	ErrNoPerson      = errors.New("datalog: person ID is not set")
	ErrNoLabel       = errors.New("datalog: label is not set")
)

// Identity is a consistent snapshot of the logger configuration.
type Identity struct {
	Person  string
	Label   string
	Enabled bool
}

// Logger gates and formats CSV rows.
type Logger struct {
	calibrated func() bool

	mu         sync.Mutex
	person     string
	label      string
	enabled    bool
	headerDone bool

	// wmu serialises writes so the identity lock is never held across I/O.
	wmu    sync.Mutex
	csv    *csv.Writer
	closer io.Closer
	rows   uint64
}

// New returns a logger writing to w. calibrated reports whether the finger
// sensors are calibrated; a nil func is treated as always calibrated.
func New(w io.Writer, calibrated func() bool) *Logger {
	if calibrated == nil {
		calibrated = func() bool { return true }
	}
	l := &Logger{calibrated: calibrated, csv: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// Open appends to the CSV file at path, creating it if needed.
func Open(path string, calibrated func() bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	return New(f, calibrated), nil
}

// SetPerson stores the person ID.
func (l *Logger) SetPerson(id string) {
	l.mu.Lock()
	l.person = id
	if id == "" {
		l.enabled = false
	}
	l.mu.Unlock()
}

// SetLabel stores the label and re-arms the header. Logging becomes enabled
// exactly when the sensors are calibrated and a person is set; the returned
// value reports that outcome.
func (l *Logger) SetLabel(label string) bool {
	calibrated := l.calibrated()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.label = label
	l.headerDone = false
	l.enabled = calibrated && l.person != "" && label != ""
	return l.enabled
}

// Start enables logging for the current person and label.
func (l *Logger) Start() error {
	if !l.calibrated() {
		return ErrNotCalibrated
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.person == "":
		return ErrNoPerson
	case l.label == "":
		return ErrNoLabel
	}
	l.enabled = true
	l.headerDone = false
	return nil
}

// Stop disables logging. The identity is kept.
func (l *Logger) Stop() {
	l.mu.Lock()
	l.enabled = false
	l.mu.Unlock()
}

// Identity returns the current configuration.
func (l *Logger) Identity() Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Identity{Person: l.person, Label: l.label, Enabled: l.enabled}
}

// Active reports whether Record currently writes rows.
func (l *Logger) Active() bool {
	return l.Identity().Enabled
}

// Rows returns the number of rows written.
func (l *Logger) Rows() uint64 {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.rows
}

// Record writes s when logging is enabled. The header precedes the first row
// after each label change or start.
func (l *Logger) Record(s sensor.Sample) error {
	l.mu.Lock()
	active := l.enabled && l.person != "" && l.label != ""
	person, label := l.person, l.label
	needHeader := active && !l.headerDone
	if needHeader {
		l.headerDone = true
	}
	l.mu.Unlock()

	if !active {
		return nil
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if needHeader {
		if err := l.csv.Write(Header); err != nil {
			return fmt.Errorf("datalog: write header: %w", err)
		}
	}
	if err := l.csv.Write(row(person, label, s)); err != nil {
		return fmt.Errorf("datalog: write row: %w", err)
	}
	l.csv.Flush()
	if err := l.csv.Error(); err != nil {
		return fmt.Errorf("datalog: flush: %w", err)
	}
	l.rows++
	return nil
}

func row(person, label string, s sensor.Sample) []string {
	out := make([]string, 0, len(Header))
	out = append(out, person, label, strconv.FormatInt(s.Timestamp.UnixMilli(), 10))
	for _, v := range s.Flex {
		out = append(out, f4(v))
	}
	for _, v := range s.AccelNorm {
		out = append(out, f4(v))
	}
	for _, v := range s.GyroNorm {
		out = append(out, f4(v))
	}
	return out
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// Close flushes and closes the underlying writer when it is closable.
func (l *Logger) Close() error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.csv.Flush()
	err := l.csv.Error()
	if l.closer != nil {
		err = errors.Join(err, l.closer.Close())
	}
	return err
}
