// Package replay drives the pipeline from a CSV capture written by the data
// logger. Each row becomes one frame; the recording loops when exhausted.
//
// Logged IMU columns are already z-scored, so the IMU driver maps them back
// into raw space with the same [sensor.AxisNorm] the acquirer re-applies.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// Header is the column layout produced by the data logger.
var Header = []string{
	"person_id", "label", "timestamp",
	"flex1", "flex2", "flex3", "flex4", "flex5",
	"ax_norm", "ay_norm", "az_norm", "gx_norm", "gy_norm", "gz_norm",
}

// Row is one parsed capture frame.
type Row struct {
	Person    string
	Label     string
	Timestamp int64
	Flex      [sensor.NumFingers]float64
	AccelNorm sensor.Vec3
	GyroNorm  sensor.Vec3
}

// Recording is an in-memory capture shared by the replay drivers.
type Recording struct {
	Rows []Row
}

// Open reads a capture from path.
func Open(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %q: %w", path, err)
	}
	defer f.Close()
	rec, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("replay: parse %q: %w", path, err)
	}
	return rec, nil
}

// Parse decodes a capture. Repeated header lines (one per logging session)
// are skipped.
func Parse(r io.Reader) (*Recording, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.TrimLeadingSpace = true

	rec := &Recording{}
	for line := 1; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if fields[0] == Header[0] {
			continue
		}
		row, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.Rows = append(rec.Rows, row)
	}
	if len(rec.Rows) == 0 {
		return nil, errors.New("capture contains no samples")
	}
	return rec, nil
}

func parseRow(fields []string) (Row, error) {
	row := Row{Person: fields[0], Label: fields[1]}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("timestamp: %w", err)
	}
	row.Timestamp = ts

	vals := make([]float64, 11)
	for i := range vals {
		v, err := strconv.ParseFloat(fields[3+i], 64)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", Header[3+i], err)
		}
		vals[i] = v
	}
	copy(row.Flex[:], vals[:5])
	copy(row.AccelNorm[:], vals[5:8])
	copy(row.GyroNorm[:], vals[8:11])
	return row, nil
}

type cursor struct {
	mu  sync.Mutex
	pos int
	cur Row
}

func (c *cursor) advance(rec *Recording) Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = rec.Rows[c.pos%len(rec.Rows)]
	c.pos++
	return c.cur
}

func (c *cursor) current() Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Fingers replays the flex columns of a recording.
type Fingers struct {
	rec *Recording
	c   cursor
}

var _ sensor.Fingers = (*Fingers)(nil)

// NewFingers returns a finger driver over rec.
func NewFingers(rec *Recording) *Fingers {
	return &Fingers{rec: rec}
}

// Update advances to the next frame.
func (f *Fingers) Update(_ context.Context) error {
	f.c.advance(f.rec)
	return nil
}

// Values returns the flex columns of the current frame.
func (f *Fingers) Values() [sensor.NumFingers]float64 { return f.c.current().Flex }

// Ready always reports true; logged data was captured after calibration.
func (f *Fingers) Ready() bool { return true }

// Calibrate is a no-op.
func (f *Fingers) Calibrate(_ context.Context) error { return nil }

// Calibration reports an identity [0,1] calibration.
func (f *Fingers) Calibration() sensor.FingerCalibration {
	var c sensor.FingerCalibration
	for i := range sensor.NumFingers {
		c.Observe(i, 0)
		c.Observe(i, 1)
	}
	return c
}

// IMU replays the inertial columns of a recording.
type IMU struct {
	rec  *Recording
	norm sensor.AxisNorm
	c    cursor
}

var _ sensor.IMU = (*IMU)(nil)

// NewIMU returns an IMU driver over rec. norm must match the calibration the
// capture was logged with.
func NewIMU(rec *Recording, norm sensor.AxisNorm) *IMU {
	return &IMU{rec: rec, norm: norm}
}

// Update advances to the next frame.
func (m *IMU) Update(_ context.Context) error {
	m.c.advance(m.rec)
	return nil
}

// Accel returns the current frame's acceleration in raw space.
func (m *IMU) Accel() sensor.Vec3 {
	r := m.c.current()
	return sensor.Vec3{
		m.norm.AX.Invert(r.AccelNorm[0]),
		m.norm.AY.Invert(r.AccelNorm[1]),
		m.norm.AZ.Invert(r.AccelNorm[2]),
	}
}

// Gyro returns the current frame's angular rate in raw space.
func (m *IMU) Gyro() sensor.Vec3 {
	r := m.c.current()
	return sensor.Vec3{
		m.norm.GX.Invert(r.GyroNorm[0]),
		m.norm.GY.Invert(r.GyroNorm[1]),
		m.norm.GZ.Invert(r.GyroNorm[2]),
	}
}

// Ready always reports true.
func (m *IMU) Ready() bool { return true }

// Calibrate is a no-op.
func (m *IMU) Calibrate(_ context.Context) error { return nil }
