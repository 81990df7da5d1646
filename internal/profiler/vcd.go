package profiler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// wireID returns the single-character VCD identifier of m.
func wireID(m Marker) byte {
	if m < 26 {
		return 'a' + byte(m)
	}
	return 'A' + byte(m-26)
}

// WriteVCD writes the retained events as a value change dump with a 1us
// timescale. Times are relative to the oldest retained event. Only markers
// with at least one completed pair are declared.
func (p *Profiler) WriteVCD(w io.Writer, date time.Time) error {
	p.mu.Lock()
	events := p.snapshot()
	p.mu.Unlock()

	var used []Marker
	for m := range NumMarkers {
		if statsFor(events, m).Count > 0 {
			used = append(used, m)
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "$date\n  %s\n$end\n", date.Format(time.DateTime))
	fmt.Fprint(bw, "$version\n  signglove profiler\n$end\n")
	fmt.Fprint(bw, "$timescale 1us $end\n")
	fmt.Fprint(bw, "$scope module top $end\n")
	for _, m := range used {
		fmt.Fprintf(bw, "$var wire 1 %c %s $end\n", wireID(m), m)
	}
	fmt.Fprint(bw, "$upscope $end\n$enddefinitions $end\n")

	fmt.Fprint(bw, "$dumpvars\n")
	for _, m := range used {
		fmt.Fprintf(bw, "0%c\n", wireID(m))
	}
	fmt.Fprint(bw, "$end\n")

	if len(events) > 0 {
		base := events[0].at
		for _, e := range events {
			v := 0
			if e.start {
				v = 1
			}
			fmt.Fprintf(bw, "#%d\n%d%c\n", (e.at - base).Microseconds(), v, wireID(e.marker))
		}
	}
	return bw.Flush()
}

// ExportVCD writes a VCD file named profiling_<unix ms>.vcd into dir and
// returns its path.
func (p *Profiler) ExportVCD(dir string) (string, error) {
	now := p.now()
	path := filepath.Join(dir, fmt.Sprintf("profiling_%d.vcd", now.UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("profiler: export: %w", err)
	}
	if err := p.WriteVCD(f, now); err != nil {
		f.Close()
		return "", fmt.Errorf("profiler: export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("profiler: export: %w", err)
	}
	return path, nil
}
