// Package health provides the HTTP liveness and readiness endpoints.
//
//   - /healthz is the liveness probe and always returns 200 OK.
//   - /readyz returns 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail"),
// a "checks" map with the result of each checker and an "info" map of
// non-gating status values such as network connectivity.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

var (
	// ErrClassifierNotReady is reported while the gesture model is not loaded.
	ErrClassifierNotReady = errors.New("classifier not ready")
	// ErrNoSensors is reported while neither sensor subsystem delivers data.
	ErrNoSensors = errors.New("no sensor subsystem available")
)

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name is the key in the JSON response (e.g. "classifier").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Info is a named status value reported by /readyz without affecting the
// result.
type Info struct {
	Name  string
	Value func() string
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker and info lists are fixed once serving starts.
type Handler struct {
	checkers []Checker
	info     []Info
}

// New creates a [Handler] that evaluates the given checkers sequentially on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// WithInfo adds non-gating status values and returns h.
func (h *Handler) WithInfo(info ...Info) *Handler {
	h.info = append(h.info, info...)
	return h
}

// ClassifierReady fails while ready reports false.
func ClassifierReady(ready func() bool) Checker {
	return Checker{Name: "classifier", Check: func(context.Context) error {
		if !ready() {
			return ErrClassifierNotReady
		}
		return nil
	}}
}

// SensorsAvailable fails while neither the finger nor the IMU subsystem
// delivers data.
func SensorsAvailable(fingers, imu func() bool) Checker {
	return Checker{Name: "sensors", Check: func(context.Context) error {
		if !fingers() && !imu() {
			return ErrNoSensors
		}
		return nil
	}}
}

// Flag reports a boolean as "yes" or "no".
func Flag(name string, fn func() bool) Info {
	return Info{Name: name, Value: func() string {
		if fn() {
			return "yes"
		}
		return "no"
	}}
}

// Healthz always returns 200 OK. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes. Each
// checker runs with a [checkTimeout] deadline derived from the request.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	if len(h.info) > 0 {
		res.Info = make(map[string]string, len(h.info))
		for _, i := range h.info {
			res.Info[i.Name] = i.Value()
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
