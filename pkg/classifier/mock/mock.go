// Package mock provides a test double for the classifier.Classifier interface.
//
// Results are served from a queue; when the queue is empty the Default result
// is returned. Every call to Classify is recorded with a copy of its window.
//
// Example:
//
//	c := &mock.Classifier{
//	    ReadyValue: true,
//	    Default:    classifier.Result{Symbol: 'A', Confidence: 0.95},
//	    LabelList:  []string{"A"},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/sensor"
)

// ClassifyCall records a single invocation of Classify.
type ClassifyCall struct {
	// Window is a copy of the window passed to Classify.
	Window sensor.Window
}

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// ReadyValue is returned by Ready. Initialize sets it to InitializeResult.
	ReadyValue bool

	// InitializeResult is the readiness Initialize reports and applies.
	InitializeResult bool

	// Queue holds results returned by successive Classify calls.
	Queue []classifier.Result

	// Default is returned when Queue is empty.
	Default classifier.Result

	// LabelList backs Labels and LabelForIndex.
	LabelList []string

	// ClassifyCalls records every call to Classify.
	ClassifyCalls []ClassifyCall

	// InitializeCalls counts calls to Initialize.
	InitializeCalls int
}

// Initialize records the call and applies InitializeResult.
func (c *Classifier) Initialize(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InitializeCalls++
	if c.ReadyValue {
		return true
	}
	c.ReadyValue = c.InitializeResult
	return c.ReadyValue
}

// Ready returns ReadyValue.
func (c *Classifier) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ReadyValue
}

// Classify records the call and returns the next queued result. A result
// without a timestamp is stamped with time.Now. When not ready it returns the
// neutral result.
func (c *Classifier) Classify(_ context.Context, w sensor.Window) classifier.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = append(c.ClassifyCalls, ClassifyCall{Window: w.Clone()})
	if !c.ReadyValue {
		return classifier.NeutralResult(time.Now())
	}
	r := c.Default
	if len(c.Queue) > 0 {
		r = c.Queue[0]
		c.Queue = c.Queue[1:]
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return r
}

// LabelForIndex returns LabelList[i] or "".
func (c *Classifier) LabelForIndex(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.LabelList) {
		return ""
	}
	return c.LabelList[i]
}

// Labels returns a copy of LabelList.
func (c *Classifier) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.LabelList))
	copy(out, c.LabelList)
	return out
}

// Calls returns the number of Classify invocations. Thread-safe.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ClassifyCalls)
}

// Reset clears recorded calls.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = nil
	c.InitializeCalls = 0
}

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)
