// Package health implements liveness and readiness probes for long-running
// services. Registered checks run periodically in the background; probe
// endpoints report the cached results so that probe requests stay cheap even
// when a check is slow or hung.
//
// Checks carry failure and success thresholds to dampen flapping: a check
// turns unhealthy only after failing the configured number of consecutive
// times, and recovers only after the same treatment of successes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Kind distinguishes liveness checks from readiness checks.
type Kind int

const (
	// Liveness checks detect a wedged process: goroutine leaks, GC stalls.
	Liveness Kind = iota
	// Readiness checks detect missing dependencies: database, downstream APIs.
	Readiness
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Options tunes a single registered check. Zero values fall back to a
// 5 second timeout, failure threshold 3 and success threshold 1.
type Options struct {
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 1
	}
	return o
}

// check couples a CheckFunc with its threshold state.
//
// The streak counters are touched only by the scheduler goroutine. healthy
// and lastErr are additionally read by probe handlers, so they are atomic.
type check struct {
	name string
	kind Kind
	opts Options
	fn   CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	failStreak int
	okStreak   int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	if err != nil {
		c.okStreak = 0
		c.failStreak++
		if c.failStreak >= c.opts.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}

	c.failStreak = 0
	c.okStreak++
	if c.okStreak >= c.opts.SuccessThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// Health runs registered checks and serves probe endpoints.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]*check
	cancel context.CancelFunc
}

// New returns a Health with no checks registered. The service starts not
// ready; call SetReady(true) once initialization finishes.
func New() *Health {
	return &Health{checks: make(map[string]*check)}
}

// Register adds a named check. Registering the same name twice replaces the
// earlier check. Checks registered after Start are picked up on the next tick.
func (h *Health) Register(name string, kind Kind, opts Options, fn CheckFunc) {
	c := &check{name: name, kind: kind, opts: opts.withDefaults(), fn: fn}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks[name] = c
	h.mu.Unlock()
}

// Start launches the background scheduler. All checks run once immediately
// and then every interval, sequentially from a single goroutine.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.runAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.runAll(ctx)
			}
		}
	}()
}

// Stop cancels the scheduler. Safe to call multiple times.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. It is set to true after startup
// and back to false during graceful shutdown to drain traffic.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness check
// is currently passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(Readiness) {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) runAll(ctx context.Context) {
	h.mu.RLock()
	checks := make([]*check, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mu.RUnlock()

	for _, c := range checks {
		if ctx.Err() != nil {
			return
		}
		c.run(ctx)
	}
}

func (h *Health) snapshot(kind Kind) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*check, 0, len(h.checks))
	for _, c := range h.checks {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe. 200 when all liveness checks pass,
// 503 with per-check messages otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.writeProbe(w, h.failures(Liveness))
}

// ReadyEndpoint serves the readiness probe. 200 only when the manual gate
// is open and all readiness checks pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		if failures == nil {
			failures = make(map[string]string)
		}
		failures["_gate"] = "service is not ready"
	}
	h.writeProbe(w, failures)
}

func (h *Health) failures(kind Kind) map[string]string {
	var failures map[string]string
	for _, c := range h.snapshot(kind) {
		if msg, bad := c.failure(); bad {
			if failures == nil {
				failures = make(map[string]string)
			}
			failures[c.name] = msg
		}
	}
	return failures
}

func (h *Health) writeProbe(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := probeResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = probeResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
