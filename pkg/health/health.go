// Package health serves liveness and readiness probes.
//
// Checks run in the background. A check turns unhealthy after FailureThreshold
// consecutive failures and healthy again after one success, so a single slow
// ping does not flip the probe.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// FailureThreshold is the number of consecutive failures marking a check unhealthy.
const FailureThreshold = 3

// CheckFunc reports whether a component works.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	fails   int // owned by the goroutine running the check
}

func newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{name: name, timeout: timeout, fn: fn}
	c.healthy.Store(true)
	return c
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err == nil {
		c.fails = 0
		c.healthy.Store(true)
		return
	}
	c.fails++
	if c.fails >= FailureThreshold {
		c.healthy.Store(false)
	}
}

// failure returns the reason c is unhealthy, or "".
func (c *check) failure() string {
	if c.healthy.Load() {
		return ""
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health holds the liveness and readiness checks of a service. Checks are
// registered before Run.
type Health struct {
	interval  time.Duration
	ready     atomic.Bool
	liveness  []*check
	readiness []*check
}

// New creates a Health running its checks every interval. The service starts
// not ready.
func New(interval time.Duration) *Health {
	return &Health{interval: interval}
}

// AddLiveness registers a check deciding whether the process should be restarted.
func (h *Health) AddLiveness(name string, timeout time.Duration, fn CheckFunc) {
	h.liveness = append(h.liveness, newCheck(name, timeout, fn))
}

// AddReadiness registers a check deciding whether the service takes traffic.
func (h *Health) AddReadiness(name string, timeout time.Duration, fn CheckFunc) {
	h.readiness = append(h.readiness, newCheck(name, timeout, fn))
}

// SetReady marks the service (not) ready. It is set after start-up and
// cleared on shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.readiness {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

// Run executes every check until ctx is done.
func (h *Health) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range slices.Concat(h.liveness, h.readiness) {
		g.Go(func() error {
			t := time.NewTicker(h.interval)
			defer t.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		})
	}
	return g.Wait()
}

// LiveHandler serves /livez.
func (h *Health) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.liveness))
}

// ReadyHandler serves /readyz.
func (h *Health) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.readiness)
	if !h.ready.Load() {
		failed = append(failed, [2]string{"service", "not ready"})
	}
	writeStatus(w, failed)
}

// failures lists the unhealthy checks as (name, reason) pairs in
// registration order.
func failures(checks []*check) [][2]string {
	var out [][2]string
	for _, c := range checks {
		if reason := c.failure(); reason != "" {
			out = append(out, [2]string{c.name, reason})
		}
	}
	return out
}

// writeStatus renders {"status":"ok"} or
// {"status":"unhealthy","checks":{"name":"reason",...}} with 503.
func writeStatus(w http.ResponseWriter, failed [][2]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range failed {
			e.FieldStart(f[0])
			e.Str(f[1])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
