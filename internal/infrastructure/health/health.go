// Package health aggregates dependency checks for the worker's ops endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CheckFunc performs a single check and returns an error if it fails.
type CheckFunc func(ctx context.Context) error

// Pinger is anything with a context-aware Ping (pgx pool, Redis client).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// Status is the aggregated result served as JSON.
type Status struct {
	// Healthy is false when any critical check failed.
	Healthy bool `json:"healthy"`

	// Degraded lists optional checks that failed.
	Degraded []string `json:"degraded,omitempty"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registered struct {
	fn       CheckFunc
	critical bool
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// Checker runs registered checks concurrently, each under its own timeout.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]registered
	started time.Time
	version string
	timeout time.Duration
	now     func() time.Time
}

// NewChecker creates an empty checker.
func NewChecker(version string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{
		checks:  make(map[string]registered),
		started: time.Now(),
		version: version,
		timeout: timeout,
		now:     time.Now,
	}
}

// AddCheck registers a check whose failure makes the worker unhealthy.
func (c *Checker) AddCheck(name string, fn CheckFunc) {
	c.add(name, fn, true)
}

// AddOptional registers a check whose failure only degrades the worker.
func (c *Checker) AddOptional(name string, fn CheckFunc) {
	c.add(name, fn, false)
}

func (c *Checker) add(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{fn: fn, critical: critical}
}

// Check runs every check and aggregates the results.
func (c *Checker) Check(ctx context.Context) Status {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	status := Status{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    c.now().Sub(c.started).Round(time.Second).String(),
		Timestamp: c.now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "no checks registered"
		return status
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, r := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			began := time.Now()
			err := r.fn(checkCtx)
			result := CheckResult{
				Healthy:  err == nil,
				Critical: r.critical,
				Message:  "OK",
				Duration: time.Since(began).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
			// Never cancel siblings: every check reports.
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for name, r := range status.Checks {
		if r.Healthy {
			continue
		}
		if r.Critical {
			status.Healthy = false
			failed = append(failed, name)
		} else {
			status.Degraded = append(status.Degraded, name)
		}
	}
	sort.Strings(failed)
	sort.Strings(status.Degraded)

	switch {
	case !status.Healthy:
		status.Message = "failed: " + strings.Join(failed, ", ")
	case len(status.Degraded) > 0:
		status.Message = "degraded: " + strings.Join(status.Degraded, ", ")
	default:
		status.Message = "all checks passed"
	}
	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// LiveHandler answers 200 while the process is serving.
func LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// ReadyHandler runs the checks and answers 503 when a critical one fails.
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context())

		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
