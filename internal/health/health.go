// Package health serves the liveness and readiness probes.
//
//   - /healthz always answers 200 while the process serves HTTP.
//   - /readyz answers 200 only when every [Checker] passes and the server is
//     not draining.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// ErrDraining is reported by /readyz after [Handler.SetDraining].
var ErrDraining = errors.New("server is shutting down")

// Checker is a named dependency probe.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is anything with a Ping method, such as a case store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a Checker that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Configured returns a Checker that fails when any named component in
// components is missing.
func Configured(name string, components map[string]bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var missing []error
		for c, ok := range components {
			if !ok {
				missing = append(missing, fmt.Errorf("%s not configured", c))
			}
		}
		return errors.Join(missing...)
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler evaluating checkers concurrently on every /readyz.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// SetDraining makes /readyz fail so load balancers stop routing new calls.
func (h *Handler) SetDraining() {
	h.draining.Store(true)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers)+1)}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}
	if h.draining.Load() {
		res.Checks["server"] = "fail: " + ErrDraining.Error()
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
