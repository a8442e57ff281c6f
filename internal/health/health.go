// Package health provides a registry of named subsystem health checkers
// backing the /health and /health/ready endpoints.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	check    Checker
	critical bool
}

// NewRegistry creates a registry; each check gets at most timeout to answer.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a critical checker: when it fails the service is not ready.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, check, true)
}

// RegisterOptional adds a checker that is reported but does not affect readiness
// (external collaborators such as the notification gateway).
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(name, check, false)
}

func (r *Registry) add(name string, check Checker, critical bool) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check, critical: critical})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// (false if any critical check fails) plus individual results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))
	for i, nc := range checkers {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		st := nc.check(cctx)
		cancel()
		st.Name = nc.name
		statuses[i] = st
		if !st.Healthy && nc.critical {
			healthy = false
		}
	}
	return healthy, statuses
}

// PingCheck builds a Checker from a Pinger.
func PingCheck(p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}
