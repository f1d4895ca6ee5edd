// Package middleware implements the onion-model middleware pipeline that
// wraps every module invocation: before() runs forward in registration
// order, after() runs in reverse, and onError() replays only the
// middlewares whose before() had already executed, also in reverse.
package middleware

import (
	"sync"

	"github.com/aipartnerup/apcore-go/invocation"
	"github.com/aipartnerup/apcore-go/logging"
)

// Middleware is implemented by pipeline collaborators such as tracing,
// metrics, or auditing. All three hooks are optional in spirit: an
// implementation that has nothing to say for a given hook returns (nil,
// nil), which signals "no modification."
type Middleware interface {
	Before(moduleID string, inputs map[string]any, ctx *invocation.Context) (map[string]any, error)
	After(moduleID string, inputs, output map[string]any, ctx *invocation.Context) (map[string]any, error)
	OnError(moduleID string, inputs map[string]any, cause error, ctx *invocation.Context) (map[string]any, error)
}

// Base provides no-op implementations of all three hooks so a concrete
// middleware only needs to override what it cares about.
type Base struct{}

func (Base) Before(string, map[string]any, *invocation.Context) (map[string]any, error) {
	return nil, nil
}
func (Base) After(string, map[string]any, map[string]any, *invocation.Context) (map[string]any, error) {
	return nil, nil
}
func (Base) OnError(string, map[string]any, error, *invocation.Context) (map[string]any, error) {
	return nil, nil
}

// ChainError is raised when a middleware's Before hook fails partway
// through the chain. It carries the middlewares that had already executed
// so the executor can run only those through the on-error cascade.
type ChainError struct {
	Original  error
	Executed  []Middleware
}

func (e *ChainError) Error() string { return e.Original.Error() }
func (e *ChainError) Unwrap() error { return e.Original }

// Manager orchestrates the middleware pipeline. Per SPEC_FULL.md's binding
// Open Question decision, this manager is synchronized — unlike the
// reference implementation it is ported from, which registers middlewares
// without any lock.
type Manager struct {
	mu          sync.Mutex
	middlewares []Middleware
	logger      logging.Logger
}

// NewManager constructs an empty middleware manager.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Manager{logger: logger}
}

// Add appends a middleware to the end of the execution order.
func (m *Manager) Add(mw Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middlewares = append(m.middlewares, mw)
}

// Remove removes mw by identity. Reports whether it was found.
func (m *Manager) Remove(mw Middleware) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.middlewares {
		if entry == mw {
			m.middlewares = append(m.middlewares[:i], m.middlewares[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the current middleware list, safe to iterate
// without holding the lock (so a Before/After/OnError hook that itself
// calls Add/Remove cannot deadlock).
func (m *Manager) snapshot() []Middleware {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Middleware(nil), m.middlewares...)
}

// ExecuteBefore runs Before() on every middleware in registration order,
// threading the (possibly modified) inputs through. Returns the final
// inputs and the list of middlewares that executed before any failure, so
// ExecuteOnError can cascade only over those.
func (m *Manager) ExecuteBefore(moduleID string, inputs map[string]any, ctx *invocation.Context) (map[string]any, []Middleware, error) {
	current := inputs
	snapshot := m.snapshot()
	executed := make([]Middleware, 0, len(snapshot))

	for _, mw := range snapshot {
		executed = append(executed, mw)
		result, err := mw.Before(moduleID, current, ctx)
		if err != nil {
			return current, executed, &ChainError{Original: err, Executed: executed}
		}
		if result != nil {
			current = result
		}
	}

	return current, executed, nil
}

// ExecuteAfter runs After() on every middleware in REVERSE registration
// order, threading the (possibly modified) output through.
func (m *Manager) ExecuteAfter(moduleID string, inputs, output map[string]any, ctx *invocation.Context) (map[string]any, error) {
	current := output
	snapshot := m.snapshot()

	for i := len(snapshot) - 1; i >= 0; i-- {
		result, err := snapshot[i].After(moduleID, inputs, current, ctx)
		if err != nil {
			return current, err
		}
		if result != nil {
			current = result
		}
	}

	return current, nil
}

// ExecuteOnError runs OnError() over executed (in reverse order),
// returning the first non-nil recovery map, or nil if none recovers. A
// handler that itself panics or errors is logged and skipped, never
// propagated — errors occurring during error recovery must not mask the
// original failure.
func (m *Manager) ExecuteOnError(moduleID string, inputs map[string]any, cause error, ctx *invocation.Context, executed []Middleware) map[string]any {
	for i := len(executed) - 1; i >= 0; i-- {
		recovery, err := safeOnError(executed[i], moduleID, inputs, cause, ctx)
		if err != nil {
			m.logger.Error(err, "middleware on_error handler failed", "module_id", moduleID)
			continue
		}
		if recovery != nil {
			return recovery
		}
	}
	return nil
}

func safeOnError(mw Middleware, moduleID string, inputs map[string]any, cause error, ctx *invocation.Context) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return mw.OnError(moduleID, inputs, cause, ctx)
}

func panicToError(r any) error {
	if e, ok := r.(error); ok {
		return e
	}
	return &panicError{value: r}
}

type panicError struct{ value any }

func (p *panicError) Error() string { return "panic in middleware handler" }
