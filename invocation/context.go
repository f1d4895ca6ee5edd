// Package invocation carries the per-call Identity and Context that flow
// through every module invocation made via the executor.
package invocation

import (
	"sync"

	"github.com/google/uuid"
)

// Identity describes who initiated a call tree: a human, a service, or an
// AI agent. Treated as immutable once constructed.
type Identity struct {
	ID    string
	Type  string // free-form, no default; "system" is recognized by the ACL's @system pattern.
	Roles []string
	Attrs map[string]any
}

// SharedData is the mutable bag aliased by every Context in a call tree.
// Per spec, data must be shared by reference, never copied, so middleware
// such as tracing/metrics collaborators can stack spans across nested
// calls. Access is synchronized since sibling branches of a call tree may
// execute on separate goroutines.
type SharedData struct {
	mu   sync.Mutex
	data map[string]any
}

// NewSharedData constructs an empty (or pre-seeded) shared bag.
func NewSharedData(seed map[string]any) *SharedData {
	if seed == nil {
		seed = make(map[string]any)
	}
	return &SharedData{data: seed}
}

// Get reads a value by key.
func (s *SharedData) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set writes a value by key.
func (s *SharedData) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes a key.
func (s *SharedData) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Snapshot returns a shallow copy of the current contents, safe to range
// over without holding the lock.
func (s *SharedData) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Context is the execution context threaded through one call tree.
type Context struct {
	TraceID        string
	CallerID       *string
	CallChain      []string
	Executor       any // back-reference to the owning executor; non-owning.
	Identity       *Identity
	RedactedInputs map[string]any
	Data           *SharedData
}

// NewTraceID generates a version-4 UUID trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// NewContext creates a new top-level Context with a freshly generated trace id.
func NewContext(executor any, identity *Identity, data map[string]any) *Context {
	return &Context{
		TraceID:   NewTraceID(),
		CallChain: nil,
		Executor:  executor,
		Identity:  identity,
		Data:      NewSharedData(data),
	}
}

// Child derives a context for calling targetModuleID. The returned
// Context shares the SAME SharedData reference as the receiver — never a
// copy — and its CallChain is a fresh slice extended with targetModuleID
// (so appending to a child's chain never mutates the parent's).
func (c *Context) Child(targetModuleID string) *Context {
	var caller *string
	if len(c.CallChain) > 0 {
		last := c.CallChain[len(c.CallChain)-1]
		caller = &last
	}

	chain := make([]string, len(c.CallChain)+1)
	copy(chain, c.CallChain)
	chain[len(chain)-1] = targetModuleID

	return &Context{
		TraceID:   c.TraceID,
		CallerID:  caller,
		CallChain: chain,
		Executor:  c.Executor,
		Identity:  c.Identity,
		Data:      c.Data,
	}
}
