// Package registry holds the set of modules known to an executor,
// resolves load order by declared dependency, and supports filesystem
// discovery of companion metadata/id-override files.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
	"github.com/aipartnerup/apcore-go/internal/depgraph"
	"github.com/aipartnerup/apcore-go/logging"
	"github.com/aipartnerup/apcore-go/module"
)

// EventKind names the lifecycle events a Registry emits. These are the only
// two valid event names; On rejects anything else.
type EventKind string

const (
	EventRegister   EventKind = "register"
	EventUnregister EventKind = "unregister"
)

// EventHandler is invoked when a registry event fires. Handler failures
// are logged and swallowed — they must never abort the registry operation
// that triggered them.
type EventHandler func(kind EventKind, moduleID string)

// Registry is a concurrency-safe collection of modules, keyed by their
// canonical module id.
type Registry struct {
	mu       sync.RWMutex
	modules  map[string]module.Module
	metadata map[string]ModuleMetadata
	handlers map[EventKind][]EventHandler
	logger   logging.Logger
}

// New constructs an empty Registry.
func New(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Registry{
		modules:  make(map[string]module.Module),
		metadata: make(map[string]ModuleMetadata),
		handlers: make(map[EventKind][]EventHandler),
		logger:   logger,
	}
}

// Register adds mod to the registry under its own ID(). It rejects an empty
// id with GENERAL_INVALID_INPUT and a duplicate id with MODULE_LOAD_ERROR.
// Once inserted, it drops the
// lock and invokes OnLoad (for a module implementing module.Lifecycle); a
// failing OnLoad removes the module again and the error propagates, so a
// module never ends up registered with a hook that failed to run.
func (r *Registry) Register(ctx context.Context, mod module.Module) error {
	id := mod.ID()
	if id == "" {
		return apcerrors.NewInvalidInput("module id must be a non-empty string")
	}

	r.mu.Lock()
	if _, exists := r.modules[id]; exists {
		r.mu.Unlock()
		return apcerrors.NewModuleLoadError(id, "a module with this id is already registered")
	}
	r.modules[id] = mod
	r.mu.Unlock()

	if lifecycle, ok := mod.(module.Lifecycle); ok {
		if err := lifecycle.OnLoad(ctx); err != nil {
			r.mu.Lock()
			delete(r.modules, id)
			r.mu.Unlock()
			return apcerrors.NewModuleLoadError(id, err.Error())
		}
	}

	r.triggerEvent(EventRegister, id)
	return nil
}

// Unregister removes a module and then invokes its OnUnload hook (if it
// implements Lifecycle) outside the registry lock, so a slow hook never
// blocks unrelated readers. An OnUnload failure is logged, not returned.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	mod, exists := r.modules[id]
	if !exists {
		r.mu.Unlock()
		return apcerrors.NewModuleNotFound(id)
	}
	delete(r.modules, id)
	r.mu.Unlock()

	if lifecycle, ok := mod.(module.Lifecycle); ok {
		if err := lifecycle.OnUnload(ctx); err != nil {
			r.logger.Error(err, "module OnUnload failed", "module_id", id)
		}
	}

	r.mu.Lock()
	delete(r.metadata, id)
	r.mu.Unlock()

	r.triggerEvent(EventUnregister, id)
	return nil
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (module.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[id]
	if !ok {
		return nil, apcerrors.NewModuleNotFound(id)
	}
	return mod, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[id]
	return ok
}

// List returns registered modules sorted by id, optionally filtered by
// prefix (modules whose id has the given prefix; "" means no filter) and by
// tags (modules whose tag set — the module's own Descriptor().Tags merged
// with any attached metadata tags — is a superset of tags; nil means no
// filter).
func (r *Registry) List(tags []string, prefix string) []module.Module {
	r.mu.RLock()
	ids := r.sortedIDsLocked()
	snapshot := make(map[string]module.Module, len(r.modules))
	for k, v := range r.modules {
		snapshot[k] = v
	}
	metaSnapshot := make(map[string]ModuleMetadata, len(r.metadata))
	for k, v := range r.metadata {
		metaSnapshot[k] = v
	}
	r.mu.RUnlock()

	out := make([]module.Module, 0, len(ids))
	for _, id := range ids {
		if prefix != "" && !strings.HasPrefix(id, prefix) {
			continue
		}
		mod := snapshot[id]
		if tags != nil && !hasAllTags(mod, metaSnapshot[id], tags) {
			continue
		}
		out = append(out, mod)
	}
	return out
}

func hasAllTags(mod module.Module, meta ModuleMetadata, want []string) bool {
	have := make(map[string]struct{})
	for _, t := range mod.Descriptor().Tags {
		have[t] = struct{}{}
	}
	for _, t := range meta.Tags {
		have[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// AttachMetadata layers discovered companion-file metadata onto an already
// registered module id, so later List calls can filter by its merged tags.
// Safe to call whether or not a module with this id is currently
// registered.
func (r *Registry) AttachMetadata(id string, meta ModuleMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[id] = meta
}

// ModuleIDs returns every registered module id, sorted.
func (r *Registry) ModuleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDsLocked()
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// GetDescriptor returns the descriptor for a single module, without
// exposing the module itself.
func (r *Registry) GetDescriptor(id string) (module.Descriptor, error) {
	mod, err := r.Get(id)
	if err != nil {
		return module.Descriptor{}, err
	}
	return mod.Descriptor(), nil
}

// Iter calls fn for every registered module in id order, stopping early if
// fn returns false. Iterates over a point-in-time snapshot, so fn may
// safely call back into the registry (e.g. Register/Unregister) without
// deadlocking.
func (r *Registry) Iter(fn func(module.Module) bool) {
	for _, mod := range r.List(nil, "") {
		if !fn(mod) {
			return
		}
	}
}

// On subscribes handler to events of the given kind. kind must be
// EventRegister or EventUnregister; any other value is rejected.
func (r *Registry) On(kind EventKind, handler EventHandler) error {
	if kind != EventRegister && kind != EventUnregister {
		return apcerrors.NewInvalidInput(fmt.Sprintf("invalid event: %s. must be %q or %q", kind, EventRegister, EventUnregister))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], handler)
	return nil
}

func (r *Registry) triggerEvent(kind EventKind, moduleID string) {
	r.mu.RLock()
	handlers := append([]EventHandler(nil), r.handlers[kind]...)
	r.mu.RUnlock()

	for _, h := range handlers {
		safeInvokeHandler(r.logger, h, kind, moduleID)
	}
}

func safeInvokeHandler(logger logging.Logger, h EventHandler, kind EventKind, moduleID string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(nil, "registry event handler panicked", "event", kind, "module_id", moduleID)
		}
	}()
	h(kind, moduleID)
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadOrder returns every registered module id in dependency order
// (dependencies load before dependents), derived from any module
// implementing module.Dependent. Returns a CIRCULAR_DEPENDENCY error
// naming the full cycle if the dependency graph cannot be ordered.
func (r *Registry) LoadOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := depgraph.New()
	for id, mod := range r.modules {
		g.AddNode(id)
		if dep, ok := mod.(module.Dependent); ok {
			for _, depID := range dep.Dependencies() {
				g.AddEdge(id, depID)
			}
		}
	}

	order, cycle := g.TopologicalSort()
	if cycle != nil {
		return nil, apcerrors.NewCircularDependency(cycle)
	}

	// Drop dependency ids that were referenced but never actually
	// registered as modules. Such missing dependencies are not reported,
	// here or anywhere else.
	filtered := make([]string, 0, len(order))
	for _, id := range order {
		if _, ok := r.modules[id]; ok {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}
