// Package module defines the structural contract every unit of work in
// apcore-go must satisfy, and the descriptor types used to advertise it.
package module

import (
	"context"

	"github.com/aipartnerup/apcore-go/invocation"
)

// Annotations describe the behavioral properties of a module. They are
// advisory metadata, never enforced by the executor itself.
type Annotations struct {
	Readonly          bool
	Destructive       bool
	Idempotent        bool
	RequiresApproval  bool
	OpenWorld         bool
}

// Example is one documented sample invocation of a module.
type Example struct {
	Title       string
	Inputs      map[string]any
	Output      map[string]any
	Description string
}

// ValidationResult is the outcome of validating a set of inputs or outputs
// against a module's schema.
type ValidationResult struct {
	Valid  bool
	Errors []map[string]string // each entry has "field", "code", "message"
}

// SchemaNode is a minimal, language-neutral projection of a validator's
// shape, used for descriptor export and for locating sensitive fields that
// must be redacted before logging.
type SchemaNode struct {
	Name      string
	Type      string
	Required  bool
	Sensitive bool
	Children  []SchemaNode
}

// Validator owns the shape of a module's inputs or outputs: it validates a
// concrete value and can project its own shape as a SchemaNode tree for
// descriptor export and sensitive-field redaction.
type Validator interface {
	Validate(value map[string]any) ValidationResult
	Project() SchemaNode
}

// Descriptor is the stable, read-only projection of a module's identity
// and documentation, safe to serialize to an external caller without
// reaching back into the registry.
type Descriptor struct {
	ModuleID      string
	Name          string
	Description   string
	Documentation string
	Version       string
	Tags          []string
	Annotations   Annotations
	Examples      []Example
	Metadata      map[string]any
}

// StreamChunk is one unit emitted by a streaming module.
type StreamChunk struct {
	Data  map[string]any
	Final bool
}

// Module is the structural contract every executable unit implements.
// There is no base class to embed: any type satisfying this interface (in
// whole, or via funcadapter.Wrap) can be registered.
type Module interface {
	ID() string
	Descriptor() Descriptor
	InputSchema() Validator
	OutputSchema() Validator
	Execute(ctx context.Context, ictx *invocation.Context, inputs map[string]any) (map[string]any, error)
}

// Streamable is implemented by modules that can emit incremental output.
// The executor probes for this interface via a type assertion and caches
// the result per module id.
type Streamable interface {
	Stream(ctx context.Context, ictx *invocation.Context, inputs map[string]any, emit func(StreamChunk) error) error
}

// Dependent is implemented by modules that declare other module ids they
// require to be loaded first.
type Dependent interface {
	Dependencies() []string
}

// Lifecycle is implemented by modules with setup/teardown hooks run by the
// registry around registration (Register) and unregistration (Unregister).
type Lifecycle interface {
	OnLoad(ctx context.Context) error
	OnUnload(ctx context.Context) error
}
