// Package executor drives every module invocation through the fixed
// 10-step pipeline: derive context, safety checks, lookup, ACL check,
// input validation + redaction, before-middleware, timed execute, output
// validation, after-middleware, return.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aipartnerup/apcore-go/acl"
	apcerrors "github.com/aipartnerup/apcore-go/errors"
	"github.com/aipartnerup/apcore-go/invocation"
	"github.com/aipartnerup/apcore-go/logging"
	"github.com/aipartnerup/apcore-go/middleware"
	"github.com/aipartnerup/apcore-go/module"
	"github.com/aipartnerup/apcore-go/registry"
)

// Redacted is substituted for any field a module's schema marks sensitive
// in the copy of the inputs stored on Context.RedactedInputs. The inputs
// handed to middleware and to the module itself are not redacted.
const Redacted = "***REDACTED***"

// Config bounds the executor's pipeline. GlobalTimeout is reserved for a
// future cross-call budget and is intentionally never enforced, per
// SPEC_FULL.md's binding Open Question decision.
type Config struct {
	DefaultTimeout  time.Duration
	GlobalTimeout   time.Duration
	MaxCallDepth    int
	MaxModuleRepeat int
}

// DefaultConfig returns the executor's out-of-the-box limits: a 30s
// default timeout, a 60s (unenforced) global timeout, a max call depth of
// 32 and a max module repeat of 3.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		GlobalTimeout:   60000 * time.Millisecond,
		MaxCallDepth:    32,
		MaxModuleRepeat: 3,
	}
}

// Validate checks the config's own fields, independent of any call.
func (c Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return apcerrors.NewInvalidInput("default timeout must not be negative")
	}
	if c.MaxCallDepth <= 0 {
		return apcerrors.NewInvalidInput("max call depth must be positive")
	}
	if c.MaxModuleRepeat <= 0 {
		return apcerrors.NewInvalidInput("max module repeat must be positive")
	}
	return nil
}

// Executor ties a Registry, an ACL, and a middleware Manager into the
// call/callAsync/stream pipeline.
type Executor struct {
	Registry   *registry.Registry
	ACL        *acl.ACL
	Middleware *middleware.Manager
	Config     Config
	logger     logging.Logger

	streamableMu    sync.RWMutex
	streamableCache map[string]bool
}

// New constructs an Executor. A nil acl allows every call; a nil
// middleware manager runs an empty pipeline.
func New(reg *registry.Registry, aclEngine *acl.ACL, mw *middleware.Manager, cfg Config, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Noop()
	}
	if mw == nil {
		mw = middleware.NewManager(logger)
	}
	return &Executor{
		Registry:        reg,
		ACL:             aclEngine,
		Middleware:      mw,
		Config:          cfg,
		logger:          logger,
		streamableCache: make(map[string]bool),
	}
}

// CallResult is the outcome of an asynchronous call, delivered over a
// channel by CallAsync.
type CallResult struct {
	Output map[string]any
	Err    error
}

// Call runs targetID synchronously through the full pipeline. parent is
// nil for an external (unauthenticated caller) invocation, or the calling
// module's own Context for a nested call.
func (e *Executor) Call(ctx context.Context, parent *invocation.Context, targetID string, inputs map[string]any) (map[string]any, error) {
	// Step 1: derive context.
	ictx := e.deriveContext(parent, targetID)

	// Step 2: safety checks.
	if err := e.safetyChecks(ictx, targetID); err != nil {
		return nil, err.WithTraceID(ictx.TraceID)
	}

	// Step 3: lookup.
	mod, err := e.Registry.Get(targetID)
	if err != nil {
		me, _ := err.(*apcerrors.ModuleError)
		if me != nil {
			return nil, me.WithTraceID(ictx.TraceID)
		}
		return nil, err
	}

	// Step 4: ACL check.
	callerID := ictx.CallerID
	if e.ACL != nil && !e.ACL.Check(callerID, targetID, ictx) {
		return nil, apcerrors.NewACLDenied(callerID, targetID).WithTraceID(ictx.TraceID)
	}

	// Step 5: input validation + redaction.
	validatedInputs, verr := e.validateAndRedact(mod.InputSchema(), inputs, ictx)
	if verr != nil {
		return nil, verr
	}

	// Step 6: before-middleware chain.
	afterBefore, executed, beforeErr := e.Middleware.ExecuteBefore(targetID, validatedInputs, ictx)
	if beforeErr != nil {
		cause := beforeErr
		if chainErr, ok := beforeErr.(*middleware.ChainError); ok {
			cause = chainErr.Original
		}
		recovery := e.Middleware.ExecuteOnError(targetID, validatedInputs, cause, ictx, executed)
		if recovery != nil {
			return recovery, nil
		}
		return nil, apcerrors.NewModuleExecuteError(targetID, cause).WithTraceID(ictx.TraceID)
	}

	// Step 7: timed execute.
	output, execErr := e.timedExecute(ctx, mod, ictx, afterBefore)
	if execErr != nil {
		recovery := e.Middleware.ExecuteOnError(targetID, afterBefore, execErr, ictx, executed)
		if recovery != nil {
			return recovery, nil
		}
		return nil, e.wrapExecError(targetID, execErr).WithTraceID(ictx.TraceID)
	}

	// Step 8: output validation.
	if outSchema := mod.OutputSchema(); outSchema != nil {
		if result := outSchema.Validate(output); !result.Valid {
			outErr := apcerrors.NewSchemaValidationError("output validation failed", result.Errors).WithTraceID(ictx.TraceID)
			if recovery := e.Middleware.ExecuteOnError(targetID, afterBefore, outErr, ictx, executed); recovery != nil {
				return recovery, nil
			}
			return nil, outErr
		}
	}

	// Step 9: after-middleware chain.
	finalOutput, afterErr := e.Middleware.ExecuteAfter(targetID, afterBefore, output, ictx)
	if afterErr != nil {
		if recovery := e.Middleware.ExecuteOnError(targetID, afterBefore, afterErr, ictx, executed); recovery != nil {
			return recovery, nil
		}
		return nil, apcerrors.NewModuleExecuteError(targetID, afterErr).WithTraceID(ictx.TraceID)
	}

	// Step 10: return.
	return finalOutput, nil
}

// CallAsync runs Call on a goroutine and reports the result over the
// returned channel, which is always sent to exactly once and then closed.
func (e *Executor) CallAsync(ctx context.Context, parent *invocation.Context, targetID string, inputs map[string]any) <-chan CallResult {
	out := make(chan CallResult, 1)
	go func() {
		defer close(out)
		output, err := e.Call(ctx, parent, targetID, inputs)
		out <- CallResult{Output: output, Err: err}
	}()
	return out
}

// Stream runs targetID, emitting incremental module.StreamChunk values as
// they are produced. A module that does not implement module.Streamable
// degrades to a single chunk carrying the full Call result, per
// SPEC_FULL.md's binding Open Question decision. For a module that does
// implement it, chunks are forwarded as emitted; they are not merged or
// validated against the output schema, and the after-middleware chain is
// not run.
func (e *Executor) Stream(ctx context.Context, parent *invocation.Context, targetID string, inputs map[string]any) <-chan StreamEvent {
	out := make(chan StreamEvent, 1)

	ictx := e.deriveContext(parent, targetID)
	if err := e.safetyChecks(ictx, targetID); err != nil {
		out <- StreamEvent{Err: err.WithTraceID(ictx.TraceID)}
		close(out)
		return out
	}

	mod, err := e.Registry.Get(targetID)
	if err != nil {
		out <- StreamEvent{Err: err}
		close(out)
		return out
	}

	if !e.isStreamable(mod) {
		go func() {
			defer close(out)
			output, err := e.Call(ctx, parent, targetID, inputs)
			if err != nil {
				out <- StreamEvent{Err: err}
				return
			}
			out <- StreamEvent{Chunk: module.StreamChunk{Data: output, Final: true}}
		}()
		return out
	}

	streamable := mod.(module.Streamable)

	go func() {
		defer close(out)

		callerID := ictx.CallerID
		if e.ACL != nil && !e.ACL.Check(callerID, targetID, ictx) {
			out <- StreamEvent{Err: apcerrors.NewACLDenied(callerID, targetID).WithTraceID(ictx.TraceID)}
			return
		}

		validatedInputs, verr := e.validateAndRedact(mod.InputSchema(), inputs, ictx)
		if verr != nil {
			out <- StreamEvent{Err: verr}
			return
		}

		afterBefore, executed, beforeErr := e.Middleware.ExecuteBefore(targetID, validatedInputs, ictx)
		if beforeErr != nil {
			cause := beforeErr
			if chainErr, ok := beforeErr.(*middleware.ChainError); ok {
				cause = chainErr.Original
			}
			recovery := e.Middleware.ExecuteOnError(targetID, validatedInputs, cause, ictx, executed)
			if recovery != nil {
				out <- StreamEvent{Chunk: module.StreamChunk{Data: recovery, Final: true}}
				return
			}
			out <- StreamEvent{Err: apcerrors.NewModuleExecuteError(targetID, cause).WithTraceID(ictx.TraceID)}
			return
		}

		err = streamable.Stream(ctx, ictx, afterBefore, func(chunk module.StreamChunk) error {
			out <- StreamEvent{Chunk: chunk}
			return nil
		})
		if err != nil {
			recovery := e.Middleware.ExecuteOnError(targetID, afterBefore, err, ictx, executed)
			if recovery != nil {
				out <- StreamEvent{Chunk: module.StreamChunk{Data: recovery, Final: true}}
				return
			}
			out <- StreamEvent{Err: e.wrapExecError(targetID, err).WithTraceID(ictx.TraceID)}
		}
	}()

	return out
}

// StreamEvent is one item delivered by Stream: either a chunk or a
// terminal error.
type StreamEvent struct {
	Chunk module.StreamChunk
	Err   error
}

// Validate runs a module's input or output schema against value, without
// executing the module.
func (e *Executor) Validate(mod module.Module, value map[string]any, which string) module.ValidationResult {
	var v module.Validator
	switch which {
	case "input":
		v = mod.InputSchema()
	case "output":
		v = mod.OutputSchema()
	default:
		return module.ValidationResult{Valid: false, Errors: []map[string]string{{"field": "", "code": "invalid", "message": "which must be 'input' or 'output'"}}}
	}
	if v == nil {
		return module.ValidationResult{Valid: true}
	}
	return v.Validate(value)
}

func (e *Executor) deriveContext(parent *invocation.Context, targetID string) *invocation.Context {
	if parent == nil {
		root := invocation.NewContext(e, nil, nil)
		return root.Child(targetID)
	}
	return parent.Child(targetID)
}

func (e *Executor) safetyChecks(ictx *invocation.Context, targetID string) *apcerrors.ModuleError {
	depth := len(ictx.CallChain)
	if depth > e.Config.MaxCallDepth {
		return apcerrors.NewCallDepthExceeded(depth, e.Config.MaxCallDepth, ictx.CallChain)
	}

	if err := checkCircularCall(ictx.CallChain, targetID); err != nil {
		return err
	}

	count := 0
	for _, id := range ictx.CallChain {
		if id == targetID {
			count++
		}
	}
	if count > e.Config.MaxModuleRepeat {
		return apcerrors.NewCallFrequencyExceeded(targetID, count, e.Config.MaxModuleRepeat, ictx.CallChain)
	}

	return nil
}

// checkCircularCall flags a call as circular only when targetID already
// appears in callChain with something else interleaved — a straight
// self-chain like [A, A, A] is left to the frequency check instead, per
// SPEC_FULL.md's invariant.
func checkCircularCall(callChain []string, targetID string) *apcerrors.ModuleError {
	idx := -1
	for i, id := range callChain {
		if id == targetID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	for _, id := range callChain[idx:] {
		if id != targetID {
			return apcerrors.NewCircularCall(targetID, callChain)
		}
	}
	return nil
}

func (e *Executor) validateAndRedact(v module.Validator, inputs map[string]any, ictx *invocation.Context) (map[string]any, *apcerrors.ModuleError) {
	if v == nil {
		return inputs, nil
	}
	result := v.Validate(inputs)
	if !result.Valid {
		return nil, apcerrors.NewSchemaValidationError("input validation failed", result.Errors).WithTraceID(ictx.TraceID)
	}

	redacted := redactSensitive(inputs, v.Project())
	ictx.RedactedInputs = redacted
	return inputs, nil
}

// redactSensitive returns a deep copy of inputs with every field the schema
// marks Sensitive replaced by Redacted, plus any top-level key beginning
// with "_secret_" redacted regardless of what the schema says. It recurses
// into nested objects (map[string]any) and array items ([]any) via
// shape.Children, so a sensitive field several levels deep, or every item
// of an array whose items schema is sensitive, is redacted too. The
// original map passed to the module is left untouched; only the copy
// attached to the context for logging/middleware visibility is redacted.
func redactSensitive(inputs map[string]any, shape module.SchemaNode) map[string]any {
	out := redactFields(inputs, shape.Children)
	for k := range inputs {
		if strings.HasPrefix(k, "_secret_") {
			out[k] = Redacted
		}
	}
	return out
}

// redactFields applies the sensitive/children rules from fields to data,
// without the top-level "_secret_" prefix rule (which only applies at the
// outermost level, per SPEC_FULL.md).
func redactFields(data map[string]any, fields []module.SchemaNode) map[string]any {
	byName := make(map[string]module.SchemaNode, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		field, known := byName[k]
		if !known {
			out[k] = deepCopyValue(v)
			continue
		}
		out[k] = redactValue(v, field)
	}
	return out
}

func redactValue(v any, field module.SchemaNode) any {
	if v == nil {
		return nil
	}
	switch vv := v.(type) {
	case map[string]any:
		if field.Sensitive {
			return Redacted
		}
		if len(field.Children) > 0 {
			return redactFields(vv, field.Children)
		}
		return deepCopyValue(vv)
	case []any:
		if field.Sensitive {
			items := make([]any, len(vv))
			for i := range vv {
				items[i] = Redacted
			}
			return items
		}
		if len(field.Children) > 0 {
			items := make([]any, len(vv))
			for i, item := range vv {
				if m, ok := item.(map[string]any); ok {
					items[i] = redactFields(m, field.Children)
				} else {
					items[i] = deepCopyValue(item)
				}
			}
			return items
		}
		return deepCopyValue(vv)
	default:
		if field.Sensitive {
			return Redacted
		}
		return v
	}
}

// deepCopyValue recursively copies maps and slices so a redacted copy never
// shares structure with the original inputs.
func deepCopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}

func (e *Executor) timedExecute(ctx context.Context, mod module.Module, ictx *invocation.Context, inputs map[string]any) (map[string]any, error) {
	timeout := e.Config.DefaultTimeout
	if timeout <= 0 {
		return e.runWithRecover(ctx, mod, ictx, inputs)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		output map[string]any
		err    error
	}
	done := make(chan result, 1)

	go func() {
		output, err := e.runWithRecover(timeoutCtx, mod, ictx, inputs)
		done <- result{output: output, err: err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-timeoutCtx.Done():
		return nil, apcerrors.NewModuleTimeout(mod.ID(), timeout.Milliseconds())
	}
}

func (e *Executor) runWithRecover(ctx context.Context, mod module.Module, ictx *invocation.Context, inputs map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apcerrors.NewInternalError(fmt.Sprintf("module %s panicked", mod.ID()), fmt.Errorf("%v", r))
		}
	}()
	return mod.Execute(ctx, ictx, inputs)
}

func (e *Executor) wrapExecError(targetID string, err error) *apcerrors.ModuleError {
	if me, ok := err.(*apcerrors.ModuleError); ok {
		return me
	}
	return apcerrors.NewModuleExecuteError(targetID, err)
}

func (e *Executor) isStreamable(mod module.Module) bool {
	id := mod.ID()

	e.streamableMu.RLock()
	cached, ok := e.streamableCache[id]
	e.streamableMu.RUnlock()
	if ok {
		return cached
	}

	_, isStreamable := mod.(module.Streamable)

	e.streamableMu.Lock()
	e.streamableCache[id] = isStreamable
	e.streamableMu.Unlock()

	return isStreamable
}
