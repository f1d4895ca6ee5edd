// Package errors defines the stable error taxonomy shared by every apcore-go
// component. All errors that can reach a caller are represented as
// *ModuleError so callers can switch on Code rather than string-match
// messages.
package errors

import (
	"fmt"
	"time"
)

// Stable error codes. Keep these in sync with the contract in SPEC_FULL.md §6.
const (
	CodeConfigNotFound          = "CONFIG_NOT_FOUND"
	CodeConfigInvalid           = "CONFIG_INVALID"
	CodeACLRuleError            = "ACL_RULE_ERROR"
	CodeACLDenied               = "ACL_DENIED"
	CodeModuleNotFound          = "MODULE_NOT_FOUND"
	CodeModuleTimeout           = "MODULE_TIMEOUT"
	CodeModuleLoadError         = "MODULE_LOAD_ERROR"
	CodeModuleExecuteError      = "MODULE_EXECUTE_ERROR"
	CodeSchemaValidationError   = "SCHEMA_VALIDATION_ERROR"
	CodeSchemaNotFound          = "SCHEMA_NOT_FOUND"
	CodeSchemaParseError        = "SCHEMA_PARSE_ERROR"
	CodeSchemaCircularRef       = "SCHEMA_CIRCULAR_REF"
	CodeCallDepthExceeded       = "CALL_DEPTH_EXCEEDED"
	CodeCircularCall            = "CIRCULAR_CALL"
	CodeCallFrequencyExceeded   = "CALL_FREQUENCY_EXCEEDED"
	CodeGeneralInvalidInput     = "GENERAL_INVALID_INPUT"
	CodeGeneralInternalError    = "GENERAL_INTERNAL_ERROR"
	CodeFuncMissingTypeHint     = "FUNC_MISSING_TYPE_HINT"
	CodeFuncMissingReturnType   = "FUNC_MISSING_RETURN_TYPE"
	CodeBindingInvalidTarget    = "BINDING_INVALID_TARGET"
	CodeBindingModuleNotFound   = "BINDING_MODULE_NOT_FOUND"
	CodeBindingCallableNotFound = "BINDING_CALLABLE_NOT_FOUND"
	CodeBindingNotCallable      = "BINDING_NOT_CALLABLE"
	CodeBindingSchemaMissing    = "BINDING_SCHEMA_MISSING"
	CodeBindingFileInvalid      = "BINDING_FILE_INVALID"
	CodeCircularDependency      = "CIRCULAR_DEPENDENCY"
)

// ModuleError is the single concrete error type used throughout apcore-go.
type ModuleError struct {
	Code      string
	Message   string
	Details   map[string]any
	Cause     error
	TraceID   string
	Timestamp time.Time
}

// New builds a ModuleError with a timestamp of now.
func New(code, message string, details map[string]any) *ModuleError {
	return &ModuleError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *ModuleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithCause attaches a wrapped cause and returns the receiver for chaining.
func (e *ModuleError) WithCause(cause error) *ModuleError {
	if e == nil {
		return nil
	}
	e.Cause = cause
	return e
}

// WithTraceID stamps the originating trace id and returns the receiver.
func (e *ModuleError) WithTraceID(traceID string) *ModuleError {
	if e == nil {
		return nil
	}
	e.TraceID = traceID
	return e
}

// Is reports whether err is a *ModuleError carrying the given code.
func Is(err error, code string) bool {
	me, ok := err.(*ModuleError)
	if !ok {
		return false
	}
	return me.Code == code
}

// detail reads a key out of Details, returning the zero value if absent.
func detail[T any](e *ModuleError, key string) T {
	var zero T
	if e == nil || e.Details == nil {
		return zero
	}
	v, ok := e.Details[key]
	if !ok {
		return zero
	}
	t, ok := v.(T)
	if !ok {
		return zero
	}
	return t
}

// NewConfigNotFound mirrors apcore.ConfigNotFoundError.
func NewConfigNotFound(configPath string) *ModuleError {
	return New(CodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", configPath),
		map[string]any{"config_path": configPath})
}

// NewConfigInvalid mirrors apcore.ConfigError.
func NewConfigInvalid(message string) *ModuleError {
	return New(CodeConfigInvalid, message, nil)
}

// NewACLRuleError mirrors apcore.ACLRuleError.
func NewACLRuleError(message string) *ModuleError {
	return New(CodeACLRuleError, message, nil)
}

// NewACLDenied mirrors apcore.ACLDeniedError.
func NewACLDenied(callerID *string, targetID string) *ModuleError {
	var caller any
	if callerID != nil {
		caller = *callerID
	}
	callerDisplay := "<external>"
	if callerID != nil {
		callerDisplay = *callerID
	}
	return New(CodeACLDenied, fmt.Sprintf("access denied: %s -> %s", callerDisplay, targetID),
		map[string]any{"caller_id": caller, "target_id": targetID})
}

// CallerID returns the caller id carried by an ACL_DENIED error, if any.
func (e *ModuleError) CallerID() *string {
	v := detail[any](e, "caller_id")
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// TargetID returns the target id carried by an ACL_DENIED error.
func (e *ModuleError) TargetID() string {
	return detail[string](e, "target_id")
}

// NewModuleNotFound mirrors apcore.ModuleNotFoundError.
func NewModuleNotFound(moduleID string) *ModuleError {
	return New(CodeModuleNotFound, fmt.Sprintf("module not found: %s", moduleID),
		map[string]any{"module_id": moduleID})
}

// NewModuleTimeout mirrors apcore.ModuleTimeoutError.
func NewModuleTimeout(moduleID string, timeoutMS int64) *ModuleError {
	return New(CodeModuleTimeout, fmt.Sprintf("module %s timed out after %dms", moduleID, timeoutMS),
		map[string]any{"module_id": moduleID, "timeout_ms": timeoutMS})
}

// ModuleID returns the module id carried by errors that name one.
func (e *ModuleError) ModuleID() string {
	return detail[string](e, "module_id")
}

// TimeoutMS returns the timeout value carried by a MODULE_TIMEOUT error.
func (e *ModuleError) TimeoutMS() int64 {
	return detail[int64](e, "timeout_ms")
}

// NewSchemaValidationError mirrors apcore.SchemaValidationError.
func NewSchemaValidationError(message string, fieldErrors []map[string]string) *ModuleError {
	if message == "" {
		message = "schema validation failed"
	}
	errs := make([]any, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		errs = append(errs, fe)
	}
	return New(CodeSchemaValidationError, message, map[string]any{"errors": errs})
}

// FieldErrors returns the per-field error list carried by a
// SCHEMA_VALIDATION_ERROR, if present.
func (e *ModuleError) FieldErrors() []map[string]string {
	if e == nil || e.Details == nil {
		return nil
	}
	raw, ok := e.Details["errors"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]string, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]string); ok {
			out = append(out, m)
		}
	}
	return out
}

// NewSchemaNotFound mirrors apcore.SchemaNotFoundError.
func NewSchemaNotFound(schemaID string) *ModuleError {
	return New(CodeSchemaNotFound, fmt.Sprintf("schema not found: %s", schemaID),
		map[string]any{"schema_id": schemaID})
}

// NewSchemaParseError mirrors apcore.SchemaParseError.
func NewSchemaParseError(message string) *ModuleError {
	return New(CodeSchemaParseError, message, nil)
}

// NewSchemaCircularRef mirrors apcore.SchemaCircularRefError.
func NewSchemaCircularRef(refPath string) *ModuleError {
	return New(CodeSchemaCircularRef, fmt.Sprintf("circular reference detected: %s", refPath),
		map[string]any{"ref_path": refPath})
}

// NewCallDepthExceeded mirrors apcore.CallDepthExceededError.
func NewCallDepthExceeded(depth, maxDepth int, callChain []string) *ModuleError {
	return New(CodeCallDepthExceeded, fmt.Sprintf("call depth %d exceeds maximum %d", depth, maxDepth),
		map[string]any{"depth": depth, "max_depth": maxDepth, "call_chain": callChain})
}

// CurrentDepth returns the depth that triggered a CALL_DEPTH_EXCEEDED error.
func (e *ModuleError) CurrentDepth() int { return detail[int](e, "depth") }

// MaxDepth returns the configured max depth carried by a CALL_DEPTH_EXCEEDED error.
func (e *ModuleError) MaxDepth() int { return detail[int](e, "max_depth") }

// NewCircularCall mirrors apcore.CircularCallError.
func NewCircularCall(moduleID string, callChain []string) *ModuleError {
	return New(CodeCircularCall, fmt.Sprintf("circular call detected for module %s", moduleID),
		map[string]any{"module_id": moduleID, "call_chain": callChain})
}

// NewCallFrequencyExceeded mirrors apcore.CallFrequencyExceededError.
func NewCallFrequencyExceeded(moduleID string, count, maxRepeat int, callChain []string) *ModuleError {
	return New(CodeCallFrequencyExceeded,
		fmt.Sprintf("module %s called %d times, max is %d", moduleID, count, maxRepeat),
		map[string]any{
			"module_id":  moduleID,
			"count":      count,
			"max_repeat": maxRepeat,
			"call_chain": callChain,
		})
}

// Count returns the invocation count carried by a CALL_FREQUENCY_EXCEEDED error.
func (e *ModuleError) Count() int { return detail[int](e, "count") }

// MaxRepeat returns the configured max repeat carried by a CALL_FREQUENCY_EXCEEDED error.
func (e *ModuleError) MaxRepeat() int { return detail[int](e, "max_repeat") }

// NewInvalidInput mirrors apcore.InvalidInputError.
func NewInvalidInput(message string) *ModuleError {
	if message == "" {
		message = "invalid input"
	}
	return New(CodeGeneralInvalidInput, message, nil)
}

// NewInternalError wraps an unexpected failure (e.g. a recovered panic).
func NewInternalError(message string, cause error) *ModuleError {
	return New(CodeGeneralInternalError, message, nil).WithCause(cause)
}

// NewFuncMissingTypeHint mirrors apcore.FuncMissingTypeHintError.
func NewFuncMissingTypeHint(functionName, parameterName string) *ModuleError {
	return New(CodeFuncMissingTypeHint,
		fmt.Sprintf("parameter %q in function %q has no recognizable struct tag. Add an `apcore` tag.",
			parameterName, functionName),
		map[string]any{"function_name": functionName, "parameter_name": parameterName})
}

// NewFuncMissingReturnType mirrors apcore.FuncMissingReturnTypeError.
func NewFuncMissingReturnType(functionName string) *ModuleError {
	return New(CodeFuncMissingReturnType,
		fmt.Sprintf("function %q has no usable return type. Adapted functions must return (Out, error).", functionName),
		map[string]any{"function_name": functionName})
}

// NewBindingInvalidTarget mirrors apcore.BindingInvalidTargetError.
func NewBindingInvalidTarget(target string) *ModuleError {
	return New(CodeBindingInvalidTarget,
		fmt.Sprintf("invalid binding target %q. Expected format: 'package/path.Symbol'.", target),
		map[string]any{"target": target})
}

// NewBindingModuleNotFound mirrors apcore.BindingModuleNotFoundError.
func NewBindingModuleNotFound(modulePath string) *ModuleError {
	return New(CodeBindingModuleNotFound, fmt.Sprintf("cannot resolve package %q", modulePath),
		map[string]any{"module_path": modulePath})
}

// NewBindingCallableNotFound mirrors apcore.BindingCallableNotFoundError.
func NewBindingCallableNotFound(callableName, modulePath string) *ModuleError {
	return New(CodeBindingCallableNotFound,
		fmt.Sprintf("cannot find callable %q in package %q", callableName, modulePath),
		map[string]any{"callable_name": callableName, "module_path": modulePath})
}

// NewBindingNotCallable mirrors apcore.BindingNotCallableError.
func NewBindingNotCallable(target string) *ModuleError {
	return New(CodeBindingNotCallable, fmt.Sprintf("resolved target %q is not callable", target),
		map[string]any{"target": target})
}

// NewBindingSchemaMissing mirrors apcore.BindingSchemaMissingError.
func NewBindingSchemaMissing(target string) *ModuleError {
	return New(CodeBindingSchemaMissing,
		fmt.Sprintf("no schema available for target %q; add struct tags or provide an explicit schema", target),
		map[string]any{"target": target})
}

// NewBindingFileInvalid mirrors apcore.BindingFileInvalidError.
func NewBindingFileInvalid(filePath, reason string) *ModuleError {
	return New(CodeBindingFileInvalid, fmt.Sprintf("invalid binding file %q: %s", filePath, reason),
		map[string]any{"file_path": filePath, "reason": reason})
}

// NewCircularDependency mirrors apcore.CircularDependencyError.
func NewCircularDependency(cyclePath []string) *ModuleError {
	msg := "circular dependency detected"
	if len(cyclePath) > 0 {
		joined := cyclePath[0]
		for _, n := range cyclePath[1:] {
			joined += " -> " + n
		}
		msg = fmt.Sprintf("circular dependency detected: %s", joined)
	}
	return New(CodeCircularDependency, msg, map[string]any{"cycle_path": cyclePath})
}

// CyclePath returns the cycle carried by a CIRCULAR_DEPENDENCY error.
func (e *ModuleError) CyclePath() []string {
	return detail[[]string](e, "cycle_path")
}

// NewModuleLoadError mirrors apcore.ModuleLoadError.
func NewModuleLoadError(moduleID, reason string) *ModuleError {
	return New(CodeModuleLoadError, fmt.Sprintf("failed to load module %q: %s", moduleID, reason),
		map[string]any{"module_id": moduleID, "reason": reason})
}

// NewModuleExecuteError wraps an arbitrary failure raised by Module.Execute.
func NewModuleExecuteError(moduleID string, cause error) *ModuleError {
	msg := fmt.Sprintf("module %q failed during execution", moduleID)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return New(CodeModuleExecuteError, msg, map[string]any{"module_id": moduleID}).WithCause(cause)
}
