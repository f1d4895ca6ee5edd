// Package funcadapter turns a plain, typed Go function into a
// module.Module. It is the Go-idiomatic rendering of the original
// Python decorator (`apcore.decorator.module`), which relied on runtime
// type-hint introspection that Go has no equivalent for: per SPEC_FULL.md's
// design note, dynamic kwargs injection is replaced with an explicit
// generic argument struct, detected once via reflection at Wrap time
// rather than per call.
package funcadapter

import (
	"context"
	"reflect"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
	"github.com/aipartnerup/apcore-go/invocation"
	"github.com/aipartnerup/apcore-go/module"
	"github.com/aipartnerup/apcore-go/schema"
)

// Func is the shape every adapted function must have: a typed input
// struct In and output struct Out, with access to both the standard
// context.Context (for cancellation/timeout) and the apcore invocation
// Context (for identity, call chain, shared data).
type Func[In any, Out any] func(ctx context.Context, ictx *invocation.Context, in In) (Out, error)

// Options customizes the descriptor produced for an adapted function.
type Options struct {
	Name          string
	Description   string
	Documentation string
	Version       string
	Tags          []string
	Annotations   module.Annotations
	Examples      []module.Example
}

type funcModule[In any, Out any] struct {
	id      string
	fn      Func[In, Out]
	opts    Options
	inputV  module.Validator
	outputV module.Validator
}

// Wrap derives a module.Module from fn. The zero values of In and Out must
// be structs (or pointers-to-structs are rejected — pass the value type,
// not a pointer) so schema.FromStruct can project their shape; a
// non-struct In panics at Wrap time with a FUNC_MISSING_TYPE_HINT message
// and a non-struct Out with a FUNC_MISSING_RETURN_TYPE message, mirroring the original decorator's eager validation of function
// signatures before the module is ever called.
func Wrap[In any, Out any](id string, fn Func[In, Out], opts Options) module.Module {
	var inZero In
	var outZero Out

	if !isStruct(inZero) {
		panic(apcerrors.NewFuncMissingTypeHint(id, "in").Error())
	}
	if !isStruct(outZero) {
		panic(apcerrors.NewFuncMissingReturnType(id).Error())
	}

	return &funcModule[In, Out]{
		id:      id,
		fn:      fn,
		opts:    opts,
		inputV:  schema.FromStruct(&inZero),
		outputV: schema.FromStruct(&outZero),
	}
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Struct
}

func (f *funcModule[In, Out]) ID() string { return f.id }

func (f *funcModule[In, Out]) Descriptor() module.Descriptor {
	version := f.opts.Version
	if version == "" {
		version = "1.0.0"
	}
	return module.Descriptor{
		ModuleID:      f.id,
		Name:          orDefault(f.opts.Name, f.id),
		Description:   f.opts.Description,
		Documentation: f.opts.Documentation,
		Version:       version,
		Tags:          f.opts.Tags,
		Annotations:   f.opts.Annotations,
		Examples:      f.opts.Examples,
	}
}

func (f *funcModule[In, Out]) InputSchema() module.Validator  { return f.inputV }
func (f *funcModule[In, Out]) OutputSchema() module.Validator { return f.outputV }

func (f *funcModule[In, Out]) Execute(ctx context.Context, ictx *invocation.Context, inputs map[string]any) (map[string]any, error) {
	in, err := decodeInto[In](inputs)
	if err != nil {
		return nil, apcerrors.NewInvalidInput(err.Error())
	}

	out, err := f.fn(ctx, ictx, in)
	if err != nil {
		return nil, err
	}

	return encodeFrom(out)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// decodeInto maps a map[string]any onto a struct value of type T, matching
// fields by their `apcore` tag (falling back to the Go field name).
func decodeInto[T any](inputs map[string]any) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name := field.Tag.Get("apcore")
		if name == "" {
			name = field.Name
		}
		raw, ok := inputs[name]
		if !ok {
			continue
		}
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}
		rawV := reflect.ValueOf(raw)
		if !rawV.IsValid() {
			continue
		}
		if rawV.Type().AssignableTo(fv.Type()) {
			fv.Set(rawV)
		} else if rawV.Type().ConvertibleTo(fv.Type()) {
			fv.Set(rawV.Convert(fv.Type()))
		}
	}

	return out, nil
}

// encodeFrom maps a struct value back onto a map[string]any, using the
// same `apcore` tag convention as decodeInto.
func encodeFrom[T any](value T) (map[string]any, error) {
	rv := reflect.ValueOf(value)
	rt := rv.Type()

	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name := field.Tag.Get("apcore")
		if name == "" {
			name = field.Name
		}
		out[name] = rv.Field(i).Interface()
	}
	return out, nil
}
