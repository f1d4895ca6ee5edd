// Package schema provides the default module.Validator implementation,
// projecting a Go struct's tags onto the runtime map[string]any shape
// modules actually exchange.
package schema

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
	"github.com/aipartnerup/apcore-go/module"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func sharedValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// FromStruct builds a module.Validator that validates map[string]any
// inputs/outputs against the shape of the given struct type. Pass a nil
// pointer of the target type, e.g. FromStruct((*AddInput)(nil)).
//
// Struct field tags recognized:
//
//	apcore:"name"       overrides the field's projected name (default: the Go field name).
//	validate:"..."       forwarded verbatim to go-playground/validator.
//	sensitive:"true"     marks the field for redaction before logging (see executor.redactSensitive).
func FromStruct(structPtr any) module.Validator {
	t := reflect.TypeOf(structPtr)
	if t == nil {
		panic("schema.FromStruct: structPtr must not be nil")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("schema.FromStruct: structPtr must point to a struct")
	}
	return &structValidator{typ: t}
}

type structValidator struct {
	typ reflect.Type
}

func (s *structValidator) fieldName(f reflect.StructField) string {
	return fieldName(f)
}

// Validate decodes value into a zero instance of the target struct
// (matching projected field names) and runs go-playground/validator
// against it, translating failures into the apcore field/code/message
// shape.
func (s *structValidator) Validate(value map[string]any) module.ValidationResult {
	instance := reflect.New(s.typ)

	for i := 0; i < s.typ.NumField(); i++ {
		f := s.typ.Field(i)
		name := s.fieldName(f)
		raw, present := value[name]
		if !present {
			continue
		}
		fv := instance.Elem().Field(i)
		if !fv.CanSet() {
			continue
		}
		rv := reflect.ValueOf(raw)
		if rv.IsValid() && rv.Type().AssignableTo(fv.Type()) {
			fv.Set(rv)
		} else if rv.IsValid() && rv.Type().ConvertibleTo(fv.Type()) {
			fv.Set(rv.Convert(fv.Type()))
		}
	}

	if err := sharedValidator().Struct(instance.Interface()); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return module.ValidationResult{
				Valid:  false,
				Errors: []map[string]string{{"field": "", "code": "invalid", "message": err.Error()}},
			}
		}
		errs := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			errs = append(errs, map[string]string{
				"field":   fe.Field(),
				"code":    fe.Tag(),
				"message": fmt.Sprintf("%s failed validation %q", fe.Field(), fe.Tag()),
			})
		}
		return module.ValidationResult{Valid: false, Errors: errs}
	}

	return module.ValidationResult{Valid: true}
}

// Project renders the struct's shape as a SchemaNode tree, used for
// descriptor export and for executor-side redaction of sensitive fields.
// Nested struct fields (and slices of structs) are projected recursively,
// so a sensitive field several levels deep still shows up in Children.
func (s *structValidator) Project() module.SchemaNode {
	return projectType(s.typ)
}

func projectType(t reflect.Type) module.SchemaNode {
	root := module.SchemaNode{Name: "", Type: "object"}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		root.Children = append(root.Children, projectField(f))
	}
	sort.Slice(root.Children, func(i, j int) bool { return root.Children[i].Name < root.Children[j].Name })
	return root
}

func projectField(f reflect.StructField) module.SchemaNode {
	name := fieldName(f)
	required := false
	if tag := f.Tag.Get("validate"); tag != "" {
		required = containsRequired(tag)
	}

	node := module.SchemaNode{
		Name:      name,
		Type:      f.Type.Kind().String(),
		Required:  required,
		Sensitive: f.Tag.Get("sensitive") == "true",
	}

	ft := f.Type
	if ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}
	switch {
	case ft.Kind() == reflect.Struct:
		node.Children = projectType(ft).Children
	case ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array:
		elem := ft.Elem()
		if elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
		if elem.Kind() == reflect.Struct {
			node.Children = projectType(elem).Children
		}
	}
	return node
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("apcore"); tag != "" {
		return tag
	}
	return f.Name
}

func containsRequired(tag string) bool {
	for _, part := range splitTag(tag) {
		if part == "required" {
			return true
		}
	}
	return false
}

func splitTag(tag string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			out = append(out, tag[start:i])
			start = i + 1
		}
	}
	return out
}

// ValidationResultToError converts a failed module.ValidationResult into a
// *errors.ModuleError suitable for returning to a caller.
func ValidationResultToError(res module.ValidationResult) error {
	if res.Valid {
		return nil
	}
	return apcerrors.NewSchemaValidationError("", res.Errors)
}
