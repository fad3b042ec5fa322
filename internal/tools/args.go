package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cast"

	"github.com/kalambet/devsearch/internal/apperr"
)

// Schema validates and coerces the raw arguments of one tool.
type Schema interface {
	// JSON returns the JSON Schema document advertised to clients.
	JSON() json.RawMessage
	// Parse coerces raw into the tool's argument value. Failures are
	// validation errors listing every offending field.
	Parse(raw map[string]any) (any, error)
}

// NoArgs is the argument type of tools that take none.
type NoArgs struct{}

// Argument structs may implement these to fill defaults before raw values
// are applied and to check constraints across fields afterwards.
type (
	defaulter interface{ Defaults() }
	validator interface{ Validate() error }
)

type argField struct {
	name  string
	index int
	typ   reflect.Type
}

type structSchema[A any] struct {
	schema *jsonschema.Schema
	raw    json.RawMessage
	fields []argField
}

// Args derives a Schema from the struct type A. Field names come from json
// tags, fields without omitempty are required, and jsonschema tags such as
// minimum, maximum, minLength, maxLength, maxItems and enum bound the values.
func Args[A any]() Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	var zero A
	sch := r.Reflect(&zero)
	sch.Version = ""
	sch.ID = ""
	raw, err := json.Marshal(sch)
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %T: %v", zero, err))
	}

	t := reflect.TypeOf(zero)
	s := &structSchema[A]{schema: sch, raw: raw}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		s.fields = append(s.fields, argField{name: name, index: i, typ: f.Type})
	}
	return s
}

func (s *structSchema[A]) JSON() json.RawMessage { return s.raw }

func (s *structSchema[A]) Parse(raw map[string]any) (any, error) {
	var a A
	if d, ok := any(&a).(defaulter); ok {
		d.Defaults()
	}
	v := reflect.ValueOf(&a).Elem()

	var issues []apperr.FieldIssue
	for _, name := range s.schema.Required {
		if val, ok := raw[name]; !ok || val == nil {
			issues = append(issues, apperr.FieldIssue{Field: name, Message: "is required"})
		}
	}
	for _, f := range s.fields {
		val, ok := raw[f.name]
		if !ok || val == nil {
			continue
		}
		cv, err := coerce(val, f.typ)
		if err != nil {
			issues = append(issues, apperr.FieldIssue{Field: f.name, Message: err.Error()})
			continue
		}
		if prop, ok := s.schema.Properties.Get(f.name); ok {
			if msg := checkBounds(prop, cv); msg != "" {
				issues = append(issues, apperr.FieldIssue{Field: f.name, Message: msg})
				continue
			}
		}
		v.Field(f.index).Set(cv)
	}
	if len(issues) > 0 {
		return nil, apperr.Validation("invalid arguments", issues...)
	}

	if vd, ok := any(&a).(validator); ok {
		if err := vd.Validate(); err != nil {
			if ae, ok := err.(*apperr.Error); ok {
				return nil, ae
			}
			return nil, apperr.Validation(err.Error())
		}
	}
	return a, nil
}

// coerce converts a loosely typed JSON value into t, accepting "5" for 5
// and "true" for true.
func coerce(val any, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		switch val.(type) {
		case map[string]any, []any:
			return reflect.Value{}, fmt.Errorf("must be a string")
		}
		s, err := cast.ToStringE(val)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("must be a string")
		}
		return reflect.ValueOf(s).Convert(t), nil
	case reflect.Bool:
		b, err := cast.ToBoolE(val)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("must be a boolean")
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		if f, ok := val.(float64); ok && f != math.Trunc(f) {
			return reflect.Value{}, fmt.Errorf("must be an integer")
		}
		n, err := cast.ToInt64E(val)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("must be an integer")
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("must be a number")
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			ss, err := cast.ToStringSliceE(val)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("must be a list of strings")
			}
			return reflect.ValueOf(ss).Convert(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unsupported argument type %s", t)
}

// checkBounds returns a message when v violates the keywords of prop.
func checkBounds(prop *jsonschema.Schema, v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		n := uint64(utf8.RuneCountInString(s))
		if prop.MinLength != nil && n < *prop.MinLength {
			return fmt.Sprintf("must be at least %d characters", *prop.MinLength)
		}
		if prop.MaxLength != nil && n > *prop.MaxLength {
			return fmt.Sprintf("must be at most %d characters", *prop.MaxLength)
		}
		return checkEnum(prop.Enum, s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		return checkRange(prop, float64(v.Int()))
	case reflect.Float32, reflect.Float64:
		return checkRange(prop, v.Float())
	case reflect.Slice:
		if prop.MaxItems != nil && uint64(v.Len()) > *prop.MaxItems {
			return fmt.Sprintf("must have at most %d items", *prop.MaxItems)
		}
		if prop.Items == nil {
			return ""
		}
		for i := range v.Len() {
			if msg := checkEnum(prop.Items.Enum, v.Index(i).String()); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func checkRange(prop *jsonschema.Schema, f float64) string {
	if prop.Minimum != "" {
		if lo, err := prop.Minimum.Float64(); err == nil && f < lo {
			return fmt.Sprintf("must be >= %s", prop.Minimum)
		}
	}
	if prop.Maximum != "" {
		if hi, err := prop.Maximum.Float64(); err == nil && f > hi {
			return fmt.Sprintf("must be <= %s", prop.Maximum)
		}
	}
	return ""
}

func checkEnum(enum []any, s string) string {
	if len(enum) == 0 {
		return ""
	}
	allowed := make([]string, len(enum))
	for i, e := range enum {
		allowed[i] = fmt.Sprint(e)
	}
	if slices.Contains(allowed, s) {
		return ""
	}
	return fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))
}
