package eventorm

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Kind is the semantic type of a field.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindDecimal
	KindBool
	KindTime
	KindIdentifier
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindIdentifier:
		return "identifier"
	}
	return "unknown"
}

// Field identifies one declared attribute of a schema. Fields are
// referenced as values, so a misspelled field name is a compile error
// rather than a runtime lookup miss. Two fields identify the same
// attribute when name and kind match.
type Field struct {
	name    string
	kind    Kind
	primary bool
}

type FieldOption func(*Field)

// PrimaryKey marks a field as the schema's natural identifier. Its
// value keys the aggregate's stream in the storage backend.
func PrimaryKey(f *Field) {
	f.primary = true
}

func Text(name string, opts ...FieldOption) Field {
	return newField(name, KindText, opts)
}

func Integer(name string, opts ...FieldOption) Field {
	return newField(name, KindInteger, opts)
}

func Decimal(name string, opts ...FieldOption) Field {
	return newField(name, KindDecimal, opts)
}

func Bool(name string, opts ...FieldOption) Field {
	return newField(name, KindBool, opts)
}

func Time(name string, opts ...FieldOption) Field {
	return newField(name, KindTime, opts)
}

func Identifier(name string, opts ...FieldOption) Field {
	return newField(name, KindIdentifier, opts)
}

func newField(name string, kind Kind, opts []FieldOption) Field {
	f := Field{name: name, kind: kind}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func (f Field) Name() string {
	return f.name
}

func (f Field) Kind() Kind {
	return f.kind
}

func (f Field) IsPrimaryKey() bool {
	return f.primary
}

// Schema is the ordered, immutable set of fields declared by an event
// or aggregate definition.
type Schema struct {
	fields []Field
	index  map[string]int
	pk     int
}

// NewSchema builds a schema from fields in declaration order. It fails
// on unnamed or duplicate fields and on more than one primary key.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: slices.Clone(fields),
		index:  make(map[string]int, len(fields)),
		pk:     -1,
	}
	for i, f := range s.fields {
		if f.name == "" {
			return nil, fmt.Errorf("schema: field %d has no name", i)
		}
		if _, ok := s.index[f.name]; ok {
			return nil, fmt.Errorf("schema: duplicate field %q", f.name)
		}
		s.index[f.name] = i
		if f.primary {
			if s.pk >= 0 {
				return nil, fmt.Errorf("schema: multiple primary keys %q and %q", s.fields[s.pk].name, f.name)
			}
			s.pk = i
		}
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on an invalid declaration.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Len() int {
	return len(s.fields)
}

// Fields yields the declared fields in declaration order.
func (s *Schema) Fields() iter.Seq[Field] {
	return func(yield func(Field) bool) {
		for _, f := range s.fields {
			if !yield(f) {
				return
			}
		}
	}
}

// Lookup returns the declared field with the given name.
func (s *Schema) Lookup(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// PrimaryKey returns the field marked as primary key, if any.
func (s *Schema) PrimaryKey() (Field, bool) {
	if s.pk < 0 {
		return Field{}, false
	}
	return s.fields[s.pk], true
}

// indexOf resolves f against the declaration. Accessing an undeclared
// field is API misuse and panics.
func (s *Schema) indexOf(f Field) int {
	i, ok := s.index[f.name]
	if !ok || s.fields[i].kind != f.kind {
		panic(fmt.Sprintf("eventorm: undeclared field %q (%s)", f.name, f.kind))
	}
	return i
}

// Values holds the per-field state of one entity bound to a schema.
// Unset fields read as nil.
type Values struct {
	schema *Schema
	vals   []any
}

func newValues(s *Schema) Values {
	return Values{schema: s, vals: make([]any, s.Len())}
}

// Get returns the current value of f, nil when unset.
func (v *Values) Get(f Field) any {
	return v.vals[v.schema.indexOf(f)]
}

// Set stores value for f, normalized to the field's kind.
func (v *Values) Set(f Field, value any) {
	i := v.schema.indexOf(f)
	v.vals[i] = normalize(v.schema.fields[i], value)
}

func (v *Values) GetString(f Field) string {
	s, _ := v.Get(f).(string)
	return s
}

func (v *Values) GetInt(f Field) int64 {
	switch n := v.Get(f).(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func (v *Values) GetFloat(f Field) float64 {
	switch n := v.Get(f).(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func (v *Values) GetBool(f Field) bool {
	b, _ := v.Get(f).(bool)
	return b
}

func (v *Values) GetTime(f Field) time.Time {
	t, _ := v.Get(f).(time.Time)
	return t
}

// All yields every declared field and its current value in declaration
// order.
func (v *Values) All() iter.Seq2[Field, any] {
	return func(yield func(Field, any) bool) {
		for i, f := range v.schema.fields {
			if !yield(f, v.vals[i]) {
				return
			}
		}
	}
}

// Project yields the requested fields and their values, preserving
// declaration order. Without arguments it behaves like All.
func (v *Values) Project(only ...Field) iter.Seq2[Field, any] {
	if len(only) == 0 {
		return v.All()
	}
	requested := make(map[int]struct{}, len(only))
	for _, f := range only {
		requested[v.schema.indexOf(f)] = struct{}{}
	}
	return func(yield func(Field, any) bool) {
		for i, f := range v.schema.fields {
			if _, ok := requested[i]; !ok {
				continue
			}
			if !yield(f, v.vals[i]) {
				return
			}
		}
	}
}

func (v *Values) equal(o *Values) bool {
	if v.schema != o.schema {
		return false
	}
	for i := range v.vals {
		if !scalarEqual(v.vals[i], o.vals[i]) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// normalize coerces value to the canonical Go representation of the
// field's kind. A value the kind cannot hold is API misuse and panics.
func normalize(f Field, value any) any {
	if value == nil {
		return nil
	}
	switch f.kind {
	case KindText:
		if s, ok := value.(string); ok {
			return s
		}
	case KindInteger:
		switch n := value.(type) {
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case int64:
			return n
		case float64:
			if n == math.Trunc(n) {
				return int64(n)
			}
		}
	case KindDecimal:
		switch n := value.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	case KindBool:
		if b, ok := value.(bool); ok {
			return b
		}
	case KindTime:
		switch t := value.(type) {
		case time.Time:
			return t
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed
			}
		}
	case KindIdentifier:
		switch id := value.(type) {
		case string:
			return id
		case uuid.UUID:
			return id.String()
		}
	}
	panic(fmt.Sprintf("eventorm: cannot assign %T to %s field %q", value, f.kind, f.name))
}
