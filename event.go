package eventorm

import (
	"time"

	"github.com/gehhilfe/eventorm/core"
)

// V carries field values for event construction, keyed by the declared
// field identifiers.
type V map[Field]any

// EventType is the immutable definition of one event: its type tag,
// its schema, and whether an instance opens a stream.
type EventType struct {
	name        string
	schema      *Schema
	opensStream bool
}

type EventTypeOption func(*EventType)

// StreamOpener marks the definition as stream opening: an instance may
// only ever be the first event of a stream.
func StreamOpener() EventTypeOption {
	return func(t *EventType) {
		t.opensStream = true
	}
}

// NewEventType declares an event definition.
func NewEventType(name string, schema *Schema, opts ...EventTypeOption) *EventType {
	t := &EventType{name: name, schema: schema}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *EventType) Name() string {
	return t.name
}

func (t *EventType) Schema() *Schema {
	return t.schema
}

// OpensStream reports whether instances of this definition open a
// stream.
func (t *EventType) OpensStream() bool {
	return t.opensStream
}

// New constructs an event with an unset version; the version is
// assigned when the event enters a stream.
func (t *EventType) New(vals V) *Event {
	return t.NewAt(core.NoVersion, vals)
}

// NewAt constructs an event carrying an explicit version, the path
// taken when history is reconstituted from storage.
func (t *EventType) NewAt(version core.Version, vals V) *Event {
	e := &Event{typ: t, values: newValues(t.schema), version: version}
	for f, val := range vals {
		e.values.Set(f, val)
	}
	return e
}

// Event is an immutable fact. Only its version changes, exactly once,
// when the event enters a stream.
type Event struct {
	typ     *EventType
	values  Values
	version core.Version
}

func (e *Event) Type() *EventType {
	return e.typ
}

func (e *Event) Version() core.Version {
	return e.version
}

func (e *Event) Get(f Field) any {
	return e.values.Get(f)
}

func (e *Event) GetString(f Field) string {
	return e.values.GetString(f)
}

func (e *Event) GetInt(f Field) int64 {
	return e.values.GetInt(f)
}

func (e *Event) GetFloat(f Field) float64 {
	return e.values.GetFloat(f)
}

func (e *Event) GetBool(f Field) bool {
	return e.values.GetBool(f)
}

func (e *Event) GetTime(f Field) time.Time {
	return e.values.GetTime(f)
}

// Equal reports whether both events share the definition, the version
// slot, and every field value. A stored event that has been assigned a
// version is therefore not equal to a fresh, unversioned twin.
func (e *Event) Equal(o *Event) bool {
	if e == o {
		return true
	}
	if o == nil || e.typ != o.typ || e.version != o.version {
		return false
	}
	return e.values.equal(&o.values)
}
