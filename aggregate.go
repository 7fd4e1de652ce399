package eventorm

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/huandu/xstrings"

	"github.com/gehhilfe/eventorm/core"
)

// Handler folds one event into aggregate field state.
type Handler func(*Aggregate, *Event)

type registration struct {
	typ     *EventType
	handler Handler
}

// AggregateType is the definition of an aggregate: its name, its
// schema, the keyspace its streams live in, and the registry resolving
// event types to handlers at dispatch and replay time.
type AggregateType struct {
	name     string
	keyspace string
	schema   *Schema
	handlers map[string]registration
}

type AggregateTypeOption func(*AggregateType)

// WithKeyspace overrides the keyspace, which defaults to the
// snake_case form of the aggregate name.
func WithKeyspace(keyspace string) AggregateTypeOption {
	return func(t *AggregateType) {
		t.keyspace = keyspace
	}
}

// NewAggregateType declares an aggregate definition.
func NewAggregateType(name string, schema *Schema, opts ...AggregateTypeOption) *AggregateType {
	t := &AggregateType{
		name:     name,
		keyspace: xstrings.ToSnakeCase(name),
		schema:   schema,
		handlers: make(map[string]registration),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *AggregateType) Name() string {
	return t.name
}

func (t *AggregateType) Keyspace() string {
	return t.keyspace
}

func (t *AggregateType) Schema() *Schema {
	return t.schema
}

// HandleFunc registers the handler folding events of definition et
// into aggregate state. Dispatch and replay resolve event types only
// through this registry; registering a type twice panics.
func (t *AggregateType) HandleFunc(et *EventType, fn Handler) {
	if _, ok := t.handlers[et.name]; ok {
		panic(fmt.Sprintf("eventorm: handler already registered for %q", et.name))
	}
	t.handlers[et.name] = registration{typ: et, handler: fn}
}

// New returns an empty aggregate with version -1.
func (t *AggregateType) New() *Aggregate {
	return &Aggregate{
		typ:         t,
		values:      newValues(t.schema),
		version:     core.NoVersion,
		stored:      NewEventStream(),
		uncommitted: NewEventStream(),
	}
}

// FromStream builds an aggregate by replaying an already loaded
// history.
func (t *AggregateType) FromStream(stream *EventStream) (*Aggregate, error) {
	a := t.New()
	if err := a.FetchEvents(stream); err != nil {
		return nil, err
	}
	return a, nil
}

// loadStream materializes and decodes the backend stream for id.
func (t *AggregateType) loadStream(ctx context.Context, session core.Session, id string) (*EventStream, error) {
	records, err := session.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	stream := NewEventStream()
	for r, err := range records {
		if err != nil {
			return nil, err
		}
		e, err := t.decodeRecord(r)
		if err != nil {
			return nil, err
		}
		if err := stream.Add(e); err != nil {
			return nil, err
		}
	}
	return stream, nil
}

// Aggregate is a stateful projection of one event stream. Events fold
// into field state strictly in order; history splits into a stored
// partition (persisted or loaded) and an uncommitted partition
// (dispatched but unsaved). An Aggregate is not safe for concurrent
// use.
type Aggregate struct {
	typ         *AggregateType
	values      Values
	version     core.Version
	stored      *EventStream
	uncommitted *EventStream
}

func (a *Aggregate) Type() *AggregateType {
	return a.typ
}

// Version returns the last version known to be persisted or loaded,
// NoVersion for a fresh aggregate.
func (a *Aggregate) Version() core.Version {
	return a.version
}

// CurrentVersion returns the version after folding every dispatched
// but unsaved event.
func (a *Aggregate) CurrentVersion() core.Version {
	return a.version + core.Version(a.uncommitted.Len())
}

func (a *Aggregate) Get(f Field) any {
	return a.values.Get(f)
}

func (a *Aggregate) Set(f Field, value any) {
	a.values.Set(f, value)
}

func (a *Aggregate) GetString(f Field) string {
	return a.values.GetString(f)
}

func (a *Aggregate) GetInt(f Field) int64 {
	return a.values.GetInt(f)
}

func (a *Aggregate) GetFloat(f Field) float64 {
	return a.values.GetFloat(f)
}

func (a *Aggregate) GetBool(f Field) bool {
	return a.values.GetBool(f)
}

func (a *Aggregate) GetTime(f Field) time.Time {
	return a.values.GetTime(f)
}

// Dispatch folds events into the aggregate in argument order: the
// registered handler runs, then the event is recorded as uncommitted.
// An event without a version receives CurrentVersion()+1, continuing
// the stored history. A type with no registered handler fails with
// ErrUnhandledEventType before any state change for that event.
func (a *Aggregate) Dispatch(events ...*Event) error {
	for _, e := range events {
		reg, ok := a.typ.handlers[e.typ.name]
		if !ok {
			return fmt.Errorf("dispatch: %w: %s", ErrUnhandledEventType, e.typ.name)
		}
		reg.handler(a, e)
		if e.version == core.NoVersion {
			e.version = a.CurrentVersion() + 1
		}
		if err := a.uncommitted.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// FetchEvents establishes the aggregate's baseline from a loaded
// stream: every event folds into field state and is recorded as
// stored, and Version advances to the stream's CurrentVersion. It
// fails with ErrUncommittedEvents while dispatched events are pending
// and with ErrUnhandledEventType, before folding anything, when the
// stream holds an unregistered type.
func (a *Aggregate) FetchEvents(stream *EventStream) error {
	if a.uncommitted.Len() > 0 {
		return fmt.Errorf("fetch events: %w", ErrUncommittedEvents)
	}
	for e := range stream.All() {
		if _, ok := a.typ.handlers[e.typ.name]; !ok {
			return fmt.Errorf("fetch events: %w: %s", ErrUnhandledEventType, e.typ.name)
		}
	}
	for e := range stream.All() {
		a.typ.handlers[e.typ.name].handler(a, e)
		if err := a.stored.Add(e); err != nil {
			return err
		}
	}
	a.version = a.stored.CurrentVersion()
	return nil
}

// Uncommitted yields the dispatched but unsaved events in version
// order.
func (a *Aggregate) Uncommitted() iter.Seq[*Event] {
	return a.uncommitted.All()
}

// StoredEvents yields the events known to be persisted or loaded, in
// version order.
func (a *Aggregate) StoredEvents() iter.Seq[*Event] {
	return a.stored.All()
}

// AllEvents yields stored then uncommitted events: the full causal
// history in version order.
func (a *Aggregate) AllEvents() iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		for e := range a.stored.All() {
			if !yield(e) {
				return
			}
		}
		for e := range a.uncommitted.All() {
			if !yield(e) {
				return
			}
		}
	}
}

// JSON renders the current field state as a key-sorted JSON object,
// restricted to only when given.
func (a *Aggregate) JSON(only ...Field) ([]byte, error) {
	return encodeValues(&a.values, only...)
}

// key returns the canonical stream id, the aggregate's primary key
// value.
func (a *Aggregate) key() (string, error) {
	pk, ok := a.typ.schema.PrimaryKey()
	if !ok {
		return "", fmt.Errorf("%w: %s declares none", ErrNoPrimaryKey, a.typ.name)
	}
	val := a.values.Get(pk)
	if val == nil {
		return "", fmt.Errorf("%w: %s.%s is unset", ErrNoPrimaryKey, a.typ.name, pk.name)
	}
	return canonicalKey(val), nil
}

func canonicalKey(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Save appends the uncommitted events to the backend under the
// aggregate's key. On success they migrate into the stored partition
// and Version advances to CurrentVersion. On a version conflict the
// backend writes nothing and local state is unchanged; the caller
// should Refresh and retry. Saving with nothing uncommitted is a
// no-op.
func (a *Aggregate) Save(ctx context.Context, store core.Store) error {
	if a.uncommitted.Len() == 0 {
		return nil
	}
	key, err := a.key()
	if err != nil {
		return fmt.Errorf("save %s: %w", a.typ.name, err)
	}
	session, err := store.Open(ctx, a.typ.keyspace)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", a.typ.name, key, err)
	}
	defer session.Close()

	now := time.Now().UTC()
	records := make([]core.Record, 0, a.uncommitted.Len())
	for e := range a.uncommitted.All() {
		// Reject before writing, so a failed save leaves both the
		// backend and the aggregate untouched.
		if e.typ.opensStream && a.stored.Len() > 0 {
			return fmt.Errorf("save %s %s: %s after stored history: %w", a.typ.name, key, e.typ.name, ErrStreamExists)
		}
		r, err := encodeRecord(key, e, now)
		if err != nil {
			return fmt.Errorf("save %s %s: %w", a.typ.name, key, err)
		}
		records = append(records, r)
	}
	if err := session.AppendToStream(ctx, key, records); err != nil {
		return fmt.Errorf("save %s %s: %w", a.typ.name, key, err)
	}
	for e := range a.uncommitted.All() {
		if err := a.stored.Add(e); err != nil {
			return fmt.Errorf("save %s %s: %w", a.typ.name, key, err)
		}
	}
	a.uncommitted = NewEventStream()
	a.version = a.stored.CurrentVersion()
	return nil
}

// Refresh discards the aggregate's state, uncommitted events included,
// and rebuilds it in place from the backend's current stream for the
// same id. External references observe the refreshed state.
func (a *Aggregate) Refresh(ctx context.Context, store core.Store) error {
	key, err := a.key()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", a.typ.name, err)
	}
	session, err := store.Open(ctx, a.typ.keyspace)
	if err != nil {
		return fmt.Errorf("refresh %s %s: %w", a.typ.name, key, err)
	}
	defer session.Close()

	stream, err := a.typ.loadStream(ctx, session, key)
	if err != nil {
		return fmt.Errorf("refresh %s %s: %w", a.typ.name, key, err)
	}
	a.reset()
	if err := a.FetchEvents(stream); err != nil {
		return fmt.Errorf("refresh %s %s: %w", a.typ.name, key, err)
	}
	return nil
}

func (a *Aggregate) reset() {
	a.values = newValues(a.typ.schema)
	a.version = core.NoVersion
	a.stored = NewEventStream()
	a.uncommitted = NewEventStream()
}
