package eventorm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gehhilfe/eventorm/core"
)

func encodeValues(v *Values, only ...Field) ([]byte, error) {
	obj := make(map[string]any, v.schema.Len())
	for f, val := range v.Project(only...) {
		obj[f.name] = val
	}
	return json.Marshal(obj)
}

// encodeRecord converts a versioned event into its persisted form.
func encodeRecord(id string, e *Event, at time.Time) (core.Record, error) {
	data, err := encodeValues(&e.values)
	if err != nil {
		return core.Record{}, fmt.Errorf("encode %s: %w", e.typ.name, err)
	}
	return core.Record{
		ID:        id,
		Type:      e.typ.name,
		Version:   e.version,
		Timestamp: at,
		Data:      data,
	}, nil
}

// decodeRecord rebuilds an event from its persisted form, resolving the
// definition through the aggregate's registry.
func (t *AggregateType) decodeRecord(r core.Record) (*Event, error) {
	reg, ok := t.handlers[r.Type]
	if !ok {
		return nil, fmt.Errorf("decode record %s@%d: %w: %s", r.ID, r.Version, ErrUnhandledEventType, r.Type)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(r.Data, &raw); err != nil {
		return nil, fmt.Errorf("decode record %s@%d: %w", r.ID, r.Version, err)
	}
	vals := make(V, len(raw))
	for name, val := range raw {
		f, ok := reg.typ.schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("decode record %s@%d: field %q not declared by %s", r.ID, r.Version, name, r.Type)
		}
		if val == nil {
			continue
		}
		vals[f] = val
	}
	return reg.typ.NewAt(r.Version, vals), nil
}
