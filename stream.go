package eventorm

import (
	"fmt"
	"iter"

	"github.com/gehhilfe/eventorm/core"
)

// EventStream is an ordered, append-only, deduplicating container of
// events for one identity.
type EventStream struct {
	events  []*Event
	version core.Version
}

// NewEventStream returns an empty stream with CurrentVersion -1.
func NewEventStream() *EventStream {
	return &EventStream{version: core.NoVersion}
}

// NewEventStreamFrom builds a stream from an ordered history, running
// the same checks per event as Add. Loaded events carry their explicit
// versions and are not reassigned.
func NewEventStreamFrom(events ...*Event) (*EventStream, error) {
	s := NewEventStream()
	for _, e := range events {
		if err := s.Add(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends e to the stream. Adding an event equal to one already
// present is a no-op. A stream-opening event on a non-empty stream
// fails with ErrStreamExists. An unset version is assigned
// CurrentVersion()+1; an explicit version is kept as is.
func (s *EventStream) Add(e *Event) error {
	for _, present := range s.events {
		if present.Equal(e) {
			return nil
		}
	}
	if e.typ.opensStream && len(s.events) > 0 {
		return fmt.Errorf("add %s: %w", e.typ.name, ErrStreamExists)
	}
	if e.version == core.NoVersion {
		e.version = s.version + 1
	}
	s.events = append(s.events, e)
	s.version = e.version
	return nil
}

func (s *EventStream) Len() int {
	return len(s.events)
}

// CurrentVersion returns the version of the last event, NoVersion when
// the stream is empty.
func (s *EventStream) CurrentVersion() core.Version {
	return s.version
}

// All yields the events in stored order. The sequence is restartable;
// each range starts from the beginning.
func (s *EventStream) All() iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		for _, e := range s.events {
			if !yield(e) {
				return
			}
		}
	}
}
