package memory

import (
	"context"
	"iter"
	"maps"
	"slices"

	"github.com/gehhilfe/eventorm/core"
)

type session struct {
	ks *keyspace
}

func (s *session) GetStream(ctx context.Context, id string) (core.Iterator, error) {
	s.ks.lock.Lock()
	stream, ok := s.ks.streams[id]
	if !ok {
		s.ks.lock.Unlock()
		return nil, core.ErrStreamNotFound
	}
	records := slices.Clone(stream)
	s.ks.lock.Unlock()

	return func(yield func(core.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}, nil
}

func (s *session) AppendToStream(ctx context.Context, id string, records []core.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.ks.lock.Lock()
	defer s.ks.lock.Unlock()

	stream := s.ks.streams[id]
	for i, r := range records {
		// Streams are gapless from 0, so the stored length is the next
		// expected version.
		want := core.Version(len(stream) + i)
		if r.Version != want {
			return &core.VersionConflictError{
				ID:       id,
				Expected: want,
				Actual:   r.Version,
			}
		}
	}
	s.ks.streams[id] = append(stream, records...)
	return nil
}

func (s *session) All(ctx context.Context) iter.Seq2[core.Stream, error] {
	return func(yield func(core.Stream, error) bool) {
		s.ks.lock.Lock()
		ids := slices.Sorted(maps.Keys(s.ks.streams))
		s.ks.lock.Unlock()

		for _, id := range ids {
			s.ks.lock.Lock()
			records := slices.Clone(s.ks.streams[id])
			s.ks.lock.Unlock()
			if len(records) == 0 {
				continue
			}
			if !yield(core.Stream{ID: id, Records: records}, nil) {
				return
			}
		}
	}
}

func (s *session) Close() error {
	return nil
}
