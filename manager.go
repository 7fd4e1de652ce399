package eventorm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	slogctx "github.com/veqryn/slog-context"

	"github.com/gehhilfe/eventorm/core"
)

// Manager reconstructs aggregates of one definition from a storage
// backend.
type Manager struct {
	typ    *AggregateType
	store  core.Store
	logger *slog.Logger
}

type ManagerOption func(*Manager)

// WithLogger pins the manager to a logger instead of the one carried
// by the context.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(typ *AggregateType, store core.Store, opts ...ManagerOption) *Manager {
	m := &Manager{typ: typ, store: store}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slogctx.FromCtx(ctx)
}

// Get loads the stream stored for id and replays it into a fresh
// aggregate. It fails with core.ErrStreamNotFound when the backend
// holds no stream for id.
func (m *Manager) Get(ctx context.Context, id any) (*Aggregate, error) {
	pk, ok := m.typ.schema.PrimaryKey()
	if !ok {
		return nil, fmt.Errorf("get %s: %w: %s declares none", m.typ.name, ErrNoPrimaryKey, m.typ.name)
	}
	key := canonicalKey(normalize(pk, id))
	session, err := m.store.Open(ctx, m.typ.keyspace)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", m.typ.name, key, err)
	}
	defer session.Close()

	stream, err := m.typ.loadStream(ctx, session, key)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", m.typ.name, key, err)
	}
	a, err := m.typ.FromStream(stream)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", m.typ.name, key, err)
	}
	m.log(ctx).Debug("rebuilt aggregate",
		slog.String("type", m.typ.name),
		slog.String("id", key),
		slog.Int64("version", int64(a.Version())))
	return a, nil
}

// All lazily enumerates every aggregate in the keyspace, each rebuilt
// from its stream by the same replay path as Get. Order is whatever
// the backend yields; enumeration stops at the first error.
func (m *Manager) All(ctx context.Context) iter.Seq2[*Aggregate, error] {
	logger := m.log(ctx)
	return func(yield func(*Aggregate, error) bool) {
		session, err := m.store.Open(ctx, m.typ.keyspace)
		if err != nil {
			yield(nil, fmt.Errorf("all %s: %w", m.typ.name, err))
			return
		}
		defer session.Close()

		for stream, err := range session.All(ctx) {
			if err != nil {
				yield(nil, fmt.Errorf("all %s: %w", m.typ.name, err))
				return
			}
			a, err := m.replay(stream)
			if err != nil {
				yield(nil, fmt.Errorf("all %s %s: %w", m.typ.name, stream.ID, err))
				return
			}
			logger.Debug("rebuilt aggregate",
				slog.String("type", m.typ.name),
				slog.String("id", stream.ID),
				slog.Int64("version", int64(a.Version())))
			if !yield(a, nil) {
				return
			}
		}
	}
}

func (m *Manager) replay(s core.Stream) (*Aggregate, error) {
	stream := NewEventStream()
	for _, r := range s.Records {
		e, err := m.typ.decodeRecord(r)
		if err != nil {
			return nil, err
		}
		if err := stream.Add(e); err != nil {
			return nil, err
		}
	}
	return m.typ.FromStream(stream)
}
