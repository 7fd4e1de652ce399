package memory

import (
	"context"
	"sync"

	"github.com/gehhilfe/eventorm/core"
)

// Store is an in-memory core.Store, used by tests and as the example
// default. Keyspaces are created on first open.
type Store struct {
	lock      sync.Mutex
	keyspaces map[string]*keyspace
}

type keyspace struct {
	lock    sync.Mutex
	streams map[string][]core.Record
}

func NewInMemoryStore() *Store {
	return &Store{
		keyspaces: make(map[string]*keyspace),
	}
}

func (s *Store) Open(ctx context.Context, name string) (core.Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	ks, ok := s.keyspaces[name]
	if !ok {
		ks = &keyspace{streams: make(map[string][]core.Record)}
		s.keyspaces[name] = ks
	}
	return &session{ks: ks}, nil
}
