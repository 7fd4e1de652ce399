package bolt

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/gehhilfe/eventorm/core"
)

// Store is a single-file core.Store backed by bbolt. Each keyspace is
// a top-level bucket holding one nested bucket per stream id; keys are
// big endian versions, so cursors walk streams in order.
type Store struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database file at path.
func NewBoltStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open bolt store: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Open(ctx context.Context, keyspace string) (core.Session, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(keyspace))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not open keyspace %s: %v", keyspace, err)
	}
	return &session{db: s.db, keyspace: []byte(keyspace)}, nil
}

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
