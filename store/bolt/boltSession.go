package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gehhilfe/eventorm/core"
)

type boltRecord struct {
	Type      string          `json:"type"`
	Version   core.Version    `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type session struct {
	db       *bbolt.DB
	keyspace []byte
}

func (s *session) GetStream(ctx context.Context, id string) (core.Iterator, error) {
	exists := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		ks := tx.Bucket(s.keyspace)
		if ks == nil {
			return nil
		}
		exists = ks.Bucket([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, core.ErrStreamNotFound
	}

	return func(yield func(core.Record, error) bool) {
		tx, err := s.db.Begin(false)
		if err != nil {
			yield(core.Record{}, err)
			return
		}
		defer tx.Rollback()

		ks := tx.Bucket(s.keyspace)
		if ks == nil {
			return
		}
		bucket := ks.Bucket([]byte(id))
		if bucket == nil {
			return
		}
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			r, err := decodeRecord(id, v)
			if err != nil {
				yield(core.Record{}, err)
				return
			}
			if !yield(r, nil) {
				// Close the read transaction
				return
			}
		}
	}, nil
}

func (s *session) AppendToStream(ctx context.Context, id string, records []core.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		ks := tx.Bucket(s.keyspace)
		if ks == nil {
			return fmt.Errorf("could not find keyspace bucket %s", string(s.keyspace))
		}
		bucket, err := ks.CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return errors.New("could not create stream bucket")
		}

		next := core.Version(0)
		if k, _ := bucket.Cursor().Last(); k != nil {
			next = core.Version(binary.BigEndian.Uint64(k)) + 1
		}

		for _, r := range records {
			if r.Version != next {
				return &core.VersionConflictError{
					ID:       id,
					Expected: next,
					Actual:   r.Version,
				}
			}
			value, err := json.Marshal(boltRecord{
				Type:      r.Type,
				Version:   r.Version,
				Timestamp: r.Timestamp,
				Data:      r.Data,
			})
			if err != nil {
				return fmt.Errorf("could not serialize record: %v", err)
			}
			if err := bucket.Put(itob(uint64(r.Version)), value); err != nil {
				return fmt.Errorf("could not save record: %v", err)
			}
			next++
		}
		return nil
	})
}

func (s *session) All(ctx context.Context) iter.Seq2[core.Stream, error] {
	return func(yield func(core.Stream, error) bool) {
		tx, err := s.db.Begin(false)
		if err != nil {
			yield(core.Stream{}, err)
			return
		}
		defer tx.Rollback()

		ks := tx.Bucket(s.keyspace)
		if ks == nil {
			return
		}
		cursor := ks.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if v != nil {
				// Only nested buckets hold streams.
				continue
			}
			id := string(k)
			bucket := ks.Bucket(k)
			if bucket == nil {
				continue
			}
			stream := core.Stream{ID: id}
			sc := bucket.Cursor()
			for sk, sv := sc.First(); sk != nil; sk, sv = sc.Next() {
				r, err := decodeRecord(id, sv)
				if err != nil {
					yield(core.Stream{}, err)
					return
				}
				stream.Records = append(stream.Records, r)
			}
			if !yield(stream, nil) {
				return
			}
		}
	}
}

func (s *session) Close() error {
	return nil
}

func decodeRecord(id string, value []byte) (core.Record, error) {
	var br boltRecord
	if err := json.Unmarshal(value, &br); err != nil {
		return core.Record{}, fmt.Errorf("could not deserialize record: %v", err)
	}
	return core.Record{
		ID:        id,
		Type:      br.Type,
		Version:   br.Version,
		Timestamp: br.Timestamp,
		Data:      br.Data,
	}, nil
}
