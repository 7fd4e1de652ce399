package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/gehhilfe/eventorm/core"
)

type session struct {
	db       *sql.DB
	keyspace string
}

func (s *session) selectRecords() *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("stream_id", "version", "event_type", "data", "created_at")
	sb.From(eventsTable)
	sb.Where(sb.Equal("keyspace", s.keyspace))
	return sb
}

func scanRecord(rows *sql.Rows) (core.Record, error) {
	var r core.Record
	if err := rows.Scan(&r.ID, &r.Version, &r.Type, &r.Data, &r.Timestamp); err != nil {
		return core.Record{}, err
	}
	return r, nil
}

func (s *session) GetStream(ctx context.Context, id string) (core.Iterator, error) {
	sb := s.selectRecords()
	sb.Where(sb.Equal("stream_id", id))
	sb.OrderBy("version").Asc()

	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Pull the first row up front so a missing stream surfaces as an
	// error instead of an empty iterator.
	if !rows.Next() {
		defer rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, core.ErrStreamNotFound
	}

	return func(yield func(core.Record, error) bool) {
		defer rows.Close()

		for {
			r, err := scanRecord(rows)
			if !yield(r, err) || err != nil {
				return
			}
			if !rows.Next() {
				if err := rows.Err(); err != nil {
					yield(core.Record{}, err)
				}
				return
			}
		}
	}, nil
}

func (s *session) AppendToStream(ctx context.Context, id string, records []core.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Check the stream head inside the transaction. Concurrent writers
	// that slip past this check still collide on the primary key.
	var head core.Version
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), -1)
		FROM eventorm_events
		WHERE keyspace = $1 AND stream_id = $2;
	`, s.keyspace, id).Scan(&head)
	if err != nil {
		return err
	}

	next := head + 1
	for _, r := range records {
		if r.Version != next {
			return &core.VersionConflictError{
				ID:       id,
				Expected: next,
				Actual:   r.Version,
			}
		}
		next++
	}

	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO eventorm_events (keyspace, stream_id, version, event_type, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6);
		`, s.keyspace, id, r.Version, r.Type, r.Data, r.Timestamp)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("stream %s at version %d: %w", id, r.Version, core.ErrVersionConflict)
			}
			return err
		}
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *session) All(ctx context.Context) iter.Seq2[core.Stream, error] {
	return func(yield func(core.Stream, error) bool) {
		sb := s.selectRecords()
		sb.OrderBy("stream_id", "version").Asc()

		query, args := sb.Build()
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(core.Stream{}, err)
			return
		}
		defer rows.Close()

		var current core.Stream
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(core.Stream{}, err)
				return
			}
			if current.ID != r.ID {
				if current.ID != "" && !yield(current, nil) {
					return
				}
				current = core.Stream{ID: r.ID}
			}
			current.Records = append(current.Records, r)
		}
		if err := rows.Err(); err != nil {
			yield(core.Stream{}, err)
			return
		}
		if current.ID != "" {
			yield(current, nil)
		}
	}
}

// Close is a no-op, the connection pool is owned by the store.
func (s *session) Close() error {
	return nil
}
