package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/gehhilfe/eventorm/core"
)

const eventsTable = "eventorm_events"

// Store persists streams in a PostgreSQL database. All sessions share a
// single *sql.DB pool, so one Store serves any number of keyspaces.
type Store struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against uri and creates the
// backing table when it does not exist yet.
func NewPostgresStore(uri string) (*Store, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Create events table
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS eventorm_events (
			keyspace TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			version BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (keyspace, stream_id, version)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	// Prevent all delete and update on the events table with a before trigger
	_, err = tx.Exec(`
	CREATE OR REPLACE FUNCTION eventorm_prevent_mutation()
	RETURNS TRIGGER AS $$
	BEGIN
		RAISE EXCEPTION 'delete and update are not allowed on the events table';
	END;
	$$ LANGUAGE plpgsql;`)
	if err != nil {
		return fmt.Errorf("failed to create or replace function eventorm_prevent_mutation: %w", err)
	}

	_, err = tx.Exec(`
DO $$
BEGIN
	-- Check if the trigger exists
	IF NOT EXISTS (
		SELECT 1
		FROM pg_trigger
		WHERE tgname = 'eventorm_events_immutable'
	) THEN
		-- Create the trigger if it does not exist
		CREATE TRIGGER eventorm_events_immutable
		BEFORE DELETE OR UPDATE ON eventorm_events
		FOR EACH STATEMENT
		EXECUTE FUNCTION eventorm_prevent_mutation();
	END IF;
END $$;
	`)
	if err != nil {
		return fmt.Errorf("failed to create trigger eventorm_events_immutable: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open returns a session bound to keyspace. Keyspaces need no
// provisioning here, they are plain column values.
func (s *Store) Open(ctx context.Context, keyspace string) (core.Session, error) {
	return &session{db: s.db, keyspace: keyspace}, nil
}
