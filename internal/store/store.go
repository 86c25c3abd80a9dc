// Package store persists harvested records and session state in a local
// SQLite database. Records are deduplicated on (subject_domain, lookup_key,
// lookup_kind); sessions carry the durable cursor and counters a harvest
// needs to resume after a pause or a crash.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_domain TEXT NOT NULL,
	lookup_key     TEXT NOT NULL,
	lookup_kind    TEXT NOT NULL,
	provider       TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	fetched_at     TIMESTAMP NOT NULL,
	UNIQUE (subject_domain, lookup_key, lookup_kind)
);
CREATE INDEX IF NOT EXISTS idx_records_lookup   ON records (lookup_key, lookup_kind);
CREATE INDEX IF NOT EXISTS idx_records_provider ON records (provider);
CREATE INDEX IF NOT EXISTS idx_records_session  ON records (session_id);
CREATE INDEX IF NOT EXISTS idx_records_stream   ON records (fetched_at, id);

CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	lookup_key      TEXT NOT NULL,
	lookup_kind     TEXT NOT NULL,
	provider        TEXT NOT NULL,
	state           TEXT NOT NULL,
	cursor          TEXT NOT NULL DEFAULT '',
	records_fetched INTEGER NOT NULL DEFAULT 0,
	records_new     INTEGER NOT NULL DEFAULT 0,
	records_dropped INTEGER NOT NULL DEFAULT 0,
	pages_fetched   INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_lookup ON sessions (lookup_key, lookup_kind, provider);
CREATE INDEX IF NOT EXISTS idx_sessions_state  ON sessions (state);
`

// Store wraps the SQLite database holding records and sessions.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// An in-memory database exists per connection; more than one connection
	// would silently shard the data.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle. The schema is assumed to be in
// place. Used by tests that inject a mocked driver.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
