package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the entity tables. It is the
// single owner of all tables: components append through its accessors and
// read through its lookups, never by mutating rows in place. Surrogate keys
// are issued by SQLite and stay stable for the lifetime of a database.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens an existing database for query-only use. Unlike NewStore it
// refuses to create a fresh file, since a query against an empty store is
// almost always a configuration mistake.
func Open(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewStore(dbPath)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in joins and transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Extraction tables

CREATE TABLE IF NOT EXISTS groups (
  id              INTEGER PRIMARY KEY,
  name            TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  group_id        INTEGER NOT NULL REFERENCES groups(id),
  path            TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS structs (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  name            TEXT NOT NULL,
  UNIQUE (file_id, name)
);

CREATE TABLE IF NOT EXISTS test_functions (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  struct_id       INTEGER REFERENCES structs(id),
  name            TEXT NOT NULL,
  line            INTEGER NOT NULL,
  entry_point_id  INTEGER REFERENCES test_functions(id),
  body            TEXT,
  external        BOOLEAN NOT NULL DEFAULT FALSE,
  UNIQUE (file_id, name)
);

CREATE TABLE IF NOT EXISTS helper_functions (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  struct_id       INTEGER REFERENCES structs(id),
  name            TEXT NOT NULL,
  receiver_var    TEXT,
  receiver_type   TEXT,
  line            INTEGER NOT NULL,
  body            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS direct_references (
  id              INTEGER PRIMARY KEY,
  helper_id       INTEGER NOT NULL REFERENCES helper_functions(id),
  entity_name     TEXT NOT NULL,
  kind            TEXT NOT NULL,
  body_line       INTEGER NOT NULL,
  context         TEXT
);

CREATE TABLE IF NOT EXISTS template_call_references (
  id               INTEGER PRIMARY KEY,
  test_function_id INTEGER NOT NULL REFERENCES test_functions(id),
  step_index       INTEGER NOT NULL,
  receiver_var     TEXT,
  struct_name      TEXT,
  method_name      TEXT NOT NULL,
  call_expr        TEXT,
  line             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS helper_call_edges (
  id              INTEGER PRIMARY KEY,
  helper_id       INTEGER NOT NULL REFERENCES helper_functions(id),
  target_name     TEXT NOT NULL,
  receiver_var    TEXT,
  struct_name     TEXT,
  kind            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sequential_calls (
  id              INTEGER PRIMARY KEY,
  entry_point_id  INTEGER NOT NULL REFERENCES test_functions(id),
  group_name      TEXT NOT NULL,
  key_name        TEXT NOT NULL,
  referenced_name TEXT NOT NULL,
  step_index      INTEGER NOT NULL
);

-- Resolution tables

CREATE TABLE IF NOT EXISTS indirect_references (
  id               INTEGER PRIMARY KEY,
  template_call_id INTEGER NOT NULL REFERENCES template_call_references(id),
  helper_id        INTEGER REFERENCES helper_functions(id),
  kind             TEXT NOT NULL,
  UNIQUE (template_call_id, helper_id, kind)
);

CREATE TABLE IF NOT EXISTS sequential_references (
  id              INTEGER PRIMARY KEY,
  entry_point_id  INTEGER NOT NULL REFERENCES test_functions(id),
  referenced_id   INTEGER NOT NULL REFERENCES test_functions(id),
  group_name      TEXT NOT NULL,
  key_name        TEXT NOT NULL,
  step_index      INTEGER NOT NULL,
  kind            TEXT NOT NULL,
  unresolved      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_files_group ON files(group_id);
CREATE INDEX IF NOT EXISTS idx_structs_file ON structs(file_id);
CREATE INDEX IF NOT EXISTS idx_structs_name ON structs(name);
CREATE INDEX IF NOT EXISTS idx_test_functions_file ON test_functions(file_id);
CREATE INDEX IF NOT EXISTS idx_test_functions_name ON test_functions(name);
CREATE INDEX IF NOT EXISTS idx_test_functions_entry ON test_functions(entry_point_id);
CREATE INDEX IF NOT EXISTS idx_helper_functions_file ON helper_functions(file_id);
CREATE INDEX IF NOT EXISTS idx_helper_functions_name ON helper_functions(name);
CREATE INDEX IF NOT EXISTS idx_helper_functions_struct ON helper_functions(struct_id);
CREATE INDEX IF NOT EXISTS idx_direct_refs_helper ON direct_references(helper_id);
CREATE INDEX IF NOT EXISTS idx_direct_refs_entity ON direct_references(entity_name);
CREATE INDEX IF NOT EXISTS idx_template_calls_test ON template_call_references(test_function_id);
CREATE INDEX IF NOT EXISTS idx_template_calls_method ON template_call_references(method_name);
CREATE INDEX IF NOT EXISTS idx_helper_call_edges_helper ON helper_call_edges(helper_id);
CREATE INDEX IF NOT EXISTS idx_sequential_calls_entry ON sequential_calls(entry_point_id);
CREATE INDEX IF NOT EXISTS idx_indirect_refs_call ON indirect_references(template_call_id);
CREATE INDEX IF NOT EXISTS idx_indirect_refs_helper ON indirect_references(helper_id);
CREATE INDEX IF NOT EXISTS idx_sequential_refs_entry ON sequential_references(entry_point_id);
CREATE INDEX IF NOT EXISTS idx_sequential_refs_referenced ON sequential_references(referenced_id);
`

// --- Metadata operations ---

func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}
