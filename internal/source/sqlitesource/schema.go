// Package sqlitesource serves fixture records from SQLite through the
// source.Backend contract.
package sqlitesource

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	records    INTEGER NOT NULL DEFAULT 0,
	synced_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
	path       TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	collection TEXT NOT NULL,
	key        TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	PRIMARY KEY (path, seq)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, path, seq);
CREATE INDEX IF NOT EXISTS idx_documents_key ON documents(collection, key);
`

// DB is the fixture document store.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitesource: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitesource: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
