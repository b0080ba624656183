package sqlitesource

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/starford/eduops/internal/record"
)

// File is the sync state of one fixture file.
type File struct {
	Path       string
	Collection string
	Checksum   string
	Records    int
}

// ReplaceFile stores the records of one fixture file, replacing whatever
// the file held before. keyField names the natural key used by detail and
// id look-ups.
func (db *DB) ReplaceFile(f File, keyField string, records []record.Raw) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("sqlitesource: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, f.Path); err != nil {
		return fmt.Errorf("sqlitesource: clear file: %w", err)
	}
	if len(records) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO documents (path, seq, collection, key, body) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("sqlitesource: prepare insert: %w", err)
		}
		defer stmt.Close()
		for i, r := range records {
			body, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("sqlitesource: encode record %d: %w", i, err)
			}
			if _, err := stmt.Exec(f.Path, i, f.Collection, r.String(keyField), string(body)); err != nil {
				return fmt.Errorf("sqlitesource: insert record %d: %w", i, err)
			}
		}
	}

	_, err = tx.Exec(`
		INSERT INTO files (path, collection, checksum, records, synced_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			collection = excluded.collection,
			checksum   = excluded.checksum,
			records    = excluded.records,
			synced_at  = excluded.synced_at
	`, f.Path, f.Collection, f.Checksum, len(records))
	if err != nil {
		return fmt.Errorf("sqlitesource: upsert file: %w", err)
	}
	return tx.Commit()
}

// DeleteFile removes a fixture file and its records.
func (db *DB) DeleteFile(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("sqlitesource: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("sqlitesource: delete documents: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("sqlitesource: delete file: %w", err)
	}
	return tx.Commit()
}

// AllChecksums returns the stored checksum of every synced file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM files`)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Files returns the sync state of every file ordered by path.
func (db *DB) Files() ([]File, error) {
	rows, err := db.conn.Query(`SELECT path, collection, checksum, records FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: files: %w", err)
	}
	defer rows.Close()
	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Collection, &f.Checksum, &f.Records); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanBodies(rows *sql.Rows) ([]record.Raw, error) {
	defer rows.Close()
	out := []record.Raw{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlitesource: scan: %w", err)
		}
		r, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeBody(body string) (record.Raw, error) {
	var r record.Raw
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("sqlitesource: decode body: %w", err)
	}
	return r, nil
}
