package sqlitesource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
)

var _ source.Backend = (*DB)(nil)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListPrimary implements source.Backend. "q" matches any top-level scalar
// field as a case-insensitive substring; every other param must equal the
// field of the same name. Paging params are ignored, so a collection is
// always served whole.
func (db *DB) ListPrimary(ctx context.Context, collection string, params source.Params) ([]record.Raw, error) {
	var (
		where = []string{"collection = ?"}
		args  = []any{collection}
	)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := params[k]
		switch k {
		case "page", "page_size":
			continue
		case "q":
			where = append(where, `EXISTS (
				SELECT 1 FROM json_each(documents.body) j
				WHERE j.type IN ('text', 'integer', 'real')
				AND lower(CAST(j.value AS TEXT)) LIKE ? ESCAPE '\')`)
			args = append(args, "%"+likeEscaper.Replace(strings.ToLower(v))+"%")
		default:
			where = append(where, `CAST(json_extract(body, ?) AS TEXT) = ?`)
			args = append(args, jsonPath(k), v)
		}
	}
	query := `SELECT body FROM documents WHERE ` + strings.Join(where, " AND ") + ` ORDER BY path, seq`
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: list %s: %w", collection, err)
	}
	return scanBodies(rows)
}

// ListSecondary implements source.Backend.
func (db *DB) ListSecondary(ctx context.Context, collection string, ids []string) ([]record.Raw, error) {
	query := `SELECT body FROM documents WHERE collection = ?`
	args := []any{collection}
	if len(ids) > 0 {
		query += ` AND key IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	rows, err := db.conn.QueryContext(ctx, query+` ORDER BY path, seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: list %s: %w", collection, err)
	}
	return scanBodies(rows)
}

// GetDetail implements source.Backend. The first record with key wins; a
// missing key yields nil, nil.
func (db *DB) GetDetail(ctx context.Context, collection, key string) (record.Raw, error) {
	var body string
	err := db.conn.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND key = ? ORDER BY path, seq LIMIT 1`,
		collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: get %s/%s: %w", collection, key, err)
	}
	return decodeBody(body)
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}
