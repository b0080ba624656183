// Package fixtures loads JSON and YAML fixture files into the SQLite
// document store and keeps it in step with the directory.
package fixtures

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/eduops/internal/parser"
	"github.com/starford/eduops/internal/source/sqlitesource"
	"github.com/starford/eduops/internal/storage"
)

// DefaultKeyField is the natural key of collections without an entry in
// Keys.
const DefaultKeyField = "id"

// Keys maps a collection to the field holding its natural key.
type Keys map[string]string

// DefaultKeys returns the natural keys of the dashboard collections.
func DefaultKeys() Keys {
	return Keys{
		"licenses":             "license_no",
		"allocations":          "license_no",
		"allocations/details":  "license_no",
		"stats/top-performers": "license_no",
	}
}

// Field returns the key field of collection.
func (k Keys) Field(collection string) string {
	if f, ok := k[collection]; ok && f != "" {
		return f
	}
	return DefaultKeyField
}

// Report summarises one sync pass.
type Report struct {
	// Collections lists every collection whose records changed.
	Collections []string
	Indexed     int
	Removed     int
	Failed      int
}

// Changed reports whether any records changed.
func (r Report) Changed() bool { return r.Indexed > 0 || r.Removed > 0 }

func (r *Report) touch(collection string) {
	if !slices.Contains(r.Collections, collection) {
		r.Collections = append(r.Collections, collection)
	}
}

// Sync brings db up to date with the fixture files in store:
//   - new or changed files are parsed and replaced
//   - files gone from disk are removed with their records
//
// A file that fails to read or parse keeps its previous records.
func Sync(db *sqlitesource.DB, store storage.Provider, keys Keys, logger *slog.Logger) (Report, error) {
	var rep Report
	metas, err := store.List()
	if err != nil {
		return rep, err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return rep, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			rep.Failed++
			logger.Warn("fixtures: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		collection, n, err := loadFile(db, m.Path, storage.Checksum(data), data, keys)
		if err != nil {
			rep.Failed++
			logger.Warn("fixtures: load failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		rep.Indexed++
		rep.touch(collection)
		logger.Debug("fixtures: loaded", slog.String("path", m.Path),
			slog.String("collection", collection), slog.Int("records", n))
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeleteFile(p); err != nil {
			rep.Failed++
			logger.Warn("fixtures: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		rep.Removed++
		rep.touch(parser.Collection(p))
		logger.Debug("fixtures: removed stale", slog.String("path", p))
	}

	slices.Sort(rep.Collections)
	return rep, nil
}

// loadFile parses data and replaces the file's records in db.
func loadFile(db *sqlitesource.DB, path, sum string, data []byte, keys Keys) (string, int, error) {
	res, err := parser.Parse(path, data)
	if err != nil {
		return "", 0, err
	}
	f := sqlitesource.File{Path: path, Collection: res.Collection, Checksum: sum}
	if err := db.ReplaceFile(f, keys.Field(res.Collection), res.Records); err != nil {
		return "", 0, err
	}
	return res.Collection, len(res.Records), nil
}

// FileName returns the fixture file name of collection.
func FileName(collection string) string {
	return strings.ReplaceAll(collection, "/", parser.CollectionSep) + ".json"
}
