// Package parser decodes fixture files into upstream records.
package parser

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/eduops/internal/record"
)

// CollectionSep stands for "/" in fixture file names, so that
// stats__top-performers.json holds the stats/top-performers collection.
const CollectionSep = "__"

// Result is one parsed fixture file.
type Result struct {
	Collection string
	Records    []record.Raw
}

// Collection derives the collection name from a fixture path. Directories
// are ignored; only the base name counts.
func Collection(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.ReplaceAll(base, CollectionSep, "/")
}

// Parse decodes a JSON or YAML fixture. Both accept a bare array of
// objects or an envelope such as {"data": [...]}.
func Parse(p string, data []byte) (*Result, error) {
	res := &Result{Collection: Collection(p)}
	if res.Collection == "" {
		return nil, fmt.Errorf("parser: %s: empty collection name", p)
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".json":
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parser: %s: %w", p, err)
		}
		// Re-encode so JSON and YAML share one decoder and number type.
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("parser: %s: %w", p, err)
		}
		data = b
	default:
		return nil, fmt.Errorf("parser: %s: unsupported fixture type", p)
	}

	recs, err := record.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parser: %s: %w", p, err)
	}
	res.Records = recs
	return res, nil
}
