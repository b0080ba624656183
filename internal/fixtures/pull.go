package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/storage"
)

// Pull downloads every collection from backend and writes it to store as a
// JSON fixture. A failing collection does not stop the others; all
// failures are returned joined.
func Pull(ctx context.Context, backend source.Backend, store storage.Provider, collections []string, pageSize int, logger *slog.Logger) ([]string, error) {
	params := source.Params{}
	if pageSize > 0 {
		params["page_size"] = strconv.Itoa(pageSize)
	}

	var (
		written []string
		errs    []error
	)
	for _, c := range collections {
		recs, err := backend.ListPrimary(ctx, c, params)
		if err != nil {
			errs = append(errs, fmt.Errorf("fixtures: pull %s: %w", c, err))
			continue
		}
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("fixtures: encode %s: %w", c, err))
			continue
		}
		name := FileName(c)
		if err := store.Write(name, append(data, '\n')); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("fixtures: pulled", slog.String("collection", c), slog.String("file", name), slog.Int("records", len(recs)))
		written = append(written, name)
	}
	return written, errors.Join(errs...)
}
