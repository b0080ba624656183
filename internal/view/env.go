package view

import (
	"github.com/starford/eduops/internal/dataset"
	"github.com/starford/eduops/internal/source"
)

// Env carries the shared dependencies features build their tables from.
type Env struct {
	Backend source.Backend
	// BulkPageSize is sent by client-filtered fetches to approximate "all
	// rows".
	BulkPageSize    int
	DetailBatchSize int
	Options         Options
	OnEvent         func(dataset.Event)
}

// Dataset creates the dataset of the named view.
func (e Env) Dataset(name string, primary source.Fetcher, secondary ...source.Fetcher) *dataset.Dataset {
	return dataset.New(dataset.Config{
		View:            name,
		Primary:         primary,
		Secondary:       secondary,
		DetailBatchSize: e.DetailBatchSize,
		Logger:          e.Options.Logger,
		Metrics:         e.Options.Metrics,
		OnEvent:         e.OnEvent,
	})
}
