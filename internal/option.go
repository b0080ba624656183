package internal

import (
	"io"

	"github.com/starford/eduops/internal/source"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	backend   source.Backend
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput sends logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithBackend replaces the backend selected by upstream.mode.
func WithBackend(b source.Backend) Option {
	return func(a *application) {
		a.backend = b
	}
}
