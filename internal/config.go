package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Upstream modes.
const (
	UpstreamModeHTTP     = "http"
	UpstreamModeFixtures = "fixtures"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Upstream UpstreamConfig    `yaml:"upstream"`
	Fixtures FixturesConfig    `yaml:"fixtures"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
	SSE      SSEConfig         `yaml:"sse"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Upstream.Validate(); err != nil {
		return err
	}
	if c.Upstream.Mode == UpstreamModeFixtures {
		if err := c.Fixtures.Validate(); err != nil {
			return err
		}
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	CORS     CORSConfig `yaml:"cors"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CORSConfig lists the dashboard origins allowed to call the API.
// An empty list disables CORS headers.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UpstreamConfig selects and configures the record backend.
type UpstreamConfig struct {
	Mode       string        `yaml:"mode"`
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	// BulkPageSize is sent by client-filtered views to fetch every row.
	BulkPageSize int `yaml:"bulk_page_size"`
}

// Validate validates the upstream configuration.
func (c *UpstreamConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = UpstreamModeHTTP
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(UpstreamModeHTTP, UpstreamModeFixtures)),
		validation.Field(&c.BaseURL,
			validation.When(c.Mode == UpstreamModeHTTP, validation.Required, is.URL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.BulkPageSize, validation.Min(0)),
	)
}

// FixturesConfig configures fixture mode: JSON and YAML files loaded into a
// SQLite document store.
type FixturesConfig struct {
	Path       string `yaml:"path"`
	Watch      bool   `yaml:"watch"`
	SQLitePath string `yaml:"sqlite_path"`
	// Keys overrides the natural key field per collection.
	Keys map[string]string `yaml:"keys"`
}

// Validate validates the fixtures configuration.
func (c *FixturesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.SQLitePath, validation.Required),
	)
}

// PipelineConfig tunes detail batching and pagination.
type PipelineConfig struct {
	DetailBatchSize int `yaml:"detail_batch_size"`
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DetailBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultPageSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxPageSize, validation.Required, validation.Min(c.DefaultPageSize)),
	)
}

// SSEConfig holds Server-Sent Events configuration.
type SSEConfig struct {
	// Throttle is the minimum interval between view.updated events of one
	// view.
	Throttle time.Duration `yaml:"throttle"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Upstream: UpstreamConfig{
			Mode:         UpstreamModeFixtures,
			Timeout:      15 * time.Second,
			MaxRetries:   2,
			BulkPageSize: 1000,
		},
		Fixtures: FixturesConfig{
			Path:       "./fixtures",
			Watch:      true,
			SQLitePath: "./eduops.db",
		},
		Pipeline: PipelineConfig{
			DetailBatchSize: 10,
			DefaultPageSize: 25,
			MaxPageSize:     200,
		},
		SSE: SSEConfig{
			Throttle: time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
