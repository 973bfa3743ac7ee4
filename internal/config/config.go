// Package config loads the allotment configuration: a CUE file unified with
// an embedded schema, then overridden from the environment.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Config is the decoded configuration.
type Config struct {
	Token     Token     `json:"token"`
	Admin     string    `json:"admin" env:"ALLOTMENT_ADMIN"`
	Manager   string    `json:"manager"`
	Funding   Funding   `json:"funding"`
	Database  string    `json:"database" env:"ALLOTMENT_DATABASE"`
	Log       Log       `json:"log"`
	Telemetry Telemetry `json:"telemetry"`
}

// Token describes the managed asset.
type Token struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Cap      string `json:"cap"` // whole tokens
}

// Funding selects how new allotments are paid into custody.
type Funding struct {
	Policy   string `json:"policy"`
	Treasury string `json:"treasury,omitempty"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `json:"level" env:"ALLOTMENT_LOG_LEVEL"`
	Format string `json:"format" env:"ALLOTMENT_LOG_FORMAT"`
}

// Telemetry configures tracing.
type Telemetry struct {
	Endpoint string `json:"endpoint" env:"ALLOTMENT_OTEL_ENDPOINT"`
	Service  string `json:"service"`
}

// Default returns the built-in configuration, with environment overrides.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the CUE file at path, validates it against the schema and
// applies environment overrides. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	return Parse(path, src)
}

// Parse is Load for in-memory CUE source. name is used in error messages.
func Parse(name string, src []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file := ctx.CompileString("{}")
	if len(src) > 0 {
		file = ctx.CompileBytes(src, cue.Filename(name))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(name, err)
		}
	}

	v := def.Unify(file)
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(name, err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(name, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// formatCUEError reports the first CUE error with its position.
func formatCUEError(name string, err error) error {
	if name == "" {
		name = "config"
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %s", name, strings.TrimSpace(errors.Details(errs[0], nil)))
}

// Validate checks the fields environment overrides can break and the
// cross-field rules the schema does not express.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: expected text or json", c.Log.Format)
	}
	if strings.TrimSpace(c.Admin) == "" {
		return fmt.Errorf("admin must not be empty")
	}
	if c.Funding.Policy == "treasury" && c.Funding.Treasury == "" {
		return fmt.Errorf("funding policy treasury requires funding.treasury")
	}
	return nil
}

// Genesis returns the journal genesis the configuration describes.
func (c *Config) Genesis() (store.Genesis, error) {
	supplyCap, err := ir.ParseAmount(c.Token.Cap, c.Token.Decimals)
	if err != nil {
		return store.Genesis{}, fmt.Errorf("token cap: %w", err)
	}
	g := store.Genesis{
		Admin:    c.Admin,
		Manager:  c.Manager,
		Cap:      supplyCap.String(),
		Decimals: c.Token.Decimals,
		Funding:  c.Funding.Policy,
		Treasury: c.Funding.Treasury,
	}
	if err := engine.ValidateGenesis(g); err != nil {
		return store.Genesis{}, err
	}
	return g, nil
}

// Logger builds the slog logger the configuration describes. verbose forces
// debug level.
func (c *Config) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level %q: expected debug, info, warn or error", s)
	}
}
