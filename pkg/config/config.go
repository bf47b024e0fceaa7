// Package config loads the adapter configuration from TOML
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lucacox/go-lspsync/internal/logging"
)

// Duration is a time.Duration written as a string such as "250ms"
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the whole adapter configuration
type Config struct {
	Log             LogConfig             `toml:"log"`
	Server          ServerConfig          `toml:"server"`
	SemanticTokens  SemanticTokensConfig  `toml:"semantic_tokens"`
	ResourceChanges ResourceChangesConfig `toml:"resource_changes"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `toml:"level"`
	// File receives the log instead of stderr when set
	File string `toml:"file"`
	JSON bool   `toml:"json"`
}

// ServerConfig describes how to reach the language service
type ServerConfig struct {
	// Transport is "process" to spawn Command or "stdio" to talk over
	// the adapter's own stdin and stdout
	Transport      string   `toml:"transport"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Env            []string `toml:"env"`
	RootURI        string   `toml:"root_uri"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// SemanticTokensConfig is what the client declares for semantic tokens
type SemanticTokensConfig struct {
	Enabled        bool     `toml:"enabled"`
	Delta          bool     `toml:"delta"`
	Range          bool     `toml:"range"`
	TokenTypes     []string `toml:"token_types"`
	TokenModifiers []string `toml:"token_modifiers"`
}

// ResourceChangesConfig configures watched files and resource change sessions
type ResourceChangesConfig struct {
	Enabled bool `toml:"enabled"`
	// Watchers are glob patterns used when the service does not send its own
	Watchers []string `toml:"watchers"`
	// ChangeThreshold is the producer threshold, -1 for unbounded
	ChangeThreshold int      `toml:"change_threshold"`
	Debounce        Duration `toml:"debounce"`
	IgnoreHidden    bool     `toml:"ignore_hidden"`
}

// ParseError reports a malformed configuration file
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Transport:      "process",
			RequestTimeout: Duration{10 * time.Second},
		},
		SemanticTokens: SemanticTokensConfig{
			Enabled: true,
			Delta:   true,
			Range:   true,
		},
		ResourceChanges: ResourceChangesConfig{
			Enabled:         true,
			ChangeThreshold: -1,
			Debounce:        Duration{100 * time.Millisecond},
			IgnoreHidden:    true,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes data over the defaults and validates the result. Unknown
// keys are errors.
func Parse(source string, data []byte) (Config, error) {
	cfg := Default()

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return cfg, nil
}

// Validate checks values the decoder cannot
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Server.Transport {
	case "process", "stdio":
	default:
		return fmt.Errorf("unknown transport %q", c.Server.Transport)
	}
	if c.Server.RequestTimeout.Duration < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if c.ResourceChanges.ChangeThreshold < -1 {
		return fmt.Errorf("change_threshold must be -1 or more, got %d", c.ResourceChanges.ChangeThreshold)
	}
	if c.ResourceChanges.Debounce.Duration < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	return nil
}

// Marshal encodes the configuration as TOML
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
