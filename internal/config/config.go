// Package config loads revsync settings from YAML and validates them against
// an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the complete revsync configuration.
type Config struct {
	Document           string       `yaml:"document" json:"document"`
	Author             string       `yaml:"author" json:"author,omitempty"`
	CheckpointInterval int64        `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	Store              StoreConfig  `yaml:"store" json:"store"`
	Server             ServerConfig `yaml:"server" json:"server"`
	Log                LogConfig    `yaml:"log" json:"log"`
}

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	Driver      string   `yaml:"driver" json:"driver"`
	Path        string   `yaml:"path" json:"path,omitempty"`
	RedisAddr   string   `yaml:"redis_addr" json:"redis_addr,omitempty"`
	RedisPrefix string   `yaml:"redis_prefix" json:"redis_prefix,omitempty"`
	RedisDB     int      `yaml:"redis_db" json:"redis_db,omitempty"`
	Writers     []string `yaml:"writers" json:"writers,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr          string `yaml:"addr" json:"addr"`
	SubmitTimeout string `yaml:"submit_timeout" json:"submit_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Document:           "main",
		CheckpointInterval: 100,
		Store: StoreConfig{
			Driver:      DriverSQLite,
			Path:        "revsync.db",
			RedisPrefix: "revsync",
		},
		Server: ServerConfig{
			Addr:          ":8080",
			SubmitTimeout: "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and validates the YAML file at path. Fields missing from the
// file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError lists every schema violation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config: %d problems: %v", len(e.Problems), e.Problems)
}

// Validate checks c against the CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, e.Error())
		}
		return &ValidationError{Problems: problems}
	}

	if _, err := time.ParseDuration(c.Server.SubmitTimeout); err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("server.submit_timeout: %v", err)}}
	}
	return nil
}

// SubmitTimeout returns the parsed server submit timeout.
func (c Config) SubmitTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.SubmitTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// LogLevel returns the slog level for Log.Level.
func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
