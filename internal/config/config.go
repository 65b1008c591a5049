// Package config loads mendpatch settings from a config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/mendpatch/internal/callgraph"
	"github.com/phobologic/mendpatch/internal/skipped"
)

// EnvPrefix prefixes environment overrides, e.g. MENDPATCH_WORKERS or
// MENDPATCH_DETECTOR_THRESHOLD.
const EnvPrefix = "MENDPATCH"

// FileName is the config file looked up in the working directory, without
// extension.
const FileName = ".mendpatch"

// Config holds every tunable.
type Config struct {
	// Workers bounds parallel parsing and reconciliation.
	Workers int `mapstructure:"workers"`
	// MaxFileSize skips source files larger than this many bytes.
	MaxFileSize int64    `mapstructure:"max_file_size"`
	Languages   []string `mapstructure:"languages"`
	// LineWindow is the tolerance for test report line numbers.
	LineWindow int             `mapstructure:"line_window"`
	LogLevel   string          `mapstructure:"log_level"`
	Format     string          `mapstructure:"format"`
	Detector   skipped.Options `mapstructure:"detector"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workers:     runtime.GOMAXPROCS(0),
		MaxFileSize: 1_000_000,
		LineWindow:  callgraph.DefaultLineWindow,
		LogLevel:    "info",
		Format:      "toon",
		Detector:    skipped.DefaultOptions(),
	}
}

// settings flattens c into viper keys.
func settings(c Config) map[string]any {
	if c.Languages == nil {
		c.Languages = []string{}
	}
	return map[string]any{
		"workers":                    c.Workers,
		"max_file_size":              c.MaxFileSize,
		"languages":                  c.Languages,
		"line_window":                c.LineWindow,
		"log_level":                  c.LogLevel,
		"format":                     c.Format,
		"detector.threshold":         c.Detector.Threshold,
		"detector.min_removed_lines": c.Detector.MinRemovedLines,
		"detector.max_marker_lines":  c.Detector.MaxMarkerLines,
		"detector.marker_share":      c.Detector.MarkerShare,
		"detector.phrases":           c.Detector.Phrases,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range settings(Default()) {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or .mendpatch.{yaml,json,toml} in the working directory
// when path is empty. A missing default file is not an error; a missing
// explicit one is.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write saves c to path. The format follows the file extension.
func Write(path string, c Config) error {
	v := viper.New()
	for k, val := range settings(c) {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// Encode renders c as the YAML document Write would produce for a .yaml path.
func Encode(c Config) ([]byte, error) {
	doc := make(map[string]any)
	for k, val := range settings(c) {
		section, key, nested := strings.Cut(k, ".")
		if !nested {
			doc[k] = val
			continue
		}
		m, _ := doc[section].(map[string]any)
		if m == nil {
			m = make(map[string]any)
			doc[section] = m
		}
		m[key] = val
	}
	return yaml.Marshal(doc)
}

// Error reports an invalid setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config error in field %q: %s", e.Field, e.Message)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return &Error{Field: "workers", Message: "must not be negative"}
	}
	if c.MaxFileSize < 0 {
		return &Error{Field: "max_file_size", Message: "must not be negative"}
	}
	if c.Format != "toon" && c.Format != "json" {
		return &Error{Field: "format", Message: fmt.Sprintf("unknown format %q", c.Format)}
	}
	if _, err := c.Level(); err != nil {
		return &Error{Field: "log_level", Message: err.Error()}
	}
	if t := c.Detector.Threshold; t <= 0 || t > 1 {
		return &Error{Field: "detector.threshold", Message: "must be in (0, 1]"}
	}
	if s := c.Detector.MarkerShare; s <= 0 || s > 1 {
		return &Error{Field: "detector.marker_share", Message: "must be in (0, 1]"}
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}
