// Package config loads service settings from an optional YAML file and the
// process environment. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wilhg/snapstore/pkg/store"
)

// Config holds the service configuration.
type Config struct {
	Port           string  `yaml:"port"`
	DatabaseURL    string  `yaml:"database_url"`
	Production     bool    `yaml:"production"`
	LogLevel       string  `yaml:"log_level"`
	Retain         int     `yaml:"retain"`
	AtomicAppend   bool    `yaml:"atomic_append"`
	BodyLimitBytes int64   `yaml:"body_limit_bytes"`
	StaticDir      string  `yaml:"static_dir"`
	TraceStdout    bool    `yaml:"trace_stdout"`
	TraceSample    float64 `yaml:"trace_sample_ratio"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "3000",
		DatabaseURL:    "sqlite:file:snapstore.sqlite?_pragma=busy_timeout(5000)",
		LogLevel:       "info",
		Retain:         store.DefaultRetain,
		BodyLimitBytes: 10 << 20,
	}
}

// Load returns Default merged with the YAML file at path and then the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)

	for _, key := range []string{"APP_ENV", "NODE_ENV"} {
		if v := os.Getenv(key); v != "" {
			c.Production = strings.EqualFold(v, "production")
			break
		}
	}

	var err error
	if c.Retain, err = envInt("SNAPSTORE_RETAIN", c.Retain); err != nil {
		return err
	}
	if c.BodyLimitBytes, err = envInt64("SNAPSTORE_BODY_LIMIT", c.BodyLimitBytes); err != nil {
		return err
	}
	if c.AtomicAppend, err = envBool("SNAPSTORE_ATOMIC_APPEND", c.AtomicAppend); err != nil {
		return err
	}
	if c.TraceStdout, err = envBool("OTEL_STDOUT", c.TraceStdout); err != nil {
		return err
	}
	if v := os.Getenv("OTEL_SAMPLE_RATIO"); v != "" {
		if c.TraceSample, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("OTEL_SAMPLE_RATIO: %w", err)
		}
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("port %q is not a number", c.Port)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Retain < 1 {
		return fmt.Errorf("retain must be >= 1")
	}
	if c.BodyLimitBytes <= 0 {
		return fmt.Errorf("body_limit_bytes must be > 0")
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		return fmt.Errorf("trace_sample_ratio must be within [0, 1]")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string { return ":" + c.Port }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
