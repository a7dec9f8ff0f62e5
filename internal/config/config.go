// Package config handles configuration parsing from CLI flags, environment
// variables, and YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	// Tokens is the list of bot tokens to pool. Comma-separated in flag and
	// environment form.
	Tokens []string `yaml:"tokens"`
	// MetricsPort is the metrics server port.
	MetricsPort int `yaml:"metrics_port"`
	// FailureThreshold is the number of reported failures before a
	// credential enters cooldown.
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is how long a credential stays suspended after crossing the
	// failure threshold.
	Cooldown time.Duration `yaml:"cooldown"`
	// StalenessCap bounds the selection bonus for idle credentials.
	StalenessCap time.Duration `yaml:"staleness_cap"`
	// APIBaseURL is the Bot API endpoint.
	APIBaseURL string `yaml:"api_base_url"`
	// DialTimeout bounds session establishment per credential.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// RequestTimeout bounds each Bot API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RatePerSecond and RateBurst configure per-session call pacing.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
	// RetryAttempts bounds retries of flood-waited Bot API calls.
	RetryAttempts uint `yaml:"retry_attempts"`
	// LogLevel is the logging level (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFormat is the log format (json, text).
	LogFormat string `yaml:"log_format"`
	// ConfigFile is the optional config file path.
	ConfigFile string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MetricsPort:      9090,
		FailureThreshold: 3,
		Cooldown:         15 * time.Minute,
		StalenessCap:     10 * time.Minute,
		APIBaseURL:       "https://api.telegram.org",
		DialTimeout:      30 * time.Second,
		RequestTimeout:   30 * time.Second,
		RatePerSecond:    20,
		RateBurst:        5,
		RetryAttempts:    3,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// ParseFlags parses command line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	pflag.StringSliceVar(&cfg.Tokens, "tokens", nil, "Comma-separated list of bot tokens")
	pflag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics server port")
	pflag.IntVar(&cfg.FailureThreshold, "failure-threshold", cfg.FailureThreshold, "Failures before a credential enters cooldown")
	pflag.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Credential cooldown duration")
	pflag.DurationVar(&cfg.StalenessCap, "staleness-cap", cfg.StalenessCap, "Idle-time cap for selection weighting")
	pflag.StringVar(&cfg.APIBaseURL, "api-base-url", cfg.APIBaseURL, "Bot API base URL")
	pflag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Session establishment timeout")
	pflag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Bot API request timeout")
	pflag.Float64Var(&cfg.RatePerSecond, "rate-per-second", cfg.RatePerSecond, "Bot API calls per second per session")
	pflag.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Bot API call burst per session")
	pflag.UintVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "Retry attempts for flood-waited calls")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	pflag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")
	pflag.StringVar(&cfg.ConfigFile, "config", "", "Config file path (YAML)")

	pflag.Parse()

	// Env vars take precedence over defaults, CLI flags over env vars
	loadFromEnv(cfg)

	// If config file specified, load it first, then override with flags
	if cfg.ConfigFile != "" {
		fileCfg, err := LoadFromFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = mergeConfigs(fileCfg, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// mergeConfigs merges file config with CLI config. CLI flags take precedence.
func mergeConfigs(file, cli *Config) *Config {
	result := *file

	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "tokens":
			result.Tokens = cli.Tokens
		case "metrics-port":
			result.MetricsPort = cli.MetricsPort
		case "failure-threshold":
			result.FailureThreshold = cli.FailureThreshold
		case "cooldown":
			result.Cooldown = cli.Cooldown
		case "staleness-cap":
			result.StalenessCap = cli.StalenessCap
		case "api-base-url":
			result.APIBaseURL = cli.APIBaseURL
		case "dial-timeout":
			result.DialTimeout = cli.DialTimeout
		case "request-timeout":
			result.RequestTimeout = cli.RequestTimeout
		case "rate-per-second":
			result.RatePerSecond = cli.RatePerSecond
		case "rate-burst":
			result.RateBurst = cli.RateBurst
		case "retry-attempts":
			result.RetryAttempts = cli.RetryAttempts
		case "log-level":
			result.LogLevel = cli.LogLevel
		case "log-format":
			result.LogFormat = cli.LogFormat
		}
	})

	return &result
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	tokens := make([]string, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	c.Tokens = tokens

	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one bot token is required (--tokens)")
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure-threshold must be at least 1")
	}

	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive")
	}

	if c.StalenessCap <= 0 {
		return fmt.Errorf("staleness-cap must be positive")
	}

	if c.APIBaseURL == "" {
		return fmt.Errorf("api-base-url is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial-timeout must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive")
	}

	if c.RatePerSecond <= 0 {
		return fmt.Errorf("rate-per-second must be positive")
	}

	if c.RateBurst < 1 {
		return fmt.Errorf("rate-burst must be at least 1")
	}

	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry-attempts must be at least 1")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables with TG_PARSE_
// prefix. Env vars take precedence over defaults but CLI flags take
// precedence over env vars.
func loadFromEnv(cfg *Config) {
	getEnvString := func(key string) (string, bool) {
		v := os.Getenv("TG_PARSE_" + key)
		return v, v != ""
	}

	getEnvInt := func(key string) (int, bool) {
		if v, ok := getEnvString(key); ok {
			if i, err := strconv.Atoi(v); err == nil {
				return i, true
			}
		}
		return 0, false
	}

	getEnvFloat := func(key string) (float64, bool) {
		if v, ok := getEnvString(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
		return 0, false
	}

	getEnvDuration := func(key string) (time.Duration, bool) {
		if v, ok := getEnvString(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				return d, true
			}
		}
		return 0, false
	}

	// Only apply env vars if the CLI flag was not explicitly set
	applyIfNotSet := func(flagName string, apply func()) {
		flagSet := false
		pflag.Visit(func(f *pflag.Flag) {
			if f.Name == flagName {
				flagSet = true
			}
		})
		if !flagSet {
			apply()
		}
	}

	if v, ok := getEnvString("TOKENS"); ok {
		applyIfNotSet("tokens", func() {
			cfg.Tokens = strings.Split(v, ",")
			for i, t := range cfg.Tokens {
				cfg.Tokens[i] = strings.TrimSpace(t)
			}
		})
	}

	if v, ok := getEnvInt("METRICS_PORT"); ok {
		applyIfNotSet("metrics-port", func() { cfg.MetricsPort = v })
	}

	if v, ok := getEnvInt("FAILURE_THRESHOLD"); ok {
		applyIfNotSet("failure-threshold", func() { cfg.FailureThreshold = v })
	}

	if v, ok := getEnvDuration("COOLDOWN"); ok {
		applyIfNotSet("cooldown", func() { cfg.Cooldown = v })
	}

	if v, ok := getEnvDuration("STALENESS_CAP"); ok {
		applyIfNotSet("staleness-cap", func() { cfg.StalenessCap = v })
	}

	if v, ok := getEnvString("API_BASE_URL"); ok {
		applyIfNotSet("api-base-url", func() { cfg.APIBaseURL = v })
	}

	if v, ok := getEnvDuration("DIAL_TIMEOUT"); ok {
		applyIfNotSet("dial-timeout", func() { cfg.DialTimeout = v })
	}

	if v, ok := getEnvDuration("REQUEST_TIMEOUT"); ok {
		applyIfNotSet("request-timeout", func() { cfg.RequestTimeout = v })
	}

	if v, ok := getEnvFloat("RATE_PER_SECOND"); ok {
		applyIfNotSet("rate-per-second", func() { cfg.RatePerSecond = v })
	}

	if v, ok := getEnvInt("RATE_BURST"); ok {
		applyIfNotSet("rate-burst", func() { cfg.RateBurst = v })
	}

	if v, ok := getEnvInt("RETRY_ATTEMPTS"); ok && v >= 0 {
		applyIfNotSet("retry-attempts", func() { cfg.RetryAttempts = uint(v) })
	}

	if v, ok := getEnvString("LOG_LEVEL"); ok {
		applyIfNotSet("log-level", func() { cfg.LogLevel = v })
	}

	if v, ok := getEnvString("LOG_FORMAT"); ok {
		applyIfNotSet("log-format", func() { cfg.LogFormat = v })
	}
}
