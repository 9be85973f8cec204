// Package config loads tletrack settings from defaults, an optional YAML file
// and TLETRACK_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/tletrack/internal/tle"
)

// Config is the top-level tletrack configuration.
type Config struct {
	HTTPAddr    string    `yaml:"http_addr"`
	DatabaseURL string    `yaml:"database_url"`
	TLE         TLEConfig `yaml:"tle"`
	API         APIConfig `yaml:"api"`
	LogLevel    string    `yaml:"log_level"`
	LogFile     string    `yaml:"log_file"`
}

// TLEConfig controls the feed source and the refresh job.
type TLEConfig struct {
	SourceURL       string        `yaml:"source_url"`
	ExtraURLs       []string      `yaml:"extra_urls"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RefreshOnStart  bool          `yaml:"refresh_on_start"`
	// CacheDir holds raw feed copies. Empty disables the on-disk cache.
	CacheDir      string `yaml:"cache_dir"`
	CacheMaxFiles int    `yaml:"cache_max_files"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	MaxPageLimit          int     `yaml:"max_page_limit"`
	EnableRefreshEndpoint bool    `yaml:"enable_refresh_endpoint"`
	RateLimit             float64 `yaml:"rate_limit"`
	RateBurst             int     `yaml:"rate_burst"`
	TrustProxy            bool    `yaml:"trust_proxy"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:    ":3000",
		DatabaseURL: "tletrack.db",
		TLE: TLEConfig{
			SourceURL:       tle.DefaultSourceURL,
			RefreshInterval: 20 * time.Minute,
			RefreshOnStart:  true,
			CacheDir:        "/tmp/tletrack/tle",
			CacheMaxFiles:   5,
		},
		API: APIConfig{
			MaxPageLimit: 100,
			RateLimit:    20,
			RateBurst:    40,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing or unparsable file is an
// error; an unparsable environment value is logged and ignored.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg, logger)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr must not be empty"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url must not be empty"))
	}
	if c.TLE.SourceURL == "" {
		errs = append(errs, errors.New("tle.source_url must not be empty"))
	}
	if c.TLE.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("tle.refresh_interval must be positive, got %s", c.TLE.RefreshInterval))
	}
	if c.TLE.CacheMaxFiles < 1 {
		errs = append(errs, fmt.Errorf("tle.cache_max_files must be at least 1, got %d", c.TLE.CacheMaxFiles))
	}
	if c.API.MaxPageLimit < 0 {
		errs = append(errs, fmt.Errorf("api.max_page_limit must not be negative, got %d", c.API.MaxPageLimit))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit must not be negative, got %v", c.API.RateLimit))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
	}
	return l, nil
}

func applyEnv(cfg *Config, logger *slog.Logger) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	if v := os.Getenv("TLETRACK_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	if v := os.Getenv("TLETRACK_TLE_SOURCE_URL"); v != "" {
		cfg.TLE.SourceURL = v
	}
	if v := os.Getenv("TLETRACK_TLE_EXTRA_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
		cfg.TLE.ExtraURLs = urls
	}
	if v := os.Getenv("TLETRACK_REFRESH_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid TLETRACK_REFRESH_INTERVAL value, keeping current", "value", v, "current", cfg.TLE.RefreshInterval.String())
		} else {
			cfg.TLE.RefreshInterval = time.Duration(n) * time.Second
		}
	}
	envBool(logger, "TLETRACK_REFRESH_ON_START", &cfg.TLE.RefreshOnStart)
	if v := os.Getenv("TLETRACK_TLE_CACHE_DIR"); v != "" {
		cfg.TLE.CacheDir = v
	}
	envInt(logger, "TLETRACK_TLE_CACHE_MAX_FILES", 1, &cfg.TLE.CacheMaxFiles)

	envInt(logger, "TLETRACK_MAX_PAGE_LIMIT", 0, &cfg.API.MaxPageLimit)
	envBool(logger, "TLETRACK_ENABLE_REFRESH_ENDPOINT", &cfg.API.EnableRefreshEndpoint)
	if v := os.Getenv("TLETRACK_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			logger.Warn("invalid TLETRACK_RATE_LIMIT value, keeping current", "value", v, "current", cfg.API.RateLimit)
		} else {
			cfg.API.RateLimit = f
		}
	}
	envInt(logger, "TLETRACK_RATE_BURST", 1, &cfg.API.RateBurst)
	envBool(logger, "TLETRACK_TRUST_PROXY", &cfg.API.TrustProxy)

	if v := os.Getenv("TLETRACK_LOG_LEVEL"); v != "" {
		if _, err := ParseLevel(v); err != nil {
			logger.Warn("invalid TLETRACK_LOG_LEVEL value, keeping current", "value", v, "current", cfg.LogLevel)
		} else {
			cfg.LogLevel = v
		}
	}
	if v := os.Getenv("TLETRACK_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

func envInt(logger *slog.Logger, key string, minimum int, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minimum {
		logger.Warn("invalid "+key+" value, keeping current", "value", v, "current", *dst)
		return
	}
	*dst = n
}

func envBool(logger *slog.Logger, key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn(key+" must be a boolean value (true/false/1/0), keeping current", "value", v, "current", *dst)
		return
	}
	*dst = b
}
