package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/tletrack/internal/tle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "TLETRACK_HTTP_ADDR", "DATABASE_URL",
		"TLETRACK_TLE_SOURCE_URL", "TLETRACK_TLE_EXTRA_URLS", "TLETRACK_REFRESH_INTERVAL",
		"TLETRACK_REFRESH_ON_START", "TLETRACK_TLE_CACHE_DIR", "TLETRACK_TLE_CACHE_MAX_FILES",
		"TLETRACK_MAX_PAGE_LIMIT", "TLETRACK_ENABLE_REFRESH_ENDPOINT", "TLETRACK_RATE_LIMIT",
		"TLETRACK_RATE_BURST", "TLETRACK_TRUST_PROXY", "TLETRACK_LOG_LEVEL", "TLETRACK_LOG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tletrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, tle.DefaultSourceURL, cfg.TLE.SourceURL)
	assert.Equal(t, 20*time.Minute, cfg.TLE.RefreshInterval)
	assert.True(t, cfg.TLE.RefreshOnStart)
	assert.Equal(t, 100, cfg.API.MaxPageLimit)
	assert.False(t, cfg.API.EnableRefreshEndpoint)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
http_addr: ":8081"
database_url: /var/lib/tletrack/data.db
tle:
  source_url: https://example.test/active.txt
  extra_urls:
    - https://example.test/iss.txt
  refresh_interval: 5m
  refresh_on_start: false
  cache_dir: ""
api:
  max_page_limit: 50
  enable_refresh_endpoint: true
  rate_limit: 2.5
log_level: debug
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "/var/lib/tletrack/data.db", cfg.DatabaseURL)
	assert.Equal(t, "https://example.test/active.txt", cfg.TLE.SourceURL)
	assert.Equal(t, []string{"https://example.test/iss.txt"}, cfg.TLE.ExtraURLs)
	assert.Equal(t, 5*time.Minute, cfg.TLE.RefreshInterval)
	assert.False(t, cfg.TLE.RefreshOnStart)
	assert.Empty(t, cfg.TLE.CacheDir)
	assert.Equal(t, 50, cfg.API.MaxPageLimit)
	assert.True(t, cfg.API.EnableRefreshEndpoint)
	assert.Equal(t, 2.5, cfg.API.RateLimit)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.TLE.CacheMaxFiles)
	assert.Equal(t, 40, cfg.API.RateBurst)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "tle: [not, a, map"), testLogger())
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeFile(t, "tle:\n  cache_max_files: 0\nlog_level: loud\n"), testLogger())
	assert.ErrorContains(t, err, "cache_max_files")
	assert.ErrorContains(t, err, "log_level")
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "http_addr: \":8081\"\napi:\n  max_page_limit: 50\n")

	t.Setenv("TLETRACK_HTTP_ADDR", ":9000")
	t.Setenv("DATABASE_URL", "/data/db.sqlite")
	t.Setenv("TLETRACK_TLE_EXTRA_URLS", " https://a.test , ,https://b.test")
	t.Setenv("TLETRACK_REFRESH_INTERVAL", "60")
	t.Setenv("TLETRACK_REFRESH_ON_START", "false")
	t.Setenv("TLETRACK_MAX_PAGE_LIMIT", "0")
	t.Setenv("TLETRACK_ENABLE_REFRESH_ENDPOINT", "1")
	t.Setenv("TLETRACK_RATE_LIMIT", "0")
	t.Setenv("TLETRACK_TRUST_PROXY", "true")
	t.Setenv("TLETRACK_LOG_LEVEL", "warn")

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "/data/db.sqlite", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.TLE.ExtraURLs)
	assert.Equal(t, time.Minute, cfg.TLE.RefreshInterval)
	assert.False(t, cfg.TLE.RefreshOnStart)
	assert.Equal(t, 0, cfg.API.MaxPageLimit)
	assert.True(t, cfg.API.EnableRefreshEndpoint)
	assert.Zero(t, cfg.API.RateLimit)
	assert.True(t, cfg.API.TrustProxy)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestPortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "4100")

	cfg, err := Load("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, ":4100", cfg.HTTPAddr)

	t.Setenv("TLETRACK_HTTP_ADDR", "127.0.0.1:5000")
	cfg, err = Load("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", cfg.HTTPAddr)
}

func TestInvalidEnvKeepsCurrent(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(t *testing.T, cfg Config)
	}{
		{"TLETRACK_REFRESH_INTERVAL", "soon", func(t *testing.T, cfg Config) {
			assert.Equal(t, 20*time.Minute, cfg.TLE.RefreshInterval)
		}},
		{"TLETRACK_REFRESH_INTERVAL", "-5", func(t *testing.T, cfg Config) {
			assert.Equal(t, 20*time.Minute, cfg.TLE.RefreshInterval)
		}},
		{"TLETRACK_REFRESH_ON_START", "maybe", func(t *testing.T, cfg Config) {
			assert.True(t, cfg.TLE.RefreshOnStart)
		}},
		{"TLETRACK_TLE_CACHE_MAX_FILES", "0", func(t *testing.T, cfg Config) {
			assert.Equal(t, 5, cfg.TLE.CacheMaxFiles)
		}},
		{"TLETRACK_MAX_PAGE_LIMIT", "-1", func(t *testing.T, cfg Config) {
			assert.Equal(t, 100, cfg.API.MaxPageLimit)
		}},
		{"TLETRACK_RATE_LIMIT", "fast", func(t *testing.T, cfg Config) {
			assert.Equal(t, 20.0, cfg.API.RateLimit)
		}},
		{"TLETRACK_LOG_LEVEL", "loud", func(t *testing.T, cfg Config) {
			assert.Equal(t, "info", cfg.LogLevel)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load("", testLogger())
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
