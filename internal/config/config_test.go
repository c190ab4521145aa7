package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a scratch directory so a stray roadwatch.yaml or .env
// in the package directory cannot leak into the test.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBaselineIsValid(t *testing.T) {
	require.NoError(t, Validate(Baseline()))
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, Baseline(), cfg)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.False(t, cfg.Ingest.PreserveClientTimestamp)
	assert.Nil(t, cfg.Stream.OriginPatterns)
}

func TestLoadOriginPatterns(t *testing.T) {
	dir := chdir(t)

	file := writeFile(t, dir, "origins.yaml", `
stream:
  originPatterns: ["dashboard.example.org", "*.roads.local"]
`)
	cfg, err := Load(LoadOptions{ConfigFile: file})
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard.example.org", "*.roads.local"}, cfg.Stream.OriginPatterns)

	file = writeFile(t, dir, "empty.yaml", "stream:\n  originPatterns: []\n")
	cfg, err = Load(LoadOptions{ConfigFile: file})
	require.NoError(t, err)
	assert.Nil(t, cfg.Stream.OriginPatterns)
}

func TestLoadPrecedence(t *testing.T) {
	dir := chdir(t)

	file := writeFile(t, dir, "custom.yaml", `
server:
  addr: ":9000"
stream:
  queueSize: 128
  heartbeatInterval: 30s
ingest:
  preserveClientTimestamp: true
`)
	writeFile(t, dir, ".env", "ROADWATCH_STREAM_QUEUESIZE=256\nROADWATCH_LOG_LEVEL=debug\n")
	t.Setenv("ROADWATCH_LOG_LEVEL", "warn")

	cfg, err := Load(LoadOptions{ConfigFile: file})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr, "file overrides baseline")
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval)
	assert.True(t, cfg.Ingest.PreserveClientTimestamp)
	assert.Equal(t, 256, cfg.Stream.QueueSize, ".env overrides file")
	assert.Equal(t, "warn", cfg.Log.Level, "environment overrides .env")
}

func TestLoadFindsDefaultFile(t *testing.T) {
	dir := chdir(t)
	writeFile(t, dir, "roadwatch.yaml", "store:\n  driver: sqlite\n  sqlitePath: data.db\n")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "data.db", cfg.Store.SQLitePath)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t)

	_, err := Load(LoadOptions{ConfigFile: "nope.yaml"})
	assert.Error(t, err)

	_, err = Load(LoadOptions{EnvFile: "nope.env"})
	assert.Error(t, err)
}

func TestPostgresEnvironment(t *testing.T) {
	chdir(t)
	t.Setenv("ROADWATCH_STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_DB", "telemetry")
	t.Setenv("POSTGRES_USER", "agent")
	t.Setenv("POSTGRES_PASSWORD", "p@ss")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "postgres://agent:p%40ss@db:5433/telemetry?sslmode=disable", cfg.Store.PostgresDSN)
}

func TestPostgresRequiresDSN(t *testing.T) {
	chdir(t)
	t.Setenv("ROADWATCH_STORE_DRIVER", "postgres")

	_, err := Load(LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgresDSN must be set")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"queue size", func(c *Config) { c.Stream.QueueSize = 0 }, "stream.queueSize must be at least 1"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver must be one of"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format must be one of"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path must start with"},
		{"jitter", func(c *Config) { c.Stream.HeartbeatJitter = 10 * time.Second }, "exceeds 50% of interval"},
		{"queue smaller than replay", func(c *Config) { c.Stream.QueueSize = 10 }, "buffer size + 1"},
		{"hs256 secret", func(c *Config) { c.Auth.Enabled = true }, "secretKey must be set"},
		{"rs256 key", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.Algorithm = "RS256"
		}, "publicKeyPEM must be set"},
		{"audit dir", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.Dir = ""
		}, "dir must be set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Baseline()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Error(t, Validate(nil))
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := Baseline()
	cfg.Auth.SecretKey = "topsecret"
	cfg.Store.PostgresDSN = "postgres://agent:hunter2@db:5432/telemetry"

	out, err := Dump(cfg)
	require.NoError(t, err)

	s := string(out)
	assert.False(t, strings.Contains(s, "topsecret"))
	assert.False(t, strings.Contains(s, "hunter2"))
	assert.Contains(t, s, "queueSize: 64")
	assert.Equal(t, "topsecret", cfg.Auth.SecretKey, "Dump must not modify its argument")
}
