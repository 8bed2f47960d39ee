package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  port: 5432
  user: test
  dbname: test_db
api:
  mode: official
  bearer_token: token
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Sync.MaxPages)
	assert.Equal(t, -1, cfg.Sync.SampleLimit)
	assert.Equal(t, 901*time.Second, cfg.Sync.FallbackSleep)
	assert.Equal(t, 2*time.Second, cfg.Sync.ResetMargin)
	assert.Equal(t, 5, cfg.Backfill.ForwardMaxPages)
	assert.Equal(t, 10, cfg.Backfill.BackwardMaxPages)
	assert.Equal(t, int64(23424829), cfg.Trends.WOEID)
	assert.Equal(t, "Germany", cfg.Trends.PlaceName)
	assert.Equal(t, 100, cfg.Profiles.ChunkSize)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "secret-token")

	path := writeConfig(t, `
api:
  mode: official
  bearer_token: ${TEST_BEARER_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.API.BearerToken)
}

func TestLoad_OfficialModeRequiresToken(t *testing.T) {
	path := writeConfig(t, `
api:
  mode: official
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bearer_token")
}

func TestLoad_ProxyModeRequiresKey(t *testing.T) {
	path := writeConfig(t, `
api:
  mode: twitterapiio
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy_api_key")

	path = writeConfig(t, `
api:
  mode: twitterapiio
  proxy_api_key: key
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "twitterapiio", cfg.API.Mode)
}

func TestLoad_UnknownMode(t *testing.T) {
	path := writeConfig(t, `
api:
  mode: scraping
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown api.mode")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSyncConfig_FallbackStart(t *testing.T) {
	cases := []struct {
		name string
		date string
		want time.Time
		ok   bool
	}{
		{"empty", "", time.Time{}, false},
		{"date only", "2025-09-01", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), true},
		{"rfc3339", "2025-09-01T12:30:00Z", time.Date(2025, 9, 1, 12, 30, 0, 0, time.UTC), true},
		{"garbage", "yesterday", time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SyncConfig{LastFetchDate: tc.date}.FallbackStart()
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, tc.want.Equal(got))
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dsn := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "p",
		DBName: "db", SSLMode: "disable",
	}.DSN()

	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=db sslmode=disable", dsn)
}
