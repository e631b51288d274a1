package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/testutil"
)

const sampleYAML = `
log:
  level: debug
sync:
  workers: 2
  source_timeout: 90s
  since_days: 30
reliability:
  max_retries: 5
  retry_delay: 2s
cache:
  ttl: 10m
plugins:
  dir: ./plugins
  enabled: [sample_bank]
job_store:
  type: file
  path: /tmp/jobs.jsonl
sources:
  crypto:
    type: exchange
    settings:
      exchanges:
        binance:
          api_key: ${TEST_BINANCE_KEY}
  bank:
    type: plugin
    plugin: sample_bank
    enabled: false
    settings:
      username: alice
`

func TestLoad(t *testing.T) {
	t.Setenv("TEST_BINANCE_KEY", "k-123")
	path := testutil.WriteFile(t, t.TempDir(), "wealthsync.yaml", []byte(sampleYAML))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, 90*time.Second, cfg.Sync.SourceTimeout)
	assert.Equal(t, 30, cfg.Sync.SinceDays)
	assert.Equal(t, 2*time.Second, cfg.Reliability.RetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, []string{"sample_bank"}, cfg.Plugins.Enabled)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, []string{"bank", "crypto"}, cfg.SourceIDs())
	assert.Equal(t, []string{"crypto"}, cfg.EnabledSources())
	assert.True(t, cfg.Sources["bank"].IsPlugin())
	assert.Equal(t, "sample_bank", cfg.Sources["bank"].Plugin)

	exchanges, ok := cfg.Sources["crypto"].Settings["exchanges"].(map[string]interface{})
	require.True(t, ok)
	binance, ok := exchanges["binance"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "k-123", binance["api_key"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEALTHSYNC_SYNC_WORKERS", "8")
	t.Setenv("WEALTHSYNC_JOB_STORE_TYPE", "none")
	t.Setenv("WEALTHSYNC_OBSERVABILITY_METRICS_ADDR", ":9102")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, JobStoreNone, cfg.JobStore.Type)
	assert.Equal(t, ":9102", cfg.Observability.MetricsAddr)
	assert.Empty(t, cfg.Sources)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("sync: [workers"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Sync.Workers = 0
	cfg.Cache.TTL = -time.Second
	cfg.JobStore = JobStoreConfig{Type: JobStorePostgres}
	cfg.Sources["a"] = SourceConfig{}
	cfg.Sources["b"] = SourceConfig{Type: SourceTypePlugin}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	msg := err.Error()
	for _, want := range []string{
		`log.level "loud" is not a valid level`,
		"sync.workers must be positive",
		"cache.ttl cannot be negative",
		"job_store.dsn is required for the postgres store",
		"sources.a.type is required",
		"sources.b.plugin is required for plugin sources",
	} {
		assert.Contains(t, msg, want)
	}
	assert.Equal(t, 6, strings.Count(msg, "\n  - "))
}

func TestValidateJobStoreType(t *testing.T) {
	cfg := Default()
	cfg.JobStore.Type = "s3"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `job_store.type "s3" must be one of file, postgres, none`)

	assert.NoError(t, Default().Validate())
}

func TestSourceSettingsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Reliability.RateLimitPerMinute = 30
	cfg.Sources["ibkr"] = SourceConfig{Type: "ibkr", Settings: map[string]interface{}{
		"cache_ttl":  "1m",
		"account_id": "U123",
	}}

	got := cfg.SourceSettings("ibkr")
	assert.Equal(t, "1m", got["cache_ttl"])
	assert.Equal(t, 3, got["max_retries"])
	assert.Equal(t, time.Second, got["retry_delay"])
	assert.Equal(t, 30, got["rate_limit_per_minute"])
	assert.Equal(t, "U123", got["account_id"])

	got["account_id"] = "changed"
	assert.Equal(t, "U123", cfg.Sources["ibkr"].Settings["account_id"])
}

func TestPluginAllowed(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.PluginAllowed("anything"))

	cfg.Plugins.Enabled = []string{"sample_bank"}
	assert.True(t, cfg.PluginAllowed("sample_bank"))
	assert.False(t, cfg.PluginAllowed("icbc"))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("WS_A", "alpha")
	t.Setenv("WS_LOOP", "${WS_LOOP}")

	assert.Equal(t, "x: alpha, y: ", substituteEnvVars("x: ${WS_A}, y: ${WS_UNSET_VAR}"))
	assert.Equal(t, "v: ${WS_LOOP}", substituteEnvVars("v: ${WS_LOOP}"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Sources["csv"] = SourceConfig{Type: "csv", Settings: map[string]interface{}{"dir": "/exports"}}

	data, err := Marshal(cfg)
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sync, back.Sync)
	assert.Equal(t, "/exports", back.Sources["csv"].Settings["dir"])
}
