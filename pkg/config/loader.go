package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "WEALTHSYNC"

// Load reads the YAML file at filePath, expands ${VAR} references, applies
// WEALTHSYNC_ environment overrides and validates the result. An empty
// filePath loads defaults and environment overrides only.
func Load(filePath string) (*Config, error) {
	var content []byte
	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
		content = []byte(substituteEnvVars(string(data)))
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML content on top of the defaults and applies environment
// overrides. It does not validate.
func Parse(content []byte) (*Config, error) {
	v := newViper()
	if len(bytes.TrimSpace(content)) > 0 {
		if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if cfg.Sources == nil {
		cfg.Sources = map[string]SourceConfig{}
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	return data, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment overrides only reach keys viper already knows about.
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("sync.workers", d.Sync.Workers)
	v.SetDefault("sync.source_timeout", d.Sync.SourceTimeout)
	v.SetDefault("sync.since_days", d.Sync.SinceDays)
	v.SetDefault("reliability.max_retries", d.Reliability.MaxRetries)
	v.SetDefault("reliability.retry_delay", d.Reliability.RetryDelay)
	v.SetDefault("reliability.rate_limit_per_minute", d.Reliability.RateLimitPerMinute)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("plugins.dir", d.Plugins.Dir)
	v.SetDefault("plugins.enabled", d.Plugins.Enabled)
	v.SetDefault("job_store.type", d.JobStore.Type)
	v.SetDefault("job_store.path", d.JobStore.Path)
	v.SetDefault("job_store.dsn", d.JobStore.DSN)
	v.SetDefault("observability.tracing", d.Observability.Tracing)
	v.SetDefault("observability.service_name", d.Observability.ServiceName)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	return v
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
