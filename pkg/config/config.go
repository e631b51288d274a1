package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// SourceTypePlugin marks a source served by a plugin package.
const SourceTypePlugin = "plugin"

// Job store backends.
const (
	JobStoreFile     = "file"
	JobStorePostgres = "postgres"
	JobStoreNone     = "none"
)

// Config is the top-level wealthsync configuration.
type Config struct {
	Log           LogConfig               `yaml:"log" mapstructure:"log"`
	Sync          SyncConfig              `yaml:"sync" mapstructure:"sync"`
	Reliability   ReliabilityConfig       `yaml:"reliability" mapstructure:"reliability"`
	Cache         CacheConfig             `yaml:"cache" mapstructure:"cache"`
	Plugins       PluginsConfig           `yaml:"plugins" mapstructure:"plugins"`
	JobStore      JobStoreConfig          `yaml:"job_store" mapstructure:"job_store"`
	Observability ObservabilityConfig     `yaml:"observability" mapstructure:"observability"`
	Sources       map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Encoding    string `yaml:"encoding" mapstructure:"encoding"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

// SyncConfig controls a sync cycle.
type SyncConfig struct {
	// Workers bounds how many sources sync at once.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// SourceTimeout bounds one source's sync. Zero means no limit.
	SourceTimeout time.Duration `yaml:"source_timeout" mapstructure:"source_timeout"`
	// SinceDays is the default transaction look-back when a run gives no
	// since date. Zero lets each connector use its own window.
	SinceDays int `yaml:"since_days" mapstructure:"since_days"`
}

// ReliabilityConfig holds retry and rate limit defaults applied to every
// source that does not set its own.
type ReliabilityConfig struct {
	MaxRetries         int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// CacheConfig holds the default response cache TTL.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// PluginsConfig locates plugin packages.
type PluginsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Enabled lists plugin ids allowed to load. Empty allows every plugin
	// referenced by a source.
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`
}

// JobStoreConfig selects where job records go.
type JobStoreConfig struct {
	Type string `yaml:"type" mapstructure:"type"`
	Path string `yaml:"path" mapstructure:"path"`
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
}

// ObservabilityConfig configures tracing and metrics export.
type ObservabilityConfig struct {
	Tracing     bool   `yaml:"tracing" mapstructure:"tracing"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// SourceConfig configures one source. Type names a built-in connector, or
// is "plugin" with Plugin naming the plugin id.
type SourceConfig struct {
	Type     string                 `yaml:"type" mapstructure:"type"`
	Enabled  *bool                  `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Plugin   string                 `yaml:"plugin,omitempty" mapstructure:"plugin"`
	Settings map[string]interface{} `yaml:"settings" mapstructure:"settings"`
}

// IsEnabled reports whether the source takes part in syncs. Sources are
// enabled unless they say otherwise.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsPlugin reports whether the source is served by a plugin.
func (s SourceConfig) IsPlugin() bool {
	return s.Type == SourceTypePlugin
}

// Default returns a configuration with every default applied and no
// sources.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Encoding: "json"},
		Sync: SyncConfig{
			Workers:       4,
			SourceTimeout: 5 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Cache:         CacheConfig{TTL: 300 * time.Second},
		Plugins:       PluginsConfig{Dir: "plugins"},
		JobStore:      JobStoreConfig{Type: JobStoreFile, Path: "data/import_jobs.jsonl"},
		Observability: ObservabilityConfig{ServiceName: "wealthsync"},
		Sources:       map[string]SourceConfig{},
	}
}

// Validate checks the whole configuration and reports every problem in one
// configuration error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		add("log.level %q is not a valid level", c.Log.Level)
	}
	if c.Sync.Workers <= 0 {
		add("sync.workers must be positive")
	}
	if c.Sync.SourceTimeout < 0 {
		add("sync.source_timeout cannot be negative")
	}
	if c.Sync.SinceDays < 0 {
		add("sync.since_days cannot be negative")
	}
	if c.Reliability.MaxRetries < 0 {
		add("reliability.max_retries cannot be negative")
	}
	if c.Reliability.RetryDelay < 0 {
		add("reliability.retry_delay cannot be negative")
	}
	if c.Reliability.RateLimitPerMinute < 0 {
		add("reliability.rate_limit_per_minute cannot be negative")
	}
	if c.Cache.TTL < 0 {
		add("cache.ttl cannot be negative")
	}

	switch c.JobStore.Type {
	case JobStoreNone:
	case JobStoreFile:
		if c.JobStore.Path == "" {
			add("job_store.path is required for the file store")
		}
	case JobStorePostgres:
		if c.JobStore.DSN == "" {
			add("job_store.dsn is required for the postgres store")
		}
	default:
		add("job_store.type %q must be one of file, postgres, none", c.JobStore.Type)
	}

	for _, id := range c.SourceIDs() {
		src := c.Sources[id]
		switch {
		case src.Type == "":
			add("sources.%s.type is required", id)
		case src.IsPlugin() && src.Plugin == "":
			add("sources.%s.plugin is required for plugin sources", id)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewConfiguration("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}

// SourceIDs returns the configured source ids in sorted order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for id := range c.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnabledSources returns the ids of enabled sources in sorted order.
func (c *Config) EnabledSources() []string {
	var ids []string
	for _, id := range c.SourceIDs() {
		if c.Sources[id].IsEnabled() {
			ids = append(ids, id)
		}
	}
	return ids
}

// PluginAllowed reports whether a plugin id may be loaded.
func (c *Config) PluginAllowed(id string) bool {
	if len(c.Plugins.Enabled) == 0 {
		return true
	}
	for _, allowed := range c.Plugins.Enabled {
		if allowed == id {
			return true
		}
	}
	return false
}

// SourceSettings returns a copy of a source's settings with the global
// reliability and cache defaults filled in for keys the source leaves unset.
func (c *Config) SourceSettings(id string) map[string]interface{} {
	src := c.Sources[id]
	out := make(map[string]interface{}, len(src.Settings)+4)
	for k, v := range src.Settings {
		out[k] = v
	}
	setDefault := func(key string, v interface{}) {
		if _, ok := out[key]; !ok {
			out[key] = v
		}
	}
	setDefault("max_retries", c.Reliability.MaxRetries)
	if c.Reliability.RetryDelay > 0 {
		setDefault("retry_delay", c.Reliability.RetryDelay)
	}
	if c.Reliability.RateLimitPerMinute > 0 {
		setDefault("rate_limit_per_minute", c.Reliability.RateLimitPerMinute)
	}
	if c.Cache.TTL > 0 {
		setDefault("cache_ttl", c.Cache.TTL)
	}
	return out
}
