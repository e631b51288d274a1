// Package config loads the wealthsync configuration file.
//
// The file is YAML. ${VAR} references are expanded from the environment
// before parsing, and any scalar key can be overridden with a WEALTHSYNC_
// environment variable whose name is the dotted key path upper-cased with
// dots replaced by underscores:
//
//	WEALTHSYNC_SYNC_WORKERS=8
//	WEALTHSYNC_JOB_STORE_TYPE=postgres
//
// Sections:
//   - log: level, encoding, development
//   - sync: worker pool size, per-source timeout, default look-back window
//   - reliability: retry budget and default rate limits for every source
//   - cache: default response cache TTL
//   - plugins: plugin directory and the ids allowed to load
//   - job_store: where sync job records are persisted
//   - observability: tracing and the Prometheus listen address
//   - sources: one entry per configured source
//
// Example:
//
//	cfg, err := config.Load("wealthsync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	settings := cfg.SourceSettings("coinbase")
package config
