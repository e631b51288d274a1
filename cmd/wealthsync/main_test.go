package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wealthsync/pkg/jobstore"
	"github.com/ajitpratap0/wealthsync/pkg/testutil"
)

const holdingsCSV = "Symbol,Quantity,Price\nAAPL,10,190\nVTI,5,250\n"

// writeConfig lays out a csv export and a config that points at it.
func writeConfig(t *testing.T, exportDir string) (cfgPath, jobsPath string) {
	t.Helper()
	dir := t.TempDir()
	pluginsDir, err := filepath.Abs(filepath.Join("..", "..", "plugins"))
	require.NoError(t, err)
	jobsPath = filepath.Join(dir, "jobs.jsonl")

	cfg := strings.Join([]string{
		"log:",
		"  level: error",
		"plugins:",
		"  dir: " + pluginsDir,
		"job_store:",
		"  type: file",
		"  path: " + jobsPath,
		"sources:",
		"  broker:",
		"    type: csv",
		"    settings:",
		"      path: " + exportDir,
		"",
	}, "\n")
	return testutil.WriteFile(t, dir, "wealthsync.yaml", []byte(cfg)), jobsPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "WealthSync v"+version)
	assert.Contains(t, out, "Go version:")
}

func TestSyncCommand(t *testing.T) {
	exportDir := t.TempDir()
	testutil.WriteFile(t, exportDir, "holdings.csv", []byte(holdingsCSV))
	cfgPath, jobsPath := writeConfig(t, exportDir)

	out, err := run(t, "--config", cfgPath, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync Job:")
	assert.Contains(t, out, "Sources: 1")
	assert.Contains(t, out, "Imported: 2")

	store, err := jobstore.NewFileStore(jobsPath)
	require.NoError(t, err)
	records, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "success", records[0].Status)
	assert.Equal(t, jobstore.TriggeredManual, records[0].TriggeredBy)
}

func TestSyncJSONOutput(t *testing.T) {
	exportDir := t.TempDir()
	testutil.WriteFile(t, exportDir, "holdings.csv", []byte(holdingsCSV))
	cfgPath, _ := writeConfig(t, exportDir)

	out, err := run(t, "--config", cfgPath, "sync", "--output", "json", "--triggered-by", "cron")
	require.NoError(t, err)

	var got syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, 2, got.Imported)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "broker", got.Sources[0].ID)
	assert.Equal(t, "broker", got.Sources[0].Type)
	assert.Equal(t, 2, got.Sources[0].Fetched)
}

func TestSyncFailsWithoutData(t *testing.T) {
	cfgPath, jobsPath := writeConfig(t, filepath.Join(t.TempDir(), "missing"))

	out, err := run(t, "--config", cfgPath, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "Errors: 1")

	store, err := jobstore.NewFileStore(jobsPath)
	require.NoError(t, err)
	records, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0].Status)
}

func TestSyncRejectsBadFlags(t *testing.T) {
	cfgPath, _ := writeConfig(t, t.TempDir())

	_, err := run(t, "--config", cfgPath, "sync", "--since", "last tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected YYYY-MM-DD")

	_, err = run(t, "--config", cfgPath, "sync", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output format "xml"`)
}

func TestHealthCommand(t *testing.T) {
	exportDir := t.TempDir()
	testutil.WriteFile(t, exportDir, "holdings.csv", []byte(holdingsCSV))
	cfgPath, _ := writeConfig(t, exportDir)

	out, err := run(t, "--config", cfgPath, "health")
	require.NoError(t, err)
	assert.Regexp(t, `broker\s+OK`, out)

	badCfg, _ := writeConfig(t, filepath.Join(t.TempDir(), "missing"))
	out, err = run(t, "--config", badCfg, "health")
	require.Error(t, err)
	assert.Regexp(t, `broker\s+FAIL`, out)
	assert.Equal(t, "1 of 1 sources unhealthy", err.Error())
}

func TestPluginsCommands(t *testing.T) {
	cfgPath, _ := writeConfig(t, t.TempDir())

	out, err := run(t, "--config", cfgPath, "plugins", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sample_bank")

	out, err = run(t, "--config", cfgPath, "plugins", "info", "sample_bank")
	require.NoError(t, err)
	assert.Contains(t, out, "Sample Bank Integration")

	out, err = run(t, "--config", cfgPath, "plugins", "validate", "sample_bank")
	require.NoError(t, err)
	assert.Contains(t, out, "sample_bank: valid")

	_, err = run(t, "--config", cfgPath, "plugins", "info", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin not found: nope")
}

func TestBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "bad.yaml", []byte("sync:\n  workers: 0\n"))

	_, err := run(t, "--config", path, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.workers must be positive")
}
