package jobstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wealthsync/pkg/config"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

func sampleJob(id string) JobRecord {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := started.Add(42 * time.Second)
	return JobRecord{
		JobID:           id,
		SourceType:      SourceTypeMulti,
		SourceID:        SourceIDOrchestrator,
		StartedAt:       started,
		CompletedAt:     &completed,
		DurationSeconds: 42,
		Status:          "partial",
		RecordsFetched:  12,
		RecordsImported: 10,
		RecordsSkipped:  2,
		ErrorMessage:    "ibkr: Authentication failed: [ibkr] session expired",
		TriggeredBy:     TriggeredManual,
	}
}

func TestFileStore(t *testing.T) {
	for _, name := range []string{"jobs.jsonl", "jobs.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			store, err := NewFileStore(path)
			require.NoError(t, err)

			empty, err := store.ReadAll()
			require.NoError(t, err)
			assert.Empty(t, empty)

			ctx := context.Background()
			require.NoError(t, store.SaveJob(ctx, sampleJob("a1b2c3d4")))
			require.NoError(t, store.SaveJob(ctx, sampleJob("e5f6a7b8")))

			jobs, err := store.ReadAll()
			require.NoError(t, err)
			require.Len(t, jobs, 2)
			assert.Equal(t, "a1b2c3d4", jobs[0].JobID)
			assert.Equal(t, "e5f6a7b8", jobs[1].JobID)
			assert.True(t, jobs[0].StartedAt.Equal(sampleJob("").StartedAt))
			assert.Equal(t, 10, jobs[0].RecordsImported)
			assert.Equal(t, "partial", jobs[0].Status)
			require.NoError(t, store.Close())
		})
	}
}

func TestFileStoreCompressesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.zst")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveJob(context.Background(), sampleJob("zz")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, raw[:4], "zstd magic")
	assert.NotContains(t, string(raw), `"job_id"`)

	require.NoError(t, store.Close())
	assert.Error(t, store.SaveJob(context.Background(), sampleJob("after-close")))
}

func TestFileStoreConcurrentWrites(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.jsonl"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.SaveJob(context.Background(), sampleJob("job")))
		}()
	}
	wg.Wait()

	jobs, err := store.ReadAll()
	require.NoError(t, err)
	assert.Len(t, jobs, 16)
}

func TestFileStoreHonoursCancelledContext(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.jsonl"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.SaveJob(ctx, sampleJob("x")), context.Canceled)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.JobStoreConfig{Type: config.JobStoreNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)
	assert.NoError(t, s.SaveJob(ctx, sampleJob("x")))

	s, err = Open(ctx, config.JobStoreConfig{Type: config.JobStoreFile, Path: filepath.Join(t.TempDir(), "j.jsonl")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, config.JobStoreConfig{Type: config.JobStoreFile})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Open(ctx, config.JobStoreConfig{Type: config.JobStorePostgres})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Open(ctx, config.JobStoreConfig{Type: "s3"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
