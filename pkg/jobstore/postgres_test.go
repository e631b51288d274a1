package jobstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/testutil"
)

type execCall struct {
	sql  string
	args []any
}

type fakePool struct {
	execs   []execCall
	execErr error
	closed  bool
}

func (f *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("not supported by fake")
}

func (f *fakePool) Ping(context.Context) error { return nil }

func (f *fakePool) Close() { f.closed = true }

func TestPostgresStoreSaveJob(t *testing.T) {
	testutil.TestLogger(t)
	fp := &fakePool{}
	store := newPostgresStore(fp)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.SaveJob(ctx, sampleJob("a1b2c3d4")))

	require.Len(t, fp.execs, 2)
	assert.Contains(t, fp.execs[0].sql, "CREATE TABLE IF NOT EXISTS import_jobs")
	assert.Contains(t, fp.execs[1].sql, "ON CONFLICT (job_id) DO UPDATE")

	args := fp.execs[1].args
	require.Len(t, args, 13)
	assert.Equal(t, "a1b2c3d4", args[0])
	assert.Equal(t, SourceTypeMulti, args[1])
	assert.Equal(t, "partial", args[6])
	msg, ok := args[11].(*string)
	require.True(t, ok)
	assert.Equal(t, "ibkr: Authentication failed: [ibkr] session expired", *msg)

	clean := sampleJob("ok")
	clean.ErrorMessage = ""
	require.NoError(t, store.SaveJob(ctx, clean))
	assert.Nil(t, fp.execs[2].args[11].(*string))

	require.NoError(t, store.Close())
	assert.True(t, fp.closed)
}

func TestPostgresStoreErrors(t *testing.T) {
	testutil.TestLogger(t)
	store := newPostgresStore(&fakePool{execErr: fmt.Errorf("connection reset")})

	err := store.SaveJob(context.Background(), sampleJob("a1"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, "failed to save import job: connection reset", err.Error())

	_, err = store.RecentJobs(context.Background(), 5)
	assert.Error(t, err)

	_, err = NewPostgresStore(context.Background(), "postgres://%zz")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

// PostgresStoreSuite runs against a live database named by
// WEALTHSYNC_TEST_POSTGRES_DSN.
type PostgresStoreSuite struct {
	testutil.IntegrationTestSuite
	store *PostgresStore
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.IntegrationTestSuite.SetupSuite()
	dsn := os.Getenv("WEALTHSYNC_TEST_POSTGRES_DSN")
	store, err := NewPostgresStore(s.Context(), dsn)
	s.Require().NoError(err)
	s.Require().NoError(store.EnsureSchema(s.Context()))
	s.store = store
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	s.IntegrationTestSuite.TearDownSuite()
}

func (s *PostgresStoreSuite) TestUpsertAndRead() {
	id := fmt.Sprintf("t%07d", time.Now().UnixNano()%10_000_000)
	job := sampleJob(id)
	job.StartedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.SaveJob(s.Context(), job))

	job.Status = "success"
	job.ErrorMessage = ""
	s.Require().NoError(s.store.SaveJob(s.Context(), job))

	jobs, err := s.store.RecentJobs(s.Context(), 50)
	s.Require().NoError(err)
	var found *JobRecord
	for i := range jobs {
		if jobs[i].JobID == id {
			found = &jobs[i]
		}
	}
	s.Require().NotNil(found)
	s.Equal("success", found.Status)
	s.Empty(strings.TrimSpace(found.ErrorMessage))
	s.InDelta(42, found.DurationSeconds, 0.01)
}

func TestPostgresStoreSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	if os.Getenv("WEALTHSYNC_TEST_POSTGRES_DSN") == "" {
		t.Skip("WEALTHSYNC_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, new(PostgresStoreSuite))
}
