package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/gstdesign/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoff time.Time
	calls  int
	n      int64
	err    error
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.n, f.err
}

type countingJob struct {
	runs chan struct{}
}

func (c *countingJob) Name() string { return "counting" }

func (c *countingJob) Run() error {
	select {
	case c.runs <- struct{}{}:
	default:
	}
	return nil
}

func TestRunRetentionJob_Cutoff(t *testing.T) {
	pruner := &fakePruner{n: 3}
	job := NewRunRetentionJob(pruner, 48*time.Hour, zerolog.Nop())
	now := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run())
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, now.Add(-48*time.Hour), pruner.cutoff)
	assert.Equal(t, "run_retention", job.Name())
}

func TestRunRetentionJob_DisabledAndErrors(t *testing.T) {
	pruner := &fakePruner{}
	require.NoError(t, NewRunRetentionJob(pruner, 0, zerolog.Nop()).Run())
	assert.Zero(t, pruner.calls)

	pruner.err = errors.New("disk full")
	assert.Error(t, NewRunRetentionJob(pruner, time.Hour, zerolog.Nop()).Run())
}

func TestCheckWALCheckpointsJob(t *testing.T) {
	job := NewCheckWALCheckpointsJob(nil, zerolog.Nop())
	assert.Equal(t, "check_wal_checkpoints", job.Name())
	assert.NoError(t, job.Run(), "no database is a no-op")

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	assert.NoError(t, NewCheckWALCheckpointsJob(db, zerolog.Nop()).Run())
}

func TestScheduler_RunsRegisteredJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{runs: make(chan struct{}, 1)}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	select {
	case <-job.runs:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	require.Eventually(t, func() bool {
		return s.Jobs()[0].Runs >= 1
	}, 5*time.Second, 10*time.Millisecond)

	st := s.Jobs()[0]
	assert.Equal(t, "@every 1s", st.Schedule)
	assert.False(t, st.LastRun.IsZero())
	assert.False(t, st.Next.IsZero())
}

type namedJob struct {
	name string
	err  error
}

func (n *namedJob) Name() string { return n.name }
func (n *namedJob) Run() error   { return n.err }

func TestScheduler_Registry(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("", &namedJob{name: "manual"}))
	assert.ErrorIs(t, s.AddJob("@hourly", &namedJob{name: "manual"}), ErrDuplicateJob)
	assert.Error(t, s.AddJob("not a schedule", &namedJob{name: "broken"}))
	require.NoError(t, s.AddJob("@hourly", &namedJob{name: "failing", err: errors.New("boom")}))

	assert.ErrorIs(t, s.RunNow("missing"), ErrUnknownJob)
	assert.NoError(t, s.RunNow("manual"))
	assert.EqualError(t, s.RunNow("failing"), "boom")

	statuses := s.Jobs()
	require.Len(t, statuses, 2, "a job with a bad schedule is not registered")
	assert.Equal(t, "failing", statuses[0].Name)
	assert.Equal(t, "boom", statuses[0].LastError)
	assert.Equal(t, "manual", statuses[1].Name)
	assert.Empty(t, statuses[1].Schedule)
	assert.True(t, statuses[1].Next.IsZero())
	assert.EqualValues(t, 1, statuses[1].Runs)
}

type blockingJob struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingJob) Name() string { return "blocking" }

func (b *blockingJob) Run() error {
	close(b.started)
	<-b.release
	return nil
}

func TestScheduler_RunNowRejectsOverlap(t *testing.T) {
	s := New(zerolog.Nop())
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, s.AddJob("", job))

	done := make(chan error, 1)
	go func() { done <- s.RunNow("blocking") }()
	<-job.started

	assert.ErrorIs(t, s.RunNow("blocking"), ErrJobRunning)
	assert.True(t, s.Jobs()[0].Running)

	close(job.release)
	require.NoError(t, <-done)
	assert.False(t, s.Jobs()[0].Running)
}
