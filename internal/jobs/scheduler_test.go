package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name    string
	runs    atomic.Int32
	err     error
	release chan struct{}
	started chan struct{}
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Run(ctx context.Context) error {
	f.runs.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.err
}

func TestTrigger(t *testing.T) {
	s := NewScheduler()
	ok := &fakeJob{name: "ok"}
	broken := &fakeJob{name: "broken", err: errors.New("boom")}
	require.NoError(t, s.Register(JobSpec{Name: "ok"}, ok))
	require.NoError(t, s.Register(JobSpec{Name: "broken"}, broken))

	assert.Equal(t, []string{"broken", "ok"}, s.Jobs())

	require.NoError(t, s.Trigger(context.Background(), "ok"))
	assert.Equal(t, int32(1), ok.runs.Load())

	err := s.Trigger(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.ErrorIs(t, s.Trigger(context.Background(), "nope"), ErrUnknownJob)
}

func TestRegisterRejectsBadSpecs(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Register(JobSpec{Name: "sizer", RunOnSchedule: true, Cron: "@every 6h"}, &fakeJob{name: "sizer"}))
	assert.Error(t, s.Register(JobSpec{Name: "sizer"}, &fakeJob{name: "sizer"}), "duplicate name")
	assert.Error(t, s.Register(JobSpec{Name: "reaper", RunOnSchedule: true, Cron: "not a cron"}, &fakeJob{name: "reaper"}))

	// Name defaults to the job's own.
	require.NoError(t, s.Register(JobSpec{}, &fakeJob{name: "indexer"}))
	assert.Contains(t, s.Jobs(), "indexer")
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := NewScheduler()
	job := &fakeJob{name: "slow", release: make(chan struct{}), started: make(chan struct{}, 1)}
	require.NoError(t, s.Register(JobSpec{Name: "slow"}, job))

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), "slow") }()
	<-job.started

	assert.ErrorIs(t, s.Trigger(context.Background(), "slow"), ErrJobRunning)

	close(job.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestStartRunsStartupJobs(t *testing.T) {
	s := NewScheduler()
	eager := &fakeJob{name: "eager"}
	lazy := &fakeJob{name: "lazy"}
	require.NoError(t, s.Register(JobSpec{Name: "eager", RunOnStartup: true}, eager))
	require.NoError(t, s.Register(JobSpec{Name: "lazy", RunOnSchedule: true, Cron: "@yearly"}, lazy))

	s.Start(context.Background())
	s.Stop()

	assert.Equal(t, int32(1), eager.runs.Load())
	assert.Equal(t, int32(0), lazy.runs.Load())
}

func TestScheduledRun(t *testing.T) {
	s := NewScheduler()
	job := &fakeJob{name: "tick", started: make(chan struct{}, 8)}
	require.NoError(t, s.Register(JobSpec{Name: "tick", RunOnSchedule: true, Cron: "@every 1s"}, job))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-job.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}
