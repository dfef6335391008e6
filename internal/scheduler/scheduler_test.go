package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	calls atomic.Int32
	err   error
}

func (j *countingJob) run(ctx context.Context) error {
	j.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	return j.err
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := NewScheduler(context.Background(), (&countingJob{}).run)
	assert.Error(t, s.Register("not a cron spec"))
	// five fields are rejected once seconds are enabled
	assert.Error(t, s.Register("30 22 * * 1-5"))
	require.NoError(t, s.Register("0 30 22 * * 1-5"))
	assert.Len(t, s.Cron.Entries(), 1)
}

func TestRunNow(t *testing.T) {
	t.Parallel()
	job := &countingJob{err: errors.New("provider down")}
	s := NewScheduler(context.Background(), job.run)
	s.RunNow()
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestScheduledRun(t *testing.T) {
	t.Parallel()
	job := &countingJob{}
	s := NewScheduler(context.Background(), job.run)
	require.NoError(t, s.Register("* * * * * *"))
	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return job.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
