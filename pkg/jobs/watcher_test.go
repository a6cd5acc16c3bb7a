package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/catalog/catalogtest"
)

// simJob finishes once the simulated clock reaches doneAt.
type simJob struct {
	mu     sync.Mutex
	now    time.Duration
	doneAt time.Duration
	final  catalog.JobStatus
	polls  int
	sleeps int
}

func (j *simJob) JobStatus(ctx context.Context, jobID string) (catalog.JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.polls++
	if j.now >= j.doneAt {
		return j.final, nil
	}
	return catalog.JobRunning, nil
}

func (j *simJob) after(d time.Duration) <-chan time.Time {
	j.mu.Lock()
	j.now += d
	j.sleeps++
	j.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestWatcher_PollCount(t *testing.T) {
	const interval = 45 * time.Second
	tests := []struct {
		name       string
		doneAt     time.Duration
		wantSleeps int
	}{
		{"already complete", 0, 0},
		{"one interval", 45 * time.Second, 1},
		{"just over one interval", 46 * time.Second, 2},
		{"100s", 100 * time.Second, 3},
		{"exact multiple", 180 * time.Second, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &simJob{doneAt: tt.doneAt, final: catalog.JobCompleted}
			w := NewWatcher(job, WithInterval(interval), WithClock(job.after))

			status, err := w.Await(context.Background(), "job-1", "")
			require.NoError(t, err)
			assert.Equal(t, catalog.JobCompleted, status)
			assert.Equal(t, tt.wantSleeps, job.sleeps)
			assert.Equal(t, tt.wantSleeps+1, job.polls)
		})
	}
}

func TestWatcher_PollHook(t *testing.T) {
	job := &simJob{doneAt: 90 * time.Second, final: catalog.JobCompleted}
	var polls []Poll
	w := NewWatcher(job, WithInterval(45*time.Second), WithClock(job.after), WithPollHook(func(p Poll) {
		polls = append(polls, p)
	}))

	_, err := w.Await(context.Background(), "job-1", "crm")
	require.NoError(t, err)
	require.Len(t, polls, 3)
	assert.Equal(t, Poll{JobID: "job-1", Label: "crm", N: 1, Status: catalog.JobRunning}, polls[0])
	assert.Equal(t, catalog.JobCompleted, polls[2].Status)
	assert.Equal(t, 3, polls[2].N)
}

func TestWatcher_TerminalStates(t *testing.T) {
	for _, final := range catalog.TerminalStatuses {
		t.Run(string(final), func(t *testing.T) {
			job := &simJob{doneAt: time.Minute, final: final}
			status, err := NewWatcher(job, WithClock(job.after)).Await(context.Background(), "j", "")
			require.NoError(t, err)
			assert.Equal(t, final, status)
		})
	}
}

func TestWatcher_UnknownStateIsNotTerminal(t *testing.T) {
	f := catalogtest.New()
	f.ScriptJob("j", "QUEUED", "QUEUED", catalog.JobCompleted)
	job := &simJob{}

	status, err := NewWatcher(f, WithClock(job.after)).Await(context.Background(), "j", "")
	require.NoError(t, err)
	assert.Equal(t, catalog.JobCompleted, status)
	assert.Equal(t, 2, job.sleeps)
}

func TestWatcher_CustomTerminalStates(t *testing.T) {
	f := catalogtest.New()
	f.ScriptJob("j", catalog.JobRunning, catalog.JobFailed)
	job := &simJob{}

	w := NewWatcher(f, WithClock(job.after), WithTerminalStates(catalog.JobFailed))
	status, err := w.Await(context.Background(), "j", "")
	require.NoError(t, err)
	assert.Equal(t, catalog.JobFailed, status)
}

func TestWatcher_MaxWait(t *testing.T) {
	job := &simJob{doneAt: time.Hour, final: catalog.JobCompleted}
	w := NewWatcher(job, WithInterval(45*time.Second), WithMaxWait(90*time.Second), WithClock(job.after))

	status, err := w.Await(context.Background(), "j", "")
	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, catalog.JobRunning, status)
	assert.Equal(t, 3, job.polls)
	assert.Equal(t, 2, job.sleeps)
}

func TestWatcher_PollErrors(t *testing.T) {
	boom := errors.New("503")
	f := catalogtest.New()
	f.Fail(catalogtest.OpJobStatus, "j", boom)
	job := &simJob{}

	_, err := NewWatcher(f, WithClock(job.after), WithMaxPollErrors(3)).Await(context.Background(), "j", "")
	require.ErrorIs(t, err, ErrPollErrors)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, f.CallsTo(catalogtest.OpJobStatus), 3)
}

func TestWatcher_Cancellation(t *testing.T) {
	f := catalogtest.New()
	f.ScriptJob("j", catalog.JobRunning)

	ctx, cancel := context.WithCancel(context.Background())
	never := func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	status, err := NewWatcher(f, WithClock(never)).Await(ctx, "j", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, catalog.JobRunning, status)
}
