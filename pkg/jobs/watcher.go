// Package jobs follows long-running catalog jobs and drives source purges
// that run as such jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/metrics"
)

var (
	// ErrWaitTimeout is returned when a job is still running after MaxWait.
	ErrWaitTimeout = errors.New("jobs: wait timeout")
	// ErrPollErrors is returned after too many consecutive failed polls.
	ErrPollErrors = errors.New("jobs: too many failed status polls")
)

const (
	DefaultInterval      = 45 * time.Second
	DefaultMaxPollErrors = 5
)

// StatusReader reads the state of a job.
type StatusReader interface {
	JobStatus(ctx context.Context, jobID string) (catalog.JobStatus, error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithTerminalStates replaces the set of states that end a wait.
func WithTerminalStates(states ...catalog.JobStatus) WatcherOption {
	return func(w *Watcher) {
		if len(states) > 0 {
			w.terminal = slices.Clone(states)
		}
	}
}

// WithMaxWait bounds the total time slept. Zero waits forever.
func WithMaxWait(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.maxWait = d
		}
	}
}

// WithMaxPollErrors sets how many consecutive failed polls are tolerated.
func WithMaxPollErrors(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.maxPollErrors = n
		}
	}
}

// WithClock replaces time.After, for tests.
func WithClock(after func(time.Duration) <-chan time.Time) WatcherOption {
	return func(w *Watcher) {
		if after != nil {
			w.after = after
		}
	}
}

// Poll is one job status read.
type Poll struct {
	JobID  string
	Label  string
	N      int
	Status catalog.JobStatus
	Err    error
}

// WithPollHook calls fn after every status read. fn runs on the caller's
// goroutine and must not block.
func WithPollHook(fn func(Poll)) WatcherOption {
	return func(w *Watcher) {
		w.onPoll = fn
	}
}

func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher polls job status until the job reaches a terminal state. It
// keeps no per-job state and may be shared by concurrent callers.
type Watcher struct {
	jobs          StatusReader
	interval      time.Duration
	terminal      []catalog.JobStatus
	maxWait       time.Duration
	maxPollErrors int
	after         func(time.Duration) <-chan time.Time
	onPoll        func(Poll)
	logger        *slog.Logger
}

func NewWatcher(jobs StatusReader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		jobs:          jobs,
		interval:      DefaultInterval,
		terminal:      slices.Clone(catalog.TerminalStatuses),
		maxPollErrors: DefaultMaxPollErrors,
		after:         time.After,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Interval() time.Duration { return w.interval }

func (w *Watcher) isTerminal(s catalog.JobStatus) bool {
	return slices.Contains(w.terminal, s)
}

// Await polls jobID immediately and then once per interval until it
// reports a terminal state, which is returned. label only decorates logs.
func (w *Watcher) Await(ctx context.Context, jobID, label string) (catalog.JobStatus, error) {
	logger := w.logger.With("job", jobID)
	if label != "" {
		logger = logger.With("source", label)
	}

	var (
		waited     time.Duration
		pollErrors int
		last       catalog.JobStatus
	)
	for polls := 1; ; polls++ {
		status, err := w.jobs.JobStatus(ctx, jobID)
		if w.onPoll != nil {
			w.onPoll(Poll{JobID: jobID, Label: label, N: polls, Status: status, Err: err})
		}
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			pollErrors++
			metrics.JobPolls.WithLabelValues("error").Inc()
			logger.Warn("job status poll failed", "poll", polls, "consecutive_errors", pollErrors, "error", err)
			if pollErrors >= w.maxPollErrors {
				return last, fmt.Errorf("job %s: %w: %w", jobID, ErrPollErrors, err)
			}
		default:
			pollErrors = 0
			last = status
			metrics.JobPolls.WithLabelValues(string(status)).Inc()
			if w.isTerminal(status) {
				logger.Info("job finished", "status", status, "polls", polls, "waited", waited)
				return status, nil
			}
			logger.Info("job still running", "status", status, "poll", polls)
		}

		if w.maxWait > 0 && waited >= w.maxWait {
			return last, fmt.Errorf("job %s: %w after %s (last status %q)", jobID, ErrWaitTimeout, waited, last)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-w.after(w.interval):
			waited += w.interval
		}
	}
}
