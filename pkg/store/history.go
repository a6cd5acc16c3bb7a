package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Record saves a running campaign, runs fn, and saves the campaign again
// with the fields fn filled in and a final status derived from its error.
// History write failures are logged, never returned: losing a history row
// must not fail a purge.
func Record(ctx context.Context, cs CampaignStore, logger *slog.Logger, c Campaign, fn func(*Campaign) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	c.Status = StatusRunning
	if err := cs.SaveCampaign(ctx, c); err != nil {
		logger.Warn("failed to record campaign start", "campaign", c.ID, "error", err)
	}

	runErr := fn(&c)

	c.FinishedAt = time.Now().UTC()
	switch {
	case runErr == nil:
		c.Status = StatusCompleted
	case ctx.Err() != nil:
		c.Status = StatusCancelled
		c.Error = runErr.Error()
	default:
		c.Status = StatusFailed
		c.Error = runErr.Error()
	}

	// The run context may be cancelled; the final row still goes out.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := cs.SaveCampaign(saveCtx, c); err != nil {
		logger.Warn("failed to record campaign result", "campaign", c.ID, "error", err)
	}
	return runErr
}

// Hold acquires the lease name for holderID, runs fn, and releases it.
// It fails without running fn when someone else holds the lease. A failed
// release is logged; the lease then lapses after ttl.
func Hold(ctx context.Context, ls LeaseStore, logger *slog.Logger, name, holderID string, ttl time.Duration, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		return fmt.Errorf("lease %s: ttl must be positive", name)
	}
	ok, err := ls.Acquire(ctx, name, holderID, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		holder := "another run"
		if l, err := ls.Get(ctx, name); err == nil && l != nil {
			holder = l.HolderID
		}
		return fmt.Errorf("%s is held by %s", name, holder)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := ls.Release(releaseCtx, name, holderID); err != nil {
			logger.Warn("failed to release lease", "lease", name, "holder", holderID, "ttl", ttl, "error", err)
		}
	}()

	// Renew at a third of the ttl so a long campaign keeps its claim.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	renewErr := make(chan error, 1)
	go func() {
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
				if err := ls.Renew(runCtx, name, holderID, ttl); err != nil && runCtx.Err() == nil {
					renewErr <- err
					cancel()
					return
				}
			}
		}
	}()

	err = fn(runCtx)
	select {
	case rerr := <-renewErr:
		return fmt.Errorf("lease %s: %w", name, rerr)
	default:
	}
	return err
}
