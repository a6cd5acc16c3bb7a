package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
)

// ErrSourceNotFound is returned when a named source is not registered.
var ErrSourceNotFound = errors.New("jobs: catalog source not found")

const (
	DefaultSourceConcurrency = 8
	DefaultMaxJitter         = 5 * time.Second
	DefaultSourcePageSize    = 25
)

// SourceCatalog is the subset of catalog.Catalog a source purge needs.
type SourceCatalog interface {
	ListSources(ctx context.Context, offset, limit int) ([]catalog.Source, error)
	PurgeSource(ctx context.Context, name string) (catalog.JobHandle, error)
	DeleteSource(ctx context.Context, name string) error
}

// SourceConfig tunes a SourcePurger. Zero values take the defaults.
type SourceConfig struct {
	Concurrency int
	// MaxJitter spreads the start of concurrent purges over [0, MaxJitter).
	MaxJitter time.Duration
	// DeleteAfterPurge soft-deletes a source once its purge COMPLETED.
	DeleteAfterPurge bool
	PageSize         int
	// OnEvent, when set, receives every stage change. It is called from
	// the worker goroutines and must not block.
	OnEvent func(Event)
}

// Selector picks the sources to purge: all of them, or one by name.
type Selector struct {
	All  bool
	Name string
}

func (s Selector) validate() error {
	switch {
	case s.All && s.Name != "":
		return errors.New("select either all sources or one source name, not both")
	case !s.All && s.Name == "":
		return errors.New("no source selected")
	}
	return nil
}

// Outcome is the result of purging one source.
type Outcome struct {
	Source        catalog.Source    `json:"source"`
	JobID         string            `json:"job_id,omitempty"`
	Status        catalog.JobStatus `json:"status,omitempty"`
	SourceDeleted bool              `json:"source_deleted"`
	Err           error             `json:"-"`
}

// Stage is how far the purge of one source has got.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageRequested Stage = "requested"
	StageRunning   Stage = "running"
	StageDeleting  Stage = "deleting"
	StageDone      Stage = "done"
)

// Event reports that a source moved to a new stage. Outcome is set only
// for StageDone.
type Event struct {
	Source  string
	Stage   Stage
	JobID   string
	Outcome *Outcome
}

// ErrText returns the outcome's error text, or "".
func (o Outcome) ErrText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// SourcePurger purges catalog sources and waits for the resulting jobs.
type SourcePurger struct {
	cat     SourceCatalog
	watcher *Watcher
	cfg     SourceConfig
	logger  *slog.Logger

	jitter func(limit time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSourcePurger(cat SourceCatalog, w *Watcher, cfg SourceConfig, logger *slog.Logger) *SourcePurger {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSourceConcurrency
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultSourcePageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SourcePurger{
		cat:     cat,
		watcher: w,
		cfg:     cfg,
		logger:  logger,
		jitter:  randomJitter,
		sleep:   sleepCtx,
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ListAll pages through every registered source.
func (p *SourcePurger) ListAll(ctx context.Context) ([]catalog.Source, error) {
	var all []catalog.Source
	for offset := 0; ; offset += p.cfg.PageSize {
		page, err := p.cat.ListSources(ctx, offset, p.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list sources at %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < p.cfg.PageSize {
			return all, nil
		}
	}
}

// Run purges the selected sources on a bounded pool. Per-source failures
// are reported in the outcomes; only listing and selection errors are
// returned.
func (p *SourcePurger) Run(ctx context.Context, sel Selector) ([]Outcome, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}
	all, err := p.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	selected := all
	if !sel.All {
		selected = nil
		for _, s := range all {
			if s.Name == sel.Name {
				selected = append(selected, s)
				break
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, sel.Name)
		}
	}
	p.logger.Info("purging catalog sources", "count", len(selected), "concurrency", p.cfg.Concurrency, "delete_after_purge", p.cfg.DeleteAfterPurge)

	for _, src := range selected {
		p.emit(Event{Source: src.Name, Stage: StageQueued})
	}

	outcomes := make([]Outcome, len(selected))
	var completed atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, src := range selected {
		g.Go(func() error {
			outcomes[i] = p.purgeOne(gCtx, src)
			if outcomes[i].Status == catalog.JobCompleted {
				completed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("source purge finished", "sources", len(selected), "completed", completed.Load())
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (p *SourcePurger) emit(e Event) {
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(e)
	}
}

func (p *SourcePurger) purgeOne(ctx context.Context, src catalog.Source) (out Outcome) {
	out.Source = src
	logger := p.logger.With("source", src.Name)
	defer func() {
		done := out
		p.emit(Event{Source: src.Name, Stage: StageDone, JobID: out.JobID, Outcome: &done})
	}()

	if err := p.sleep(ctx, p.jitter(p.cfg.MaxJitter)); err != nil {
		out.Err = err
		return out
	}

	logger.Info("requesting purge")
	p.emit(Event{Source: src.Name, Stage: StageRequested})
	h, err := p.cat.PurgeSource(ctx, src.Name)
	if err != nil {
		logger.Warn("purge request failed", "error", err)
		out.Err = err
		return out
	}
	out.JobID = h.JobID
	p.emit(Event{Source: src.Name, Stage: StageRunning, JobID: h.JobID})

	if h.JobID == "" {
		// completed inline
		out.Status = h.Status
		if out.Status == "" {
			out.Status = catalog.JobCompleted
		}
	} else {
		status, err := p.watcher.Await(ctx, h.JobID, src.Name)
		out.Status = status
		if err != nil {
			logger.Warn("purge job not followed to completion", "job", h.JobID, "error", err)
			out.Err = err
			return out
		}
	}

	if out.Status != catalog.JobCompleted {
		logger.Warn("purge job did not complete cleanly", "job", out.JobID, "status", out.Status)
		return out
	}
	logger.Info("purge completed", "job", out.JobID)

	if !p.cfg.DeleteAfterPurge {
		return out
	}
	p.emit(Event{Source: src.Name, Stage: StageDeleting, JobID: out.JobID})
	if err := p.cat.DeleteSource(ctx, src.Name); err != nil {
		logger.Warn("source delete failed", "error", err)
		out.Err = err
		return out
	}
	out.SourceDeleted = true
	logger.Info("source deleted")
	return out
}
