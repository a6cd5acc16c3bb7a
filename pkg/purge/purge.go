// Package purge deletes every catalog asset matching a search predicate.
//
// Deleting an asset can fail while other assets still reference it, so a
// campaign repeats search-and-delete passes until a pass deletes nothing.
// Each pass snapshots the full result set, then hands every asset to a
// bounded worker pool. A worker removes the asset's relationships before
// the asset itself.
package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/metrics"
)

// ErrPassLimit is returned when a campaign is still making progress after
// MaxPasses passes.
var ErrPassLimit = errors.New("purge: pass limit reached")

const (
	DefaultPageSize    = 50
	MaxPageSize        = 100
	DefaultConcurrency = 25
	DefaultMaxPasses   = 100
	DefaultStallPasses = 5
)

// Config tunes a Scheduler. Zero values take the defaults.
type Config struct {
	PageSize    int
	Concurrency int
	// MaxPasses caps the number of passes; a campaign still deleting
	// after that many passes fails with ErrPassLimit.
	MaxPasses int
	// StallPasses is the number of consecutive failed passes after which
	// an asset is quarantined and no longer attempted.
	StallPasses int
	// SkipRelationships deletes assets without clearing relationships
	// first.
	SkipRelationships bool
	// IncludeOutgoing also clears relationships whose source is the asset.
	IncludeOutgoing bool
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = DefaultMaxPasses
	}
	if c.StallPasses <= 0 {
		c.StallPasses = DefaultStallPasses
	}
	return c
}

// Catalog is the subset of catalog.Catalog a purge needs.
type Catalog interface {
	Search(ctx context.Context, q catalog.Query, from, size int) (catalog.SearchPage, error)
	SearchRelationships(ctx context.Context, q catalog.RelationshipQuery) ([]catalog.Relationship, error)
	DeleteAsset(ctx context.Context, id, classType string) (catalog.DeleteResult, error)
	DeleteRelationship(ctx context.Context, from, to, relType string) (catalog.DeleteResult, error)
}

// Result summarizes a campaign.
type Result struct {
	CampaignID string `json:"campaign_id"`
	Query      string `json:"query"`
	// Passes holds the number of assets deleted in each pass; the last
	// entry of a converged campaign is 0.
	Passes               []int              `json:"passes"`
	Deleted              int                `json:"deleted"`
	RelationshipsDeleted int                `json:"relationships_deleted"`
	Undeletable          []catalog.AssetRef `json:"undeletable,omitempty"`
	StartedAt            time.Time          `json:"started_at"`
	FinishedAt           time.Time          `json:"finished_at"`
}

// Scheduler runs purge campaigns. It is safe to run several campaigns
// concurrently; all per-campaign state lives in PurgeAll.
type Scheduler struct {
	cat    Catalog
	cfg    Config
	logger *slog.Logger
}

func NewScheduler(cat Catalog, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cat: cat, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// campaign is the mutable state of one PurgeAll call.
type campaign struct {
	query       catalog.Query
	res         Result
	logger      *slog.Logger
	failStreak  map[string]int
	quarantined map[string]bool
}

// RunOption configures a single PurgeAll call.
type RunOption func(*Result)

// WithCampaignID names the campaign, so its log records and Result match
// a campaign recorded elsewhere. Without it PurgeAll generates an id.
func WithCampaignID(id string) RunOption {
	return func(r *Result) {
		if id != "" {
			r.CampaignID = id
		}
	}
}

// PurgeAll deletes every asset matching q, repeating passes until one
// deletes nothing. On cancellation or ErrPassLimit the partial Result is
// returned with the error.
func (s *Scheduler) PurgeAll(ctx context.Context, q catalog.Query, opts ...RunOption) (Result, error) {
	c := &campaign{
		query: q,
		res: Result{
			CampaignID: uuid.NewString(),
			Query:      q.String(),
			StartedAt:  time.Now().UTC(),
		},
		failStreak:  make(map[string]int),
		quarantined: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(&c.res)
	}
	c.logger = s.logger.With("campaign", c.res.CampaignID)
	c.logger.Info("purge started", "query", c.res.Query, "concurrency", s.cfg.Concurrency)

	err := s.run(ctx, c)
	c.res.FinishedAt = time.Now().UTC()

	attrs := []any{
		"passes", len(c.res.Passes),
		"deleted", c.res.Deleted,
		"relationships_deleted", c.res.RelationshipsDeleted,
		"undeletable", len(c.res.Undeletable),
	}
	if err != nil {
		c.logger.Error("purge stopped", append(attrs, "error", err)...)
		return c.res, err
	}
	c.logger.Info("purge complete", attrs...)
	return c.res, nil
}

func (s *Scheduler) run(ctx context.Context, c *campaign) error {
	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		assets, err := s.snapshot(ctx, c, pass)
		if err != nil {
			return err
		}

		var todo []catalog.Asset
		for _, a := range assets {
			if !c.quarantined[a.ID] {
				todo = append(todo, a)
			}
		}
		c.logger.Info("pass started", "pass", pass, "found", len(assets), "attempting", len(todo))

		out := s.runPass(ctx, todo, c.logger.With("pass", pass))
		metrics.PurgePasses.Inc()

		c.res.Passes = append(c.res.Passes, out.deleted)
		c.res.Deleted += out.deleted
		c.res.RelationshipsDeleted += out.relationships
		c.logger.Info("pass complete", "pass", pass, "deleted", out.deleted, "failed", len(out.failed))

		if err := ctx.Err(); err != nil {
			c.res.Undeletable = s.undeletable(c, out.failed)
			return err
		}

		s.track(c, assets, out.failed)

		if out.deleted == 0 {
			c.res.Undeletable = s.undeletable(c, out.failed)
			return nil
		}
		if pass >= s.cfg.MaxPasses {
			c.res.Undeletable = s.undeletable(c, out.failed)
			return fmt.Errorf("%w: still deleting after %d passes", ErrPassLimit, pass)
		}
	}
}

// snapshot pages through the whole result set before any deletion so
// that deletes do not shift the pages being read.
func (s *Scheduler) snapshot(ctx context.Context, c *campaign, pass int) ([]catalog.Asset, error) {
	seen := make(map[string]bool)
	var assets []catalog.Asset

	for from := 0; ; from += s.cfg.PageSize {
		page, err := s.cat.Search(ctx, c.query, from, s.cfg.PageSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("pass %d: search %q at %d: %w", pass, c.res.Query, from, err)
		}
		for _, a := range page.Assets {
			if a.ID == "" || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			assets = append(assets, a)
		}
		if len(page.Assets) == 0 || from+len(page.Assets) >= page.Total {
			return assets, nil
		}
	}
}

type passOutcome struct {
	deleted       int
	relationships int
	failed        []catalog.AssetRef
}

func (s *Scheduler) runPass(ctx context.Context, assets []catalog.Asset, logger *slog.Logger) passOutcome {
	var (
		deleted atomic.Int64
		rels    atomic.Int64
		mu      sync.Mutex
		failed  []catalog.AssetRef
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, a := range assets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, st := s.purgeOne(gCtx, a, logger)
			rels.Add(int64(n))
			switch st {
			case statusDeleted:
				deleted.Add(1)
			case statusFailed:
				mu.Lock()
				failed = append(failed, a.Ref())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return passOutcome{
		deleted:       int(deleted.Load()),
		relationships: int(rels.Load()),
		failed:        failed,
	}
}

type assetStatus int

const (
	statusFailed assetStatus = iota
	statusDeleted
	statusGone // removed by someone else since the snapshot
)

// purgeOne clears the relationships of a, then deletes it. It returns
// the number of relationships deleted and what happened to a.
func (s *Scheduler) purgeOne(ctx context.Context, a catalog.Asset, logger *slog.Logger) (int, assetStatus) {
	logger = logger.With("id", a.ID, "name", a.Name)

	var relsDeleted int
	if !s.cfg.SkipRelationships {
		relsDeleted = s.clearRelationships(ctx, a, logger)
	}
	if ctx.Err() != nil {
		return relsDeleted, statusFailed
	}

	res, err := s.cat.DeleteAsset(ctx, a.ID, a.ClassType)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		logger.Debug("asset already gone")
		return relsDeleted, statusGone
	case err != nil:
		logger.Warn("asset delete failed", "error", err)
		metrics.PurgeRejected.WithLabelValues("asset", "error").Inc()
		return relsDeleted, statusFailed
	case !res.Deleted():
		logger.Info("asset not yet deletable", "reason", res.Reason())
		metrics.PurgeRejected.WithLabelValues("asset", catalog.MessageContentFailed).Inc()
		return relsDeleted, statusFailed
	}

	logger.Debug("asset deleted", "class_type", a.ClassType)
	metrics.PurgeDeleted.WithLabelValues("asset").Inc()
	return relsDeleted, statusDeleted
}

func (s *Scheduler) clearRelationships(ctx context.Context, a catalog.Asset, logger *slog.Logger) int {
	queries := []catalog.RelationshipQuery{{Target: a.ID}}
	if s.cfg.IncludeOutgoing {
		queries = append(queries, catalog.RelationshipQuery{Source: a.ID})
	}

	var n int
	for _, q := range queries {
		rels, err := s.cat.SearchRelationships(ctx, q)
		if err != nil {
			logger.Warn("relationship search failed", "error", err)
			continue
		}
		if len(rels) > 0 {
			logger.Debug("found asset links", "count", len(rels))
		}
		for _, r := range rels {
			for _, t := range r.Types {
				if ctx.Err() != nil {
					return n
				}
				res, err := s.cat.DeleteRelationship(ctx, r.From, r.To, t)
				if err != nil {
					logger.Warn("relationship delete failed", "from", r.From, "to", r.To, "type", t, "error", err)
					metrics.PurgeRejected.WithLabelValues("relationship", "error").Inc()
					continue
				}
				if !res.Deleted() {
					logger.Debug("relationship not deleted", "from", r.From, "to", r.To, "type", t, "reason", res.Reason())
					metrics.PurgeRejected.WithLabelValues("relationship", catalog.MessageContentFailed).Inc()
					continue
				}
				metrics.PurgeDeleted.WithLabelValues("relationship").Inc()
				n++
			}
		}
	}
	return n
}

// track updates the consecutive failure streaks and quarantines assets
// that reached StallPasses.
func (s *Scheduler) track(c *campaign, seen []catalog.Asset, failed []catalog.AssetRef) {
	present := make(map[string]bool, len(seen))
	for _, a := range seen {
		present[a.ID] = true
	}
	for id := range c.failStreak {
		if !present[id] {
			delete(c.failStreak, id)
		}
	}

	failedNow := make(map[string]bool, len(failed))
	for _, ref := range failed {
		failedNow[ref.ID] = true
		c.failStreak[ref.ID]++
		if c.failStreak[ref.ID] >= s.cfg.StallPasses && !c.quarantined[ref.ID] {
			c.quarantined[ref.ID] = true
			c.res.Undeletable = append(c.res.Undeletable, ref)
			c.logger.Warn("asset quarantined", "id", ref.ID, "name", ref.Name, "failed_passes", c.failStreak[ref.ID])
		}
	}
	for id := range c.failStreak {
		if !failedNow[id] && !c.quarantined[id] {
			delete(c.failStreak, id)
		}
	}
}

// undeletable merges quarantined assets with the failures of the last
// pass.
func (s *Scheduler) undeletable(c *campaign, lastFailed []catalog.AssetRef) []catalog.AssetRef {
	out := c.res.Undeletable
	for _, ref := range lastFailed {
		if !c.quarantined[ref.ID] {
			out = append(out, ref)
		}
	}
	return out
}
