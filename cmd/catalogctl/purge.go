package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/jobs"
	"github.com/rmax-ai/catalogctl/pkg/progress"
	"github.com/rmax-ai/catalogctl/pkg/purge"
	"github.com/rmax-ai/catalogctl/pkg/reports"
	"github.com/rmax-ai/catalogctl/pkg/store"
)

// errNotConfirmed guards every destructive command.
var errNotConfirmed = errors.New("refusing to delete without --confirm")

const defaultAssetQuery = "business assets"

// cdamClasses are the data access management classes purged by
// `purge classes` when no --class is given.
var cdamClasses = []string{
	"DataAccessEnforcementPolicy",
	"DataFilterEnforcementPolicy",
	"DataProtection",
	"DataProtectionEnforcementPolicy",
	"PrecedenceTier",
}

const cdamClassPrefix = "com.infa.ccgf.models.cdam."

func defaultClassTypes() []string {
	types := make([]string, len(cdamClasses))
	for i, c := range cdamClasses {
		types[i] = cdamClassPrefix + c
	}
	return types
}

func newPurgeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete catalog content",
	}
	cmd.AddCommand(newPurgeAssetsCmd(a), newPurgeClassesCmd(a), newPurgeSourcesCmd(a))
	return cmd
}

func (a *app) scheduler(ctx context.Context, skipRelationships, includeOutgoing bool) (*purge.Scheduler, error) {
	cat, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	return purge.NewScheduler(cat, purge.Config{
		PageSize:          a.cfg.Purge.PageSize,
		Concurrency:       a.cfg.Purge.Concurrency,
		MaxPasses:         a.cfg.Purge.MaxPasses,
		StallPasses:       a.cfg.Purge.StallPasses,
		SkipRelationships: skipRelationships,
		IncludeOutgoing:   includeOutgoing,
	}, a.logger), nil
}

// runPurge runs one exclusive purge campaign for q and reports the
// assets it could not delete.
func (a *app) runPurge(ctx context.Context, kind store.CampaignKind, q catalog.Query, s *purge.Scheduler, reportPath string) error {
	c := store.Campaign{Kind: kind, Target: q.String()}
	return a.campaign(ctx, c, true, func(ctx context.Context, c *store.Campaign) error {
		res, err := s.PurgeAll(ctx, q, purge.WithCampaignID(c.ID))
		c.Passes = res.Passes
		c.Processed = res.Deleted + len(res.Undeletable)
		c.Succeeded = res.Deleted
		c.Undeletable = res.Undeletable

		fmt.Fprintf(a.stdout(), "deleted %d assets and %d relationships in %d passes; %d undeletable\n",
			res.Deleted, res.RelationshipsDeleted, len(res.Passes), len(res.Undeletable))
		if reportPath != "" {
			if werr := writeFile(reportPath, func(w io.Writer) error { return reports.WriteUndeletable(w, res) }); werr != nil {
				return errors.Join(err, werr)
			}
		}
		return err
	})
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func newPurgeAssetsCmd(a *app) *cobra.Command {
	var (
		query           string
		days            int
		includeOutgoing bool
		confirm         bool
		report          string
	)

	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Delete the governance assets matching a query, relationships first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errNotConfirmed
			}
			if days < 0 {
				return fmt.Errorf("--days cannot be negative")
			}
			s, err := a.scheduler(cmd.Context(), false, includeOutgoing)
			if err != nil {
				return err
			}
			q := catalog.Query{Knowledge: query, CreatedWithinDays: days}
			return a.runPurge(cmd.Context(), store.KindAssets, q, s, report)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", defaultAssetQuery, "knowledge query selecting the assets")
	cmd.Flags().IntVar(&days, "days", 0, "only assets created within this many days, 0 for all")
	cmd.Flags().BoolVar(&includeOutgoing, "include-outgoing", false, "also delete relationships that start at the asset")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "actually delete")
	cmd.Flags().StringVar(&report, "report", "", "write the undeletable assets as CSV to this file")
	return cmd
}

func newPurgeClassesCmd(a *app) *cobra.Command {
	var (
		classes []string
		confirm bool
		report  string
	)

	cmd := &cobra.Command{
		Use:   "classes",
		Short: "Delete every asset of the given class types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errNotConfirmed
			}
			types := defaultClassTypes()
			if len(classes) > 0 {
				types = nil
				for _, c := range classes {
					if c = strings.TrimSpace(c); c != "" {
						types = append(types, c)
					}
				}
			}
			slices.Sort(types)
			types = slices.Compact(types)

			s, err := a.scheduler(cmd.Context(), true, false)
			if err != nil {
				return err
			}
			return a.runPurge(cmd.Context(), store.KindClasses, catalog.Query{ClassTypes: types}, s, report)
		},
	}

	cmd.Flags().StringSliceVar(&classes, "class", nil, "class type to delete (repeatable); defaults to the data access management classes")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "actually delete")
	cmd.Flags().StringVar(&report, "report", "", "write the undeletable assets as CSV to this file")
	return cmd
}

func newPurgeSourcesCmd(a *app) *cobra.Command {
	var (
		source       string
		all          bool
		deleteSource bool
		confirm      bool
		maxWait      time.Duration
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Purge the technical assets of catalog sources and wait for the jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errNotConfirmed
			}
			if !cmd.Flags().Changed("max-wait") {
				maxWait = a.cfg.Jobs.MaxWait
			}
			if showProgress && !stderrIsTerminal(a.stderr) {
				a.logger.Info("--progress needs a terminal on stderr, showing logs instead")
				showProgress = false
			}
			return a.purgeSources(cmd.Context(), jobs.Selector{All: all, Name: source}, deleteSource, maxWait, showProgress)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "name of the catalog source to purge")
	cmd.Flags().BoolVar(&all, "all", false, "purge every catalog source")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "delete each source once its purge completed")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "actually purge")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "give up waiting on a job after this long, 0 for no limit")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "show a live table of the jobs on stderr; logs are held until it closes")
	cmd.MarkFlagsMutuallyExclusive("source", "all")
	cmd.MarkFlagsOneRequired("source", "all")
	return cmd
}

func stderrIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && progress.IsTerminal(f)
}

func (a *app) purgeSources(ctx context.Context, sel jobs.Selector, deleteSource bool, maxWait time.Duration, showProgress bool) error {
	cat, err := a.client(ctx)
	if err != nil {
		return err
	}
	watchOpts := []jobs.WatcherOption{
		jobs.WithInterval(a.cfg.Jobs.PollInterval),
		jobs.WithMaxWait(maxWait),
		jobs.WithWatcherLogger(a.logger),
	}
	sourceCfg := jobs.SourceConfig{
		Concurrency:      a.cfg.Jobs.Concurrency,
		MaxJitter:        a.cfg.Jobs.MaxJitter,
		DeleteAfterPurge: deleteSource,
	}
	stopBoard := func() {}
	if showProgress {
		a.logOut.hold()
		board := progress.Start(ctx, a.stderr)
		stopBoard = sync.OnceFunc(func() {
			if err := board.Stop(); err != nil {
				a.logger.Warn("progress view failed", "error", err)
			}
			if err := a.logOut.release(); err != nil {
				fmt.Fprintf(a.stderr, "failed to write held logs: %v\n", err)
			}
		})
		defer stopBoard()
		watchOpts = append(watchOpts, jobs.WithPollHook(board.Poll))
		sourceCfg.OnEvent = board.Event
	}
	w := jobs.NewWatcher(cat, watchOpts...)
	p := jobs.NewSourcePurger(cat, w, sourceCfg, a.logger)

	target := sel.Name
	if sel.All {
		target = "*"
	}
	c := store.Campaign{Kind: store.KindSources, Target: target}
	return a.campaign(ctx, c, true, func(ctx context.Context, c *store.Campaign) error {
		outcomes, err := p.Run(ctx, sel)
		stopBoard()
		c.Processed = len(outcomes)
		var failed []error
		for _, o := range outcomes {
			if o.Err == nil && o.Status == catalog.JobCompleted {
				c.Succeeded++
			}
			if o.Err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", o.Source.Name, o.Err))
			}
		}
		if len(outcomes) > 0 {
			if werr := reports.WriteSourceOutcomes(a.stdout(), outcomes); werr != nil {
				return errors.Join(err, werr)
			}
		}
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d sources failed: %w", len(failed), len(outcomes), errors.Join(failed...))
		}
		return nil
	})
}
