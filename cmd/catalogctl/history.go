package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/catalogctl/pkg/reports"
	"github.com/rmax-ai/catalogctl/pkg/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		kind   string
		limit  int
		since  time.Duration
		report string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded campaigns as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := reports.ReportParams{Filters: map[string]interface{}{}}
			if kind != "" {
				switch k := store.CampaignKind(kind); k {
				case store.KindAssets, store.KindClasses, store.KindSources, store.KindLineage:
					params.Filters["kind"] = string(k)
				default:
					return fmt.Errorf("unknown campaign kind %q", kind)
				}
			}
			if limit > 0 {
				params.Filters["limit"] = limit
			}
			if since > 0 {
				params.Start = time.Now().Add(-since)
			}
			return a.writeReport(cmd.Context(), reports.ReportType(report), params)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only campaigns of this kind: assets|classes|sources|lineage")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of campaigns, 0 for all")
	cmd.Flags().DurationVar(&since, "since", 0, "only campaigns started within this duration")
	cmd.Flags().StringVar(&report, "report", string(reports.ReportTypeHistory), "report: history|undeletable")
	cmd.AddCommand(newHistoryPruneCmd(a))
	return cmd
}

func newHistoryPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete campaigns older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			n, err := a.history.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			a.logger.Info("history pruned", "older_than", olderThan, "removed", n)
			fmt.Fprintf(a.stdout(), "removed %d campaigns\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention period")
	return cmd
}

func (a *app) writeReport(ctx context.Context, t reports.ReportType, params reports.ReportParams) error {
	gen, err := reports.NewReportGenerator(t, a.history)
	if err != nil {
		return err
	}
	r, err := gen.Generate(ctx, params)
	if err != nil {
		return err
	}
	_, err = io.Copy(a.stdout(), r)
	return err
}
