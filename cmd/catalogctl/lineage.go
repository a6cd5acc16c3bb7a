package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/graph"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
	"github.com/rmax-ai/catalogctl/pkg/reports"
	"github.com/rmax-ai/catalogctl/pkg/store"
)

func newLineageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Trace and survey asset lineage",
	}
	cmd.AddCommand(newLineageExportCmd(a), newLineageListCmd(a))
	return cmd
}

type exportOptions struct {
	direction string
	maxDepth  int
	outputDir string
	urlPrefix string
	graphPath string
}

// parseDirections turns "both", "inbound" or "outbound" into the
// directions to walk, inbound first.
func parseDirections(s string) ([]catalog.Direction, error) {
	if strings.EqualFold(strings.TrimSpace(s), "both") {
		return catalog.AllDirections, nil
	}
	d, err := catalog.ParseDirection(s)
	if err != nil {
		return nil, err
	}
	return []catalog.Direction{d}, nil
}

func newLineageExportCmd(a *app) *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export <asset-id>",
		Short: "Export the lineage of an asset to CSV, one file per direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.exportLineage(cmd.Context(), args[0], opts, cmd.Flags().Changed("max-depth"), cmd.Flags().Changed("output-dir"), cmd.Flags().Changed("url-prefix"))
		},
	}

	cmd.Flags().StringVarP(&opts.direction, "direction", "d", "both", "lineage direction: both|inbound|outbound")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "stop descending below this depth, 0 for unlimited")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", ".", "directory for the CSV exports")
	cmd.Flags().StringVar(&opts.urlPrefix, "url-prefix", "", "prefix joined with the asset id for the Asset URL column")
	cmd.Flags().StringVar(&opts.graphPath, "graph", "", "also write the lineage graph as JSON to this file")
	return cmd
}

func (a *app) exportLineage(ctx context.Context, assetID string, opts exportOptions, depthSet, dirSet, prefixSet bool) error {
	directions, err := parseDirections(opts.direction)
	if err != nil {
		return err
	}
	if !depthSet {
		opts.maxDepth = a.cfg.Lineage.MaxDepth
	}
	if !dirSet {
		opts.outputDir = a.cfg.Lineage.OutputDir
	}
	if !prefixSet {
		opts.urlPrefix = a.cfg.Lineage.AssetURLPrefix
	}
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cat, err := a.client(ctx)
	if err != nil {
		return err
	}
	tr := lineage.NewTraverser(cat, lineage.WithMaxDepth(opts.maxDepth), lineage.WithLogger(a.logger))

	c := store.Campaign{Kind: store.KindLineage, Target: assetID}
	return a.campaign(ctx, c, false, func(ctx context.Context, c *store.Campaign) error {
		var proj *graph.Projection
		var failures []error

		for _, d := range directions {
			walk, err := tr.Traverse(ctx, assetID, d)
			if err != nil {
				return err
			}
			if proj == nil {
				proj = graph.NewProjection(walk.Root())
			}

			rows, err := writeWalk(walk, proj, opts)
			c.Passes = append(c.Passes, rows)
			c.Processed += rows
			c.Succeeded += rows
			if err != nil {
				return err
			}
			for _, f := range walk.Failures() {
				failures = append(failures, f)
			}
			a.logger.Info("lineage exported",
				"root", walk.Root().Name,
				"direction", d,
				"records", rows,
				"loops", len(walk.Loops()),
				"failures", len(walk.Failures()),
			)
		}
		if opts.graphPath != "" && proj != nil {
			if err := writeGraph(opts.graphPath, proj); err != nil {
				return err
			}
		}
		if len(failures) > 0 {
			// the exports are complete apart from the failed branches
			a.logger.Warn("some lineage branches could not be followed", "error", errors.Join(failures...))
		}
		return nil
	})
}

// writeWalk drains walk into its CSV file and the graph projection and
// returns the number of rows written.
func writeWalk(walk *lineage.Walk, proj *graph.Projection, opts exportOptions) (int, error) {
	out, err := reports.OpenLineageCSV(opts.outputDir, walk.Root().Name, walk.Direction(), opts.urlPrefix)
	if err != nil {
		return 0, err
	}
	for r := range walk.Records() {
		if err := out.Write(r); err != nil {
			out.Close()
			return out.Rows(), err
		}
		proj.Apply(r)
	}
	for _, l := range walk.Loops() {
		proj.ApplyLoop(walk.Direction(), l)
	}
	if err := errors.Join(walk.Err(), out.Close()); err != nil {
		return out.Rows(), err
	}
	return out.Rows(), nil
}

func writeGraph(path string, proj *graph.Projection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := proj.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write graph: %w", err)
	}
	return f.Close()
}

type listOptions struct {
	resourceName string
	resourceType string
	minHops      int
	minLinks     int
	suppress     bool
}

func newLineageListCmd(a *app) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list <term>",
		Short: "List technical datasets matching a term with their lineage footprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listLineage(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.resourceName, "resource-name", "", "restrict the search to one catalog resource")
	cmd.Flags().StringVar(&opts.resourceType, "resource-type", "", "restrict the search to one resource type")
	cmd.Flags().IntVar(&opts.minHops, "min-hops", 0, "minimum lineage hop distance")
	cmd.Flags().IntVar(&opts.minLinks, "min-assets", 0, "minimum number of lineage links")
	cmd.Flags().BoolVar(&opts.suppress, "suppress", false, "hide assets that do not match")
	return cmd
}

func (a *app) listLineage(ctx context.Context, term string, opts listOptions) error {
	cat, err := a.client(ctx)
	if err != nil {
		return err
	}
	filter := lineage.SurveyFilter{
		MinHops:       opts.minHops,
		MinLinks:      opts.minLinks,
		SuppressEmpty: opts.suppress,
	}
	surveyor := lineage.NewSurveyor(cat, filter, lineage.DefaultSurveyPageSize, a.logger)

	var summaries []lineage.Summary
	stats, err := surveyor.Run(ctx, lineage.TechnicalDatasetQuery(term, opts.resourceName, opts.resourceType), func(s lineage.Summary) error {
		summaries = append(summaries, s)
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.Info("lineage survey finished",
		"total", stats.Total,
		"checked", stats.Checked,
		"matched", stats.Matched,
		"failed", stats.Failed,
	)
	return reports.WriteSurvey(a.stdout(), summaries)
}
