package lineage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
)

// Summary is the lineage footprint of one asset.
type Summary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClassType    string `json:"class_type"`
	ResourceName string `json:"resource_name,omitempty"`
	Links        int    `json:"links"`
	MaxDistance  int    `json:"max_distance"`
	Matched      bool   `json:"matched"`
}

// Summarize counts the lineage links of a and the farthest hop distance
// across all of its lineage groups.
func Summarize(a catalog.Asset) Summary {
	s := Summary{ID: a.ID, Name: a.Name, ClassType: a.ClassType, ResourceName: a.ResourceName}
	for _, g := range a.Lineage {
		for _, h := range g.Hops {
			s.Links += len(h.Items)
			if len(h.Items) > 0 && h.Distance > s.MaxDistance {
				s.MaxDistance = h.Distance
			}
		}
	}
	return s
}

// SurveyFilter selects assets with enough lineage.
type SurveyFilter struct {
	MinHops  int
	MinLinks int
	// SuppressEmpty drops non-matching assets instead of reporting them
	// with Matched unset.
	SuppressEmpty bool
}

// Match reports whether s has at least one link and satisfies the
// thresholds.
func (f SurveyFilter) Match(s Summary) bool {
	return s.Links >= 1 && s.MaxDistance >= f.MinHops && s.Links >= f.MinLinks
}

// SurveyCatalog is the subset of catalog.Catalog a survey needs.
type SurveyCatalog interface {
	Search(ctx context.Context, q catalog.Query, from, size int) (catalog.SearchPage, error)
	GetAssets(ctx context.Context, ids []string, segments string) ([]catalog.Asset, error)
}

// SurveyStats totals one survey run.
type SurveyStats struct {
	Total   int `json:"total"`
	Checked int `json:"checked"`
	Matched int `json:"matched"`
	Failed  int `json:"failed"`
}

// Surveyor searches for assets and reports each one's lineage footprint.
type Surveyor struct {
	cat      SurveyCatalog
	pageSize int
	filter   SurveyFilter
	logger   *slog.Logger
}

// DefaultSurveyPageSize is the search page size used by a survey.
const DefaultSurveyPageSize = 25

func NewSurveyor(cat SurveyCatalog, filter SurveyFilter, pageSize int, logger *slog.Logger) *Surveyor {
	if pageSize <= 0 {
		pageSize = DefaultSurveyPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Surveyor{cat: cat, pageSize: pageSize, filter: filter, logger: logger}
}

// Run pages through q, bulk-fetches lineage details catalog.BulkLimit at a
// time and calls fn for each reported asset. A failed bulk fetch is
// logged and counted; a failed search page or an error from fn ends the
// run.
func (s *Surveyor) Run(ctx context.Context, q catalog.Query, fn func(Summary) error) (SurveyStats, error) {
	var stats SurveyStats
	s.logger.Info("searching for assets", "query", q.String())

	for from := 0; ; from += s.pageSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		page, err := s.cat.Search(ctx, q, from, s.pageSize)
		if err != nil {
			return stats, fmt.Errorf("survey search at %d: %w", from, err)
		}
		if from == 0 {
			stats.Total = page.Total
			s.logger.Info("found assets", "total", page.Total)
		}
		if len(page.Assets) == 0 {
			break
		}

		ids := make([]string, 0, len(page.Assets))
		for _, a := range page.Assets {
			ids = append(ids, a.ID)
		}
		for start := 0; start < len(ids); start += catalog.BulkLimit {
			chunk := ids[start:min(start+catalog.BulkLimit, len(ids))]
			if err := s.check(ctx, chunk, &stats, fn); err != nil {
				return stats, err
			}
		}

		if from+len(page.Assets) >= page.Total {
			break
		}
	}

	s.logger.Info("survey complete", "checked", stats.Checked, "matched", stats.Matched, "failed", stats.Failed)
	return stats, nil
}

func (s *Surveyor) check(ctx context.Context, ids []string, stats *SurveyStats, fn func(Summary) error) error {
	assets, err := s.cat.GetAssets(ctx, ids, catalog.SurveySegments)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Failed += len(ids)
		s.logger.Warn("bulk lineage fetch failed", "ids", ids, "error", err)
		return nil
	}

	for _, a := range assets {
		stats.Checked++
		sum := Summarize(a)
		sum.Matched = s.filter.Match(sum)
		if sum.Matched {
			stats.Matched++
		} else if s.filter.SuppressEmpty {
			continue
		}
		if err := fn(sum); err != nil {
			return err
		}
	}
	return nil
}

// TechnicalDatasetQuery builds the knowledge query used to survey
// technical datasets, optionally narrowed to one resource or resource type.
func TechnicalDatasetQuery(term, resourceName, resourceType string) catalog.Query {
	var b strings.Builder
	fmt.Fprintf(&b, "(technical dataset *%s*)", strings.TrimSpace(term))
	if resourceName != "" {
		fmt.Fprintf(&b, " in resource %q", resourceName)
	}
	if resourceType != "" {
		fmt.Fprintf(&b, " in catalog source with resource type %q", resourceType)
	}
	return catalog.Query{Knowledge: b.String()}
}
