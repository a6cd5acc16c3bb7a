package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/catalogctl/pkg/store"
)

// HistoryReport lists recorded campaigns, newest first.
type HistoryReport struct {
	store ReportStore
}

func NewHistoryReport(s ReportStore) *HistoryReport {
	return &HistoryReport{store: s}
}

// Generate writes one row per campaign started inside [Start, End].
// Filters may carry "kind" (string) and "limit" (int).
func (r *HistoryReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	campaigns, err := queryCampaigns(ctx, r.store, params)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"campaign_id", "kind", "target", "status", "started_at", "finished_at", "passes", "processed", "succeeded", "undeletable", "error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	for _, c := range campaigns {
		row := []string{
			c.ID,
			string(c.Kind),
			c.Target,
			string(c.Status),
			c.StartedAt.UTC().Format(time.RFC3339),
			formatTime(c.FinishedAt),
			joinInts(c.Passes),
			strconv.Itoa(c.Processed),
			strconv.Itoa(c.Succeeded),
			strconv.Itoa(len(c.Undeletable)),
			c.Error,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return buf, nil
}

// UndeletableReport lists every asset a recorded campaign could not
// delete, one row per asset.
type UndeletableReport struct {
	store ReportStore
}

func NewUndeletableReport(s ReportStore) *UndeletableReport {
	return &UndeletableReport{store: s}
}

func (r *UndeletableReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	campaigns, err := queryCampaigns(ctx, r.store, params)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(undeletableHeader); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	for _, c := range campaigns {
		for _, a := range c.Undeletable {
			if err := writer.Write([]string{c.ID, a.ID, a.Name, a.ClassType}); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return buf, nil
}

func queryCampaigns(ctx context.Context, s ReportStore, params ReportParams) ([]store.Campaign, error) {
	filter := store.CampaignFilter{Since: params.Start}
	if kind, ok := params.Filters["kind"].(string); ok && kind != "" {
		filter.Kind = store.CampaignKind(kind)
	}
	if limit, ok := params.Filters["limit"].(int); ok && limit > 0 {
		filter.Limit = limit
	}

	campaigns, err := s.ListCampaigns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	if params.End.IsZero() {
		return campaigns, nil
	}
	out := campaigns[:0]
	for _, c := range campaigns {
		if !c.StartedAt.After(params.End) {
			out = append(out, c)
		}
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}
