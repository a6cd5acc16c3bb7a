// Package reports writes CSV output: lineage exports, purge and source
// outcomes, and reports over the campaign history.
package reports

import (
	"context"
	"io"
	"time"

	"github.com/rmax-ai/catalogctl/pkg/store"
)

type ReportType string

const (
	ReportTypeHistory     ReportType = "history"
	ReportTypeUndeletable ReportType = "undeletable"
)

type ReportParams struct {
	Start   time.Time
	End     time.Time
	Filters map[string]interface{}
}

// ReportStore defines the interface for data access required by reports.
type ReportStore interface {
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]store.Campaign, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
