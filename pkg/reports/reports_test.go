package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/jobs"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
	"github.com/rmax-ai/catalogctl/pkg/purge"
	"github.com/rmax-ai/catalogctl/pkg/store"
)

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	return records
}

func TestLineageCSV(t *testing.T) {
	dir := t.TempDir()

	rec := lineage.Record{
		ID:           "a2",
		Name:         "orders_stg",
		ClassType:    "com.infa.odin.models.relational.Table",
		ResourceName: "warehouse",
		ResourceType: "Snowflake",
	}

	w, err := OpenLineageCSV(dir, "orders", catalog.Outbound, "https://catalog.example.com/asset/")
	if err != nil {
		t.Fatalf("OpenLineageCSV failed: %v", err)
	}
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if w.Rows() != 1 {
		t.Errorf("expected 1 row, got %d", w.Rows())
	}

	// Reopening appends without a second header.
	w, err = OpenLineageCSV(dir, "orders", catalog.Outbound, "")
	if err != nil {
		t.Fatalf("OpenLineageCSV (append) failed: %v", err)
	}
	rec.ID = "a3"
	w.Write(rec)
	w.Close()

	f, err := os.Open(filepath.Join(dir, "orders_outbound.csv"))
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	defer f.Close()
	records := readCSV(t, f)

	if len(records) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d records", len(records))
	}
	if records[0][0] != "Name" || records[0][6] != "Asset URL" {
		t.Errorf("unexpected header %v", records[0])
	}
	if records[1][1] != "a2" || records[1][6] != "https://catalog.example.com/asset/a2" {
		t.Errorf("unexpected first row %v", records[1])
	}
	if records[2][6] != "a3" {
		t.Errorf("expected bare id as url without prefix, got %s", records[2][6])
	}
	if records[1][5] != "" {
		t.Errorf("expected empty stakeholders, got %q", records[1][5])
	}
}

func TestLineageFileName(t *testing.T) {
	tests := []struct {
		root string
		dir  catalog.Direction
		want string
	}{
		{"orders", catalog.Inbound, "orders_inbound.csv"},
		{"sales/orders", catalog.Outbound, "sales_orders_outbound.csv"},
	}
	for _, tt := range tests {
		if got := LineageFileName(tt.root, tt.dir); got != tt.want {
			t.Errorf("LineageFileName(%q, %s) = %q, want %q", tt.root, tt.dir, got, tt.want)
		}
	}
}

func TestWriteUndeletable(t *testing.T) {
	var buf bytes.Buffer
	res := purge.Result{
		CampaignID:  "c1",
		Undeletable: []catalog.AssetRef{{ID: "x", Name: "Revenue", ClassType: "BusinessTerm"}},
	}
	if err := WriteUndeletable(&buf, res); err != nil {
		t.Fatalf("WriteUndeletable failed: %v", err)
	}
	records := readCSV(t, &buf)
	if len(records) != 2 || records[1][0] != "c1" || records[1][1] != "x" {
		t.Errorf("unexpected records %v", records)
	}
}

func TestWriteSourceOutcomes(t *testing.T) {
	var buf bytes.Buffer
	outcomes := []jobs.Outcome{
		{Source: catalog.Source{ID: "1", Name: "crm"}, JobID: "j1", Status: catalog.JobCompleted, SourceDeleted: true},
		{Source: catalog.Source{ID: "2", Name: "erp"}, Err: errors.New("409")},
	}
	if err := WriteSourceOutcomes(&buf, outcomes); err != nil {
		t.Fatalf("WriteSourceOutcomes failed: %v", err)
	}
	records := readCSV(t, &buf)
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[1][3] != "COMPLETED" || records[1][4] != "true" {
		t.Errorf("unexpected crm row %v", records[1])
	}
	if records[2][5] != "409" || records[2][4] != "false" {
		t.Errorf("unexpected erp row %v", records[2])
	}
}

func TestWriteSurvey(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSurvey(&buf, []lineage.Summary{{ID: "a", Name: "orders", Links: 4, MaxDistance: 3}})
	if err != nil {
		t.Fatalf("WriteSurvey failed: %v", err)
	}
	records := readCSV(t, &buf)
	if records[1][4] != "4" || records[1][5] != "3" {
		t.Errorf("unexpected survey row %v", records[1])
	}
}

func seededHistory(t *testing.T) *store.MemoryStore {
	t.Helper()
	m := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.SaveCampaign(ctx, store.Campaign{
		ID: "c1", Kind: store.KindAssets, Target: "terms", StartedAt: base,
		FinishedAt: base.Add(time.Minute), Passes: []int{3, 1, 0}, Succeeded: 4, Status: store.StatusCompleted,
		Undeletable: []catalog.AssetRef{{ID: "x", Name: "Revenue"}, {ID: "y", Name: "Cost"}},
	})
	m.SaveCampaign(ctx, store.Campaign{
		ID: "c2", Kind: store.KindSources, Target: "crm", StartedAt: base.Add(time.Hour), Status: store.StatusFailed, Error: "boom",
	})
	return m
}

func TestHistoryReport(t *testing.T) {
	gen, err := NewReportGenerator(ReportTypeHistory, seededHistory(t))
	if err != nil {
		t.Fatalf("NewReportGenerator failed: %v", err)
	}

	reader, err := gen.Generate(context.Background(), ReportParams{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	records := readCSV(t, reader)
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[1][0] != "c2" || records[1][10] != "boom" || records[1][5] != "" {
		t.Errorf("unexpected newest row %v", records[1])
	}
	if records[2][6] != "3 1 0" || records[2][9] != "2" {
		t.Errorf("unexpected c1 row %v", records[2])
	}

	reader, _ = gen.Generate(context.Background(), ReportParams{Filters: map[string]interface{}{"kind": "sources"}})
	if records := readCSV(t, reader); len(records) != 2 {
		t.Errorf("Expected 2 records with kind filter, got %d", len(records))
	}

	end := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	reader, _ = gen.Generate(context.Background(), ReportParams{End: end})
	if records := readCSV(t, reader); len(records) != 2 || records[1][0] != "c1" {
		t.Errorf("Expected only c1 before end, got %v", records)
	}
}

func TestUndeletableReport(t *testing.T) {
	gen, _ := NewReportGenerator(ReportTypeUndeletable, seededHistory(t))
	reader, err := gen.Generate(context.Background(), ReportParams{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	records := readCSV(t, reader)
	if len(records) != 3 {
		t.Fatalf("Expected header + 2 assets, got %d", len(records))
	}
	if records[1][1] != "x" || records[2][1] != "y" {
		t.Errorf("unexpected rows %v", records)
	}
}

func TestUnknownReportType(t *testing.T) {
	if _, err := NewReportGenerator("usage", store.NewMemoryStore()); err == nil {
		t.Error("expected error for unknown report type")
	}
}
