package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rmax-ai/catalogctl/pkg/jobs"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
	"github.com/rmax-ai/catalogctl/pkg/purge"
)

var undeletableHeader = []string{"campaign_id", "asset_id", "name", "class_type"}

// WriteUndeletable writes the assets a purge campaign left behind.
func WriteUndeletable(w io.Writer, res purge.Result) error {
	rows := make([][]string, 0, len(res.Undeletable))
	for _, a := range res.Undeletable {
		rows = append(rows, []string{res.CampaignID, a.ID, a.Name, a.ClassType})
	}
	return writeAll(w, undeletableHeader, rows)
}

// WriteSourceOutcomes writes one row per purged catalog source.
func WriteSourceOutcomes(w io.Writer, outcomes []jobs.Outcome) error {
	header := []string{"source", "source_id", "job_id", "status", "source_deleted", "error"}
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, []string{
			o.Source.Name,
			o.Source.ID,
			o.JobID,
			string(o.Status),
			strconv.FormatBool(o.SourceDeleted),
			o.ErrText(),
		})
	}
	return writeAll(w, header, rows)
}

// WriteSurvey writes lineage survey summaries.
func WriteSurvey(w io.Writer, summaries []lineage.Summary) error {
	header := []string{"Name", "Asset ID", "Class Type", "Resource Name", "Lineage Links", "Max Hops"}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Name,
			s.ID,
			s.ClassType,
			s.ResourceName,
			strconv.Itoa(s.Links),
			strconv.Itoa(s.MaxDistance),
		})
	}
	return writeAll(w, header, rows)
}

func writeAll(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}
