package reports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
)

// LineageHeader is the column layout of a lineage export.
var LineageHeader = []string{"Name", "Asset ID", "Class Type", "Resource Name", "Resource Type", "Stakeholders", "Asset URL"}

// LineageFileName is the export file for a root asset and direction,
// "<root name>_<direction>.csv". Path separators in the name are replaced.
func LineageFileName(rootName string, d catalog.Direction) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, rootName)
	return name + "_" + string(d) + ".csv"
}

// LineageCSV appends lineage records to a per-root, per-direction file.
// The header is written only when the file is created, so repeated
// exports of the same root accumulate in one file.
type LineageCSV struct {
	f         *os.File
	w         *csv.Writer
	urlPrefix string
	path      string
	rows      int
}

// OpenLineageCSV opens (or creates) the export file in dir. urlPrefix,
// when set, is prepended to the asset id to form the Asset URL column;
// otherwise the column carries the bare id.
func OpenLineageCSV(dir, rootName string, d catalog.Direction, urlPrefix string) (*LineageCSV, error) {
	path := filepath.Join(dir, LineageFileName(rootName, d))

	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lineage export: %w", err)
	}

	l := &LineageCSV{f: f, w: csv.NewWriter(f), urlPrefix: urlPrefix, path: path}
	if created {
		if err := l.w.Write(LineageHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write lineage header: %w", err)
		}
	}
	return l, nil
}

func (l *LineageCSV) Path() string { return l.path }

// Rows returns the number of records written through this writer.
func (l *LineageCSV) Rows() int { return l.rows }

// Write appends one record. Stakeholders are not resolved and stay empty.
func (l *LineageCSV) Write(r lineage.Record) error {
	row := []string{r.Name, r.ID, r.ClassType, r.ResourceName, r.ResourceType, "", l.urlPrefix + r.ID}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write lineage row %s: %w", r.ID, err)
	}
	l.rows++
	return nil
}

// Close flushes buffered rows and closes the file.
func (l *LineageCSV) Close() error {
	l.w.Flush()
	err := l.w.Error()
	return errors.Join(err, l.f.Close())
}
