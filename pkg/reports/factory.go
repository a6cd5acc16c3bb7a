package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, s ReportStore) (Generator, error) {
	switch reportType {
	case ReportTypeHistory:
		return NewHistoryReport(s), nil
	case ReportTypeUndeletable:
		return NewUndeletableReport(s), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
