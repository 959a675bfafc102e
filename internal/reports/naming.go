package reports

import (
	"fmt"
	"time"

	"adminreports/pkg/contracts/domain"
)

// WorkbookExt is the extension of every rendered artifact
const WorkbookExt = ".xlsx"

// FileName names the artifact of one part, e.g. payments_report_2025-03-01_part2.xlsx.
// The part suffix is only added when the report has more than one part.
func FileName(kind domain.ReportKind, date time.Time, part, parts int) string {
	name := fmt.Sprintf("%s_report_%s", kind, date.Format(domain.DateLayout))
	if parts > 1 {
		name += fmt.Sprintf("_part%d", part)
	}
	return name + WorkbookExt
}
