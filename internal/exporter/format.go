package exporter

import (
	"time"

	"github.com/shopspring/decimal"
)

// Number formats applied to workbook cells
const (
	currencyFormat = `#,##0.00 "₽"`
	percentFormat  = `0.0"%"`
)

const (
	dateTimeLayout = "02.01.2006 15:04"
	dateLayout     = "02.01.2006"
)

// money converts an amount to the float written into currency cells, rounded to kopecks
func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// formatDateTime renders a timestamp in loc, empty for a missing one
func formatDateTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(dateTimeLayout)
}

// formatDate renders the calendar day in loc, empty for a missing one
func formatDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(dateLayout)
}
