package exporter

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"adminreports/pkg/contracts/domain"
)

type styleKey struct {
	fill   string
	numFmt string
	bold   bool
	size   float64
}

// styleSet creates each distinct cell style once per workbook
type styleSet struct {
	f     *excelize.File
	cache map[styleKey]int
}

func (s *styleSet) get(k styleKey) (int, error) {
	if id, ok := s.cache[k]; ok {
		return id, nil
	}
	style := &excelize.Style{}
	if k.bold || k.size > 0 {
		style.Font = &excelize.Font{Bold: k.bold, Size: k.size}
	}
	if k.fill != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{k.fill}}
	}
	if k.numFmt != "" {
		numFmt := k.numFmt
		style.CustomNumFmt = &numFmt
	}
	id, err := s.f.NewStyle(style)
	if err != nil {
		return 0, fmt.Errorf("failed to create style: %w", err)
	}
	s.cache[k] = id
	return id, nil
}

// sheetWriter appends rows to one sheet. The first error sticks and turns
// every later call into a no-op.
type sheetWriter struct {
	f        *excelize.File
	sheet    string
	styles   *styleSet
	row      int
	tableEnd int
	err      error
}

// newSheetWriter renames the default sheet of a fresh workbook
func newSheetWriter(f *excelize.File, name string) (*sheetWriter, error) {
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return nil, fmt.Errorf("failed to name sheet %s: %w", name, err)
	}
	return &sheetWriter{
		f:      f,
		sheet:  name,
		styles: &styleSet{f: f, cache: make(map[styleKey]int)},
		row:    1,
	}, nil
}

// addSheetWriter appends a new sheet sharing the workbook styles
func addSheetWriter(f *excelize.File, name string, styles *styleSet) (*sheetWriter, error) {
	if _, err := f.NewSheet(name); err != nil {
		return nil, fmt.Errorf("failed to add sheet %s: %w", name, err)
	}
	return &sheetWriter{f: f, sheet: name, styles: styles, row: 1}, nil
}

func (w *sheetWriter) cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil && w.err == nil {
		w.err = err
	}
	return name
}

func (w *sheetWriter) setRow(values ...interface{}) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetSheetRow(w.sheet, w.cell(1, w.row), &values)
}

func (w *sheetWriter) style(fromCol, toCol int, k styleKey) {
	if w.err != nil {
		return
	}
	id, err := w.styles.get(k)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(w.sheet, w.cell(fromCol, w.row), w.cell(toCol, w.row), id)
}

func (w *sheetWriter) blank() {
	w.row++
}

func (w *sheetWriter) title(text string, span int) {
	w.setRow(text)
	if span > 1 && w.err == nil {
		w.err = w.f.MergeCell(w.sheet, w.cell(1, w.row), w.cell(span, w.row))
	}
	w.style(1, 1, styleKey{bold: true, size: 14})
	w.row++
}

func (w *sheetWriter) section(text string) {
	w.setRow(text)
	w.style(1, 1, styleKey{bold: true})
	w.row++
}

func (w *sheetWriter) labelled(label string, value interface{}) {
	w.setRow(label, value)
	w.style(1, 1, styleKey{bold: true})
	w.row++
}

func (w *sheetWriter) labelledMoney(label string, amount decimal.Decimal) {
	w.setRow(label, money(amount))
	w.style(1, 1, styleKey{bold: true})
	w.style(2, 2, styleKey{numFmt: currencyFormat})
	w.row++
}

// header writes the title block and the table header row
func (w *sheetWriter) header(title string, cfg domain.ReportConfig, generated time.Time, cols []column) {
	w.title(title, len(cols))
	w.labelled("Период:", cfg.PeriodLabel())
	w.labelled("Дата формирования:", generated.Format(dateTimeLayout))
	w.blank()

	titles := make([]interface{}, len(cols))
	for i, c := range cols {
		titles[i] = c.title
	}
	w.setRow(titles...)
	w.style(1, len(cols), styleKey{bold: true, fill: headerFill})
	w.tableEnd = w.row
	w.row++
}

func (w *sheetWriter) dataRow(cols []column, fill string, values ...interface{}) {
	w.setRow(values...)
	if fill != "" {
		w.style(1, len(cols), styleKey{fill: fill})
	}
	for i, c := range cols {
		if c.currency {
			w.style(i+1, i+1, styleKey{fill: fill, numFmt: currencyFormat})
		}
	}
	w.tableEnd = w.row
	w.row++
}

func (w *sheetWriter) totalRow(cols []column, total decimal.Decimal) {
	values := make([]interface{}, len(cols))
	values[0] = "ИТОГО:"
	for i, c := range cols {
		if c.currency {
			values[i] = money(total)
		}
	}
	w.setRow(values...)
	w.style(1, len(cols), styleKey{bold: true})
	for i, c := range cols {
		if c.currency {
			w.style(i+1, i+1, styleKey{bold: true, numFmt: currencyFormat})
		}
	}
	w.row++
}

func (w *sheetWriter) shares(shares []domain.Share) {
	for _, s := range shares {
		pct, _ := s.Percent.Float64()
		w.setRow(s.Label, s.Count, pct)
		w.style(3, 3, styleKey{numFmt: percentFormat})
		w.row++
	}
}

func (w *sheetWriter) paymentSummary(s domain.Summary) {
	w.labelled("Количество платежей:", s.Count)
	w.labelledMoney("Общая сумма:", s.Total)
	w.labelledMoney("Средний платеж:", s.Average)
	if len(s.Breakdown) > 0 {
		w.blank()
		w.section("Распределение по статусам:")
		w.shares(s.Breakdown)
	}
}

func (w *sheetWriter) userSummary(s domain.Summary) {
	w.labelled("Количество пользователей:", s.Count)
	w.labelledMoney("Общий баланс:", s.Total)
	w.labelledMoney("Средний баланс:", s.Average)
	w.labelled("С тарифом:", s.WithTariff)
	w.labelled("Без тарифа:", s.Count-s.WithTariff)
	w.labelled("Активных:", s.Active)
	if len(s.Breakdown) > 0 {
		w.blank()
		w.section("Распределение по тарифам:")
		w.shares(s.Breakdown)
	}
}

func (w *sheetWriter) widths(widths []float64) {
	for i, width := range widths {
		if w.err != nil {
			return
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			w.err = err
			return
		}
		w.err = w.f.SetColWidth(w.sheet, col, col, width)
	}
}

// finishTable sets column widths and the header autofilter
func (w *sheetWriter) finishTable(cols []column) {
	widths := make([]float64, len(cols))
	for i, c := range cols {
		widths[i] = c.width
	}
	w.widths(widths)
	if w.err != nil {
		return
	}
	ref := fmt.Sprintf("%s:%s", w.cell(1, headerRow), w.cell(len(cols), max(w.tableEnd, headerRow)))
	w.err = w.f.AutoFilter(w.sheet, ref, nil)
}
