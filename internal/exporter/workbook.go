package exporter

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/blake2b"

	"adminreports/internal/reports"
	"adminreports/pkg/contracts/domain"
)

// Sheet names
const (
	SheetPayments = "Платежи"
	SheetUsers    = "Пользователи"
	SheetSummary  = "Сводка"
)

// headerRow is the 1-based row of the table header on data sheets
const headerRow = 5

type column struct {
	title    string
	width    float64
	currency bool
}

var paymentColumns = []column{
	{title: "ID", width: 10},
	{title: "Дата", width: 18},
	{title: "ID пользователя", width: 16},
	{title: "Пользователь", width: 28},
	{title: "Email", width: 30},
	{title: "Телефон", width: 18},
	{title: "Сумма", width: 15, currency: true},
	{title: "Статус", width: 15},
	{title: "Описание", width: 40},
}

var userColumns = []column{
	{title: "ID", width: 10},
	{title: "Имя", width: 28},
	{title: "Email", width: 30},
	{title: "Телефон", width: 18},
	{title: "Баланс", width: 15, currency: true},
	{title: "Тариф", width: 18},
	{title: "Статус тарифа", width: 16},
	{title: "Дата регистрации", width: 18},
}

// Row fills
var statusFills = map[domain.PaymentStatus]string{
	domain.PaymentStatusCompleted: "#E2EFDA",
	domain.PaymentStatusPending:   "#FFF2CC",
	domain.PaymentStatusFailed:    "#FCE4D6",
	domain.PaymentStatusCancelled: "#FCE4D6",
	domain.PaymentStatusRefunded:  "#DDEBF7",
}

const (
	inactiveFill = "#EDEDED"
	headerFill   = "#D9E1F2"
)

// WorkbookRenderer renders report chunks into xlsx workbooks
type WorkbookRenderer struct {
	loc *time.Location
	now func() time.Time
}

// NewWorkbookRenderer creates a renderer formatting dates in loc.
// A nil now uses time.Now.
func NewWorkbookRenderer(loc *time.Location, now func() time.Time) *WorkbookRenderer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &WorkbookRenderer{loc: loc, now: now}
}

// Now returns the current time in the report location
func (r *WorkbookRenderer) Now() time.Time {
	return r.now().In(r.loc)
}

// RenderPayments renders one payments chunk dated generated
func (r *WorkbookRenderer) RenderPayments(cfg domain.ReportConfig, generated time.Time, chunk domain.Chunk[domain.PaymentRow]) (domain.Artifact, error) {
	generated = generated.In(r.loc)
	summary := reports.SummarizePayments(chunk.Records)

	f := excelize.NewFile()
	defer f.Close()

	w, err := newSheetWriter(f, SheetPayments)
	if err != nil {
		return domain.Artifact{}, err
	}
	w.header(partTitle(domain.ReportKindPayments, chunk), cfg, generated, paymentColumns)
	r.writePayments(w, chunk.Records)
	w.totalRow(paymentColumns, summary.Total)
	w.blank()
	w.paymentSummary(summary)
	w.finishTable(paymentColumns)
	if w.err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to render payments part %d: %w", chunk.Index, w.err)
	}

	return r.artifact(f, domain.ReportKindPayments, chunk.Index, chunk.Total, len(chunk.Records), &summary, generated)
}

// RenderUsers renders one users chunk
func (r *WorkbookRenderer) RenderUsers(cfg domain.ReportConfig, generated time.Time, chunk domain.Chunk[domain.UserRow]) (domain.Artifact, error) {
	generated = generated.In(r.loc)
	summary := reports.SummarizeUsers(chunk.Records)

	f := excelize.NewFile()
	defer f.Close()

	w, err := newSheetWriter(f, SheetUsers)
	if err != nil {
		return domain.Artifact{}, err
	}
	w.header(partTitle(domain.ReportKindUsers, chunk), cfg, generated, userColumns)
	r.writeUsers(w, chunk.Records)
	w.totalRow(userColumns, summary.Total)
	w.blank()
	w.userSummary(summary)
	w.finishTable(userColumns)
	if w.err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to render users part %d: %w", chunk.Index, w.err)
	}

	return r.artifact(f, domain.ReportKindUsers, chunk.Index, chunk.Total, len(chunk.Records), &summary, generated)
}

// RenderCombined renders the single combined workbook: summary, payments and users sheets
func (r *WorkbookRenderer) RenderCombined(cfg domain.ReportConfig, generated time.Time, payments []domain.PaymentRow, users []domain.UserRow) (domain.Artifact, error) {
	generated = generated.In(r.loc)
	paySummary := reports.SummarizePayments(payments)
	userSummary := reports.SummarizeUsers(users)

	f := excelize.NewFile()
	defer f.Close()

	sw, err := newSheetWriter(f, SheetSummary)
	if err != nil {
		return domain.Artifact{}, err
	}
	sw.title(domain.ReportKindCombined.Title(), 4)
	sw.labelled("Период:", cfg.PeriodLabel())
	sw.labelled("Дата формирования:", generated.Format(dateTimeLayout))
	sw.blank()
	sw.section(SheetPayments)
	sw.paymentSummary(paySummary)
	sw.blank()
	sw.section(SheetUsers)
	sw.userSummary(userSummary)
	sw.widths([]float64{32, 18, 12, 12})
	if sw.err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to render summary sheet: %w", sw.err)
	}

	pw, err := addSheetWriter(f, SheetPayments, sw.styles)
	if err != nil {
		return domain.Artifact{}, err
	}
	pw.header(SheetPayments, cfg, generated, paymentColumns)
	r.writePayments(pw, payments)
	pw.totalRow(paymentColumns, paySummary.Total)
	pw.finishTable(paymentColumns)
	if pw.err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to render payments sheet: %w", pw.err)
	}

	uw, err := addSheetWriter(f, SheetUsers, sw.styles)
	if err != nil {
		return domain.Artifact{}, err
	}
	uw.header(SheetUsers, cfg, generated, userColumns)
	r.writeUsers(uw, users)
	uw.totalRow(userColumns, userSummary.Total)
	uw.finishTable(userColumns)
	if uw.err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to render users sheet: %w", uw.err)
	}

	combined := domain.Summary{
		Count:      paySummary.Count + userSummary.Count,
		Total:      paySummary.Total,
		Average:    paySummary.Average,
		Breakdown:  paySummary.Breakdown,
		WithTariff: userSummary.WithTariff,
		Active:     userSummary.Active,
	}
	return r.artifact(f, domain.ReportKindCombined, 1, 1, len(payments)+len(users), &combined, generated)
}

func (r *WorkbookRenderer) writePayments(w *sheetWriter, rows []domain.PaymentRow) {
	for _, p := range rows {
		w.dataRow(paymentColumns, statusFills[p.Status],
			p.ID,
			formatDateTime(p.CreatedAt, r.loc),
			p.UserID,
			p.UserName,
			p.UserEmail,
			p.UserPhone,
			money(p.Amount),
			p.Status.Label(),
			p.Description,
		)
	}
}

func (r *WorkbookRenderer) writeUsers(w *sheetWriter, rows []domain.UserRow) {
	for _, u := range rows {
		fill := ""
		if !u.Active {
			fill = inactiveFill
		}
		w.dataRow(userColumns, fill,
			u.ID,
			u.Name,
			u.Email,
			u.Phone,
			money(u.Balance),
			u.Tariff,
			u.TariffStatusLabel(),
			formatDate(u.RegisteredAt, r.loc),
		)
	}
}

func (r *WorkbookRenderer) artifact(f *excelize.File, kind domain.ReportKind, part, parts, records int, summary *domain.Summary, generated time.Time) (domain.Artifact, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	data := buf.Bytes()
	sum := blake2b.Sum256(data)

	return domain.Artifact{
		FileName:    reports.FileName(kind, generated, part, parts),
		Kind:        kind,
		Part:        part,
		Parts:       parts,
		Records:     records,
		Size:        int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
		GeneratedAt: generated,
		Summary:     summary,
		Data:        data,
	}, nil
}

func partTitle[T any](kind domain.ReportKind, chunk domain.Chunk[T]) string {
	if chunk.Total > 1 {
		return fmt.Sprintf("%s (часть %d из %d)", kind.Title(), chunk.Index, chunk.Total)
	}
	return kind.Title()
}
