package exporter

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/blake2b"

	"adminreports/internal/reports"
	"adminreports/pkg/contracts/domain"
)

var fixedNow = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

func newRenderer() *WorkbookRenderer {
	return NewWorkbookRenderer(time.UTC, func() time.Time { return fixedNow })
}

func openWorkbook(t *testing.T, a domain.Artifact) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(a.Data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func cellValue(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func samplePayments() []domain.PaymentRow {
	return []domain.PaymentRow{
		{ID: "3", UserID: "1", Amount: decimal.NewFromInt(300), Status: domain.PaymentStatusFailed,
			CreatedAt: fixedNow.Add(-time.Hour), UserName: "Анна", UserEmail: "anna@example.com"},
		{ID: "2", UserID: "2", Amount: decimal.NewFromInt(200), Status: domain.PaymentStatusCompleted,
			CreatedAt: fixedNow.Add(-2 * time.Hour), UserName: "Борис"},
		{ID: "1", UserID: "9", Amount: decimal.NewFromInt(100), Status: domain.PaymentStatusCompleted,
			UserName: domain.UnknownUserName("9")},
	}
}

func TestRenderPayments(t *testing.T) {
	cfg := domain.ReportConfig{Kind: domain.ReportKindPayments, DateStart: "2025-03-01", DateEnd: "2025-03-15"}
	chunk := domain.Chunk[domain.PaymentRow]{Index: 1, Total: 1, Records: samplePayments()}

	a, err := newRenderer().RenderPayments(cfg, fixedNow, chunk)
	require.NoError(t, err)

	assert.Equal(t, "payments_report_2025-03-15.xlsx", a.FileName)
	assert.Equal(t, domain.ReportKindPayments, a.Kind)
	assert.Equal(t, 3, a.Records)
	assert.Equal(t, int64(len(a.Data)), a.Size)
	assert.Equal(t, fixedNow, a.GeneratedAt)

	sum := blake2b.Sum256(a.Data)
	assert.Equal(t, hex.EncodeToString(sum[:]), a.Checksum)

	require.NotNil(t, a.Summary)
	assert.Equal(t, "600", a.Summary.Total.String())
	assert.Equal(t, "200", a.Summary.Average.String())

	f := openWorkbook(t, a)
	assert.Equal(t, []string{SheetPayments}, f.GetSheetList())

	assert.Equal(t, domain.ReportKindPayments.Title(), cellValue(t, f, SheetPayments, "A1"))
	assert.Equal(t, "с 2025-03-01 по 2025-03-15", cellValue(t, f, SheetPayments, "B2"))
	assert.Equal(t, "15.03.2025 10:30", cellValue(t, f, SheetPayments, "B3"))

	// header row
	assert.Equal(t, "ID", cellValue(t, f, SheetPayments, "A5"))
	assert.Equal(t, "Сумма", cellValue(t, f, SheetPayments, "G5"))
	assert.Equal(t, "Описание", cellValue(t, f, SheetPayments, "I5"))

	// data rows keep the chunk order
	assert.Equal(t, "3", cellValue(t, f, SheetPayments, "A6"))
	assert.Equal(t, "15.03.2025 09:30", cellValue(t, f, SheetPayments, "B6"))
	assert.Equal(t, "Анна", cellValue(t, f, SheetPayments, "D6"))
	assert.Equal(t, "300", cellValue(t, f, SheetPayments, "G6"))
	assert.Equal(t, "Ошибка", cellValue(t, f, SheetPayments, "H6"))
	assert.Equal(t, "Пользователь #9", cellValue(t, f, SheetPayments, "D8"))
	assert.Equal(t, "", cellValue(t, f, SheetPayments, "B8"))

	// total row follows the data
	assert.Equal(t, "ИТОГО:", cellValue(t, f, SheetPayments, "A9"))
	assert.Equal(t, "600", cellValue(t, f, SheetPayments, "G9"))

	// summary block after one blank row
	assert.Equal(t, "Количество платежей:", cellValue(t, f, SheetPayments, "A11"))
	assert.Equal(t, "3", cellValue(t, f, SheetPayments, "B11"))
	assert.Equal(t, "600", cellValue(t, f, SheetPayments, "B12"))
	assert.Equal(t, "200", cellValue(t, f, SheetPayments, "B13"))
	assert.Equal(t, "Распределение по статусам:", cellValue(t, f, SheetPayments, "A15"))
	assert.Equal(t, "Успешно", cellValue(t, f, SheetPayments, "A16"))
	assert.Equal(t, "2", cellValue(t, f, SheetPayments, "B16"))
	assert.Equal(t, "Ошибка", cellValue(t, f, SheetPayments, "A17"))
}

func TestRenderPayments_CurrencyFormat(t *testing.T) {
	chunk := domain.Chunk[domain.PaymentRow]{Index: 1, Total: 1, Records: samplePayments()}
	a, err := newRenderer().RenderPayments(domain.ReportConfig{Kind: domain.ReportKindPayments}, fixedNow, chunk)
	require.NoError(t, err)

	f := openWorkbook(t, a)
	styleID, err := f.GetCellStyle(SheetPayments, "G6")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.CustomNumFmt)
	assert.Equal(t, currencyFormat, *style.CustomNumFmt)
}

func TestRenderPayments_PartNaming(t *testing.T) {
	rows := samplePayments()
	chunks := reports.Split(rows, 1)
	require.Len(t, chunks, 3)

	r := newRenderer()
	for i, chunk := range chunks {
		a, err := r.RenderPayments(domain.ReportConfig{Kind: domain.ReportKindPayments}, fixedNow, chunk)
		require.NoError(t, err)
		assert.Equal(t, reports.FileName(domain.ReportKindPayments, fixedNow, i+1, 3), a.FileName)
		assert.Equal(t, i+1, a.Part)
		assert.Equal(t, 3, a.Parts)
		assert.Equal(t, 1, a.Records)

		f := openWorkbook(t, a)
		assert.Contains(t, cellValue(t, f, SheetPayments, "A1"), "часть")
	}
}

func TestRenderUsers(t *testing.T) {
	users := []domain.UserRow{
		{ID: "2", Name: "Борис", Balance: decimal.RequireFromString("20.50"), Tariff: "Стандартный",
			HasTariff: true, Active: true, RegisteredAt: time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)},
		{ID: "1", Name: "Анна", Balance: decimal.RequireFromString("10.50"), Tariff: domain.NoTariffLabel},
	}
	chunk := domain.Chunk[domain.UserRow]{Index: 1, Total: 1, Records: users}

	a, err := newRenderer().RenderUsers(domain.ReportConfig{Kind: domain.ReportKindUsers}, fixedNow, chunk)
	require.NoError(t, err)
	assert.Equal(t, "users_report_2025-03-15.xlsx", a.FileName)

	f := openWorkbook(t, a)
	assert.Equal(t, "За все время", cellValue(t, f, SheetUsers, "B2"))
	assert.Equal(t, "Имя", cellValue(t, f, SheetUsers, "B5"))
	assert.Equal(t, "Борис", cellValue(t, f, SheetUsers, "B6"))
	assert.Equal(t, "20.5", cellValue(t, f, SheetUsers, "E6"))
	assert.Equal(t, "Активен", cellValue(t, f, SheetUsers, "G6"))
	assert.Equal(t, "02.01.2025", cellValue(t, f, SheetUsers, "H6"))
	assert.Equal(t, "Нет тарифа", cellValue(t, f, SheetUsers, "G7"))
	assert.Equal(t, "ИТОГО:", cellValue(t, f, SheetUsers, "A8"))
	assert.Equal(t, "31", cellValue(t, f, SheetUsers, "E8"))
	assert.Equal(t, "Количество пользователей:", cellValue(t, f, SheetUsers, "A10"))
	assert.Equal(t, "1", cellValue(t, f, SheetUsers, "B13"))
}

func TestRenderCombined(t *testing.T) {
	users := []domain.UserRow{{ID: "1", Name: "Анна", Balance: decimal.NewFromInt(5), Active: true}}

	a, err := newRenderer().RenderCombined(domain.ReportConfig{Kind: domain.ReportKindCombined}, fixedNow, samplePayments(), users)
	require.NoError(t, err)

	assert.Equal(t, "combined_report_2025-03-15.xlsx", a.FileName)
	assert.Equal(t, 1, a.Parts)
	assert.Equal(t, 4, a.Records)

	f := openWorkbook(t, a)
	assert.Equal(t, []string{SheetSummary, SheetPayments, SheetUsers}, f.GetSheetList())
	assert.Equal(t, domain.ReportKindCombined.Title(), cellValue(t, f, SheetSummary, "A1"))
	assert.Equal(t, SheetPayments, cellValue(t, f, SheetSummary, "A5"))
	assert.Equal(t, "3", cellValue(t, f, SheetSummary, "B6"))
	assert.Equal(t, "Анна", cellValue(t, f, SheetUsers, "B6"))
	assert.Equal(t, "ИТОГО:", cellValue(t, f, SheetPayments, "A9"))
}

func TestRenderEmptyChunk(t *testing.T) {
	a, err := newRenderer().RenderPayments(domain.ReportConfig{Kind: domain.ReportKindPayments}, fixedNow,
		domain.Chunk[domain.PaymentRow]{Index: 1, Total: 1})
	require.NoError(t, err)

	f := openWorkbook(t, a)
	assert.Equal(t, "ИТОГО:", cellValue(t, f, SheetPayments, "A6"))
	assert.Equal(t, "0", cellValue(t, f, SheetPayments, "B8"))
}
