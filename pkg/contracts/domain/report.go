package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ReportKind selects which collections a run fetches and how the workbook is laid out
type ReportKind string

const (
	ReportKindPayments ReportKind = "payments"
	ReportKindUsers    ReportKind = "users"
	ReportKindCombined ReportKind = "combined"
)

// NeedsPayments reports whether the kind reads the payments collection
func (k ReportKind) NeedsPayments() bool {
	return k == ReportKindPayments || k == ReportKindCombined
}

// NeedsUsers reports whether the kind needs the users collection.
// Payments reports need users for the join.
func (k ReportKind) NeedsUsers() bool {
	return k == ReportKindPayments || k == ReportKindUsers || k == ReportKindCombined
}

// Title returns the workbook title for the kind
func (k ReportKind) Title() string {
	switch k {
	case ReportKindPayments:
		return "Отчет по платежам"
	case ReportKindUsers:
		return "Отчет по пользователям"
	case ReportKindCombined:
		return "Сводный отчет"
	default:
		return "Отчет"
	}
}

// TariffFilter restricts a users report by tariff presence
type TariffFilter string

const (
	TariffFilterAll     TariffFilter = "all"
	TariffFilterWith    TariffFilter = "with_tariff"
	TariffFilterWithout TariffFilter = "without_tariff"
)

// StatusFilterAll disables the payment status filter
const StatusFilterAll = "all"

// DateLayout is the calendar date format used by report bounds and file names
const DateLayout = "2006-01-02"

// ChunkSize is the maximum number of records per artifact. Zero means no splitting.
// It accepts either a number or the string "all" in JSON.
type ChunkSize int

// ChunkSizeAll disables splitting
const ChunkSizeAll ChunkSize = 0

// UnmarshalJSON accepts a number, a numeric string or "all"
func (c *ChunkSize) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid chunk size: %w", err)
	}

	switch v := raw.(type) {
	case nil:
		*c = ChunkSizeAll
	case float64:
		*c = ChunkSize(int(v))
	case string:
		parsed, err := ParseChunkSize(v)
		if err != nil {
			return err
		}
		*c = parsed
	default:
		return fmt.Errorf("invalid chunk size: %s", string(data))
	}
	return nil
}

// MarshalJSON writes "all" for the unsplit size
func (c ChunkSize) MarshalJSON() ([]byte, error) {
	if c <= 0 {
		return []byte(`"all"`), nil
	}
	return []byte(strconv.Itoa(int(c))), nil
}

// String implements fmt.Stringer
func (c ChunkSize) String() string {
	if c <= 0 {
		return "all"
	}
	return strconv.Itoa(int(c))
}

// ParseChunkSize parses a chunk size given as text ("all", "", "100")
func ParseChunkSize(s string) (ChunkSize, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return ChunkSizeAll, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return ChunkSizeAll, fmt.Errorf("invalid chunk size %q", s)
	}
	return ChunkSize(n), nil
}

// ReportConfig is the immutable input to one report run
type ReportConfig struct {
	Kind         ReportKind   `json:"kind" yaml:"kind" validate:"required,oneof=payments users combined"`
	DateStart    string       `json:"date_start,omitempty" yaml:"date_start" validate:"omitempty,datetime=2006-01-02"`
	DateEnd      string       `json:"date_end,omitempty" yaml:"date_end" validate:"omitempty,datetime=2006-01-02"`
	StatusFilter string       `json:"status_filter,omitempty" yaml:"status_filter" validate:"omitempty,oneof=all completed pending failed cancelled refunded created unknown"`
	TariffFilter TariffFilter `json:"tariff_filter,omitempty" yaml:"tariff_filter" validate:"omitempty,oneof=all with_tariff without_tariff"`
	Search       string       `json:"search,omitempty" yaml:"search" validate:"max=200"`
	ChunkSize    ChunkSize    `json:"chunk_size" yaml:"chunk_size" validate:"min=0,max=100000"`
}

// Status returns the active status filter or "" when none applies
func (c ReportConfig) Status() PaymentStatus {
	if c.StatusFilter == "" || c.StatusFilter == StatusFilterAll {
		return ""
	}
	return PaymentStatus(c.StatusFilter)
}

// Tariff returns the tariff filter with the empty value treated as all
func (c ReportConfig) Tariff() TariffFilter {
	if c.TariffFilter == "" {
		return TariffFilterAll
	}
	return c.TariffFilter
}

// PeriodLabel renders the reporting period for workbook headers
func (c ReportConfig) PeriodLabel() string {
	switch {
	case c.DateStart != "" && c.DateEnd != "":
		return fmt.Sprintf("с %s по %s", c.DateStart, c.DateEnd)
	case c.DateStart != "":
		return fmt.Sprintf("с %s", c.DateStart)
	case c.DateEnd != "":
		return fmt.Sprintf("по %s", c.DateEnd)
	default:
		return "За все время"
	}
}
