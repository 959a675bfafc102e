package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the normalized payment status vocabulary
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCreated   PaymentStatus = "created"
	PaymentStatusUnknown   PaymentStatus = "unknown"
)

// PaymentStatuses lists the vocabulary in display order
var PaymentStatuses = []PaymentStatus{
	PaymentStatusCompleted,
	PaymentStatusPending,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
	PaymentStatusCreated,
	PaymentStatusUnknown,
}

var statusAliases = map[string]PaymentStatus{
	"completed":   PaymentStatusCompleted,
	"success":     PaymentStatusCompleted,
	"succeeded":   PaymentStatusCompleted,
	"paid":        PaymentStatusCompleted,
	"pending":     PaymentStatusPending,
	"processing":  PaymentStatusPending,
	"in_progress": PaymentStatusPending,
	"failed":      PaymentStatusFailed,
	"error":       PaymentStatusFailed,
	"declined":    PaymentStatusFailed,
	"cancelled":   PaymentStatusCancelled,
	"canceled":    PaymentStatusCancelled,
	"refunded":    PaymentStatusRefunded,
	"refund":      PaymentStatusRefunded,
	"created":     PaymentStatusCreated,
	"new":         PaymentStatusCreated,
}

var statusLabels = map[PaymentStatus]string{
	PaymentStatusCompleted: "Успешно",
	PaymentStatusPending:   "В обработке",
	PaymentStatusFailed:    "Ошибка",
	PaymentStatusCancelled: "Отменен",
	PaymentStatusRefunded:  "Возврат",
	PaymentStatusCreated:   "Создан",
	PaymentStatusUnknown:   "Неизвестно",
}

// NormalizeStatus maps a raw upstream status onto the vocabulary
func NormalizeStatus(raw string) PaymentStatus {
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return PaymentStatusUnknown
}

// Label returns the display label
func (s PaymentStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return statusLabels[PaymentStatusUnknown]
}

// NoTariffLabel is shown for users without any tariff signal
const NoTariffLabel = "Без тарифа"

var tariffNames = map[int64]string{
	1: "Базовый",
	2: "Стандартный",
	3: "Премиум",
	4: "Бизнес",
	5: "Безлимитный",
}

// TariffDisplayName resolves the tariff shown in reports: explicit name first,
// then the id table, then the no-tariff label.
func TariffDisplayName(name string, id int64) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if id != 0 {
		if n, ok := tariffNames[id]; ok {
			return n
		}
		return fmt.Sprintf("Тариф #%d", id)
	}
	return NoTariffLabel
}

// UnknownUserName is the placeholder for payments whose user is not in the lookup
func UnknownUserName(userID string) string {
	return fmt.Sprintf("Пользователь #%s", userID)
}

// UserRow is a normalized user
type UserRow struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone"`
	AccountNumber string          `json:"account_number,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	TariffID      int64           `json:"tariff_id,omitempty"`
	Tariff        string          `json:"tariff"`
	HasTariff     bool            `json:"has_tariff"`
	Active        bool            `json:"active"`
	RegisteredAt  time.Time       `json:"registered_at,omitempty"`
}

// TariffStatusLabel renders the tariff status column
func (u UserRow) TariffStatusLabel() string {
	if u.HasTariff {
		return "Активен"
	}
	return "Нет тарифа"
}

// PaymentRow is a normalized payment joined with a copy of its user's contact fields
type PaymentRow struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	RawStatus   string          `json:"raw_status,omitempty"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
	UserName    string          `json:"user_name"`
	UserEmail   string          `json:"user_email"`
	UserPhone   string          `json:"user_phone"`
	UserTariff  string          `json:"user_tariff"`
	UserMatched bool            `json:"user_matched"`
}

// Chunk is a contiguous slice of the filtered set rendered into one artifact
type Chunk[T any] struct {
	Index   int `json:"index"` // 1-based
	Total   int `json:"total"`
	Records []T `json:"records"`
}

// Share is one line of a breakdown (status or tariff distribution)
type Share struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Count   int             `json:"count"`
	Percent decimal.Decimal `json:"percent"`
}

// Summary holds the aggregates shown under a data sheet
type Summary struct {
	Count      int             `json:"count"`
	Total      decimal.Decimal `json:"total"`
	Average    decimal.Decimal `json:"average"`
	Breakdown  []Share         `json:"breakdown,omitempty"`
	WithTariff int             `json:"with_tariff,omitempty"`
	Active     int             `json:"active,omitempty"`
}

// Artifact describes one rendered workbook. Data is only populated while the
// artifact travels from the renderer to the sink.
type Artifact struct {
	FileName    string     `json:"file_name"`
	Kind        ReportKind `json:"kind"`
	Part        int        `json:"part"`
	Parts       int        `json:"parts"`
	Records     int        `json:"records"`
	Size        int64      `json:"size"`
	Checksum    string     `json:"checksum"`
	GeneratedAt time.Time  `json:"generated_at"`
	Summary     *Summary   `json:"summary,omitempty"`
	Location    string     `json:"location,omitempty"`
	Data        []byte     `json:"-"`
}

// Metadata returns a copy without the payload
func (a Artifact) Metadata() Artifact {
	a.Data = nil
	return a
}
