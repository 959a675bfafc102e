package reports

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"adminreports/pkg/contracts/domain"
)

// ErrDateOrder is returned when the start date is after the end date
var ErrDateOrder = errors.New("start date cannot be after end date")

// DateRange is an inclusive calendar-day range in the report timezone.
// A zero bound is open.
type DateRange struct {
	Start time.Time // first instant of the start day
	End   time.Time // first instant of the day after the end day
}

// ParseDateRange reads the config bounds as calendar days in loc
func ParseDateRange(cfg domain.ReportConfig, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	var r DateRange

	if cfg.DateStart != "" {
		start, err := time.ParseInLocation(domain.DateLayout, cfg.DateStart, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid start date %q: %w", cfg.DateStart, err)
		}
		r.Start = start
	}
	if cfg.DateEnd != "" {
		end, err := time.ParseInLocation(domain.DateLayout, cfg.DateEnd, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end date %q: %w", cfg.DateEnd, err)
		}
		r.End = end.AddDate(0, 0, 1)
	}
	if !r.Start.IsZero() && !r.End.IsZero() && !r.Start.Before(r.End) {
		return DateRange{}, ErrDateOrder
	}
	return r, nil
}

// Active reports whether any bound is set
func (r DateRange) Active() bool {
	return !r.Start.IsZero() || !r.End.IsZero()
}

// Contains reports whether t falls on a day inside the range. A missing
// timestamp is outside every active range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Active() {
		return true
	}
	if t.IsZero() {
		return false
	}
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Filter holds the predicates of one report run
type Filter struct {
	Range  DateRange
	Status domain.PaymentStatus
	Tariff domain.TariffFilter
	Search string
}

// NewFilter builds the filter for cfg
func NewFilter(cfg domain.ReportConfig, loc *time.Location) (Filter, error) {
	r, err := ParseDateRange(cfg, loc)
	if err != nil {
		return Filter{}, err
	}
	return Filter{
		Range:  r,
		Status: cfg.Status(),
		Tariff: cfg.Tariff(),
		Search: strings.ToLower(strings.TrimSpace(cfg.Search)),
	}, nil
}

// Payments keeps the rows passing every active predicate, newest first
func (f Filter) Payments(rows []domain.PaymentRow) []domain.PaymentRow {
	out := make([]domain.PaymentRow, 0, len(rows))
	for _, row := range rows {
		if !f.Range.Contains(row.CreatedAt) {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		if f.Search != "" && !matchesAny(f.Search,
			row.UserName, row.ID, row.UserEmail, row.UserPhone, row.Amount.String()) {
			continue
		}
		out = append(out, row)
	}
	SortPayments(out)
	return out
}

// Users keeps the rows passing every active predicate, newest registration first
func (f Filter) Users(rows []domain.UserRow) []domain.UserRow {
	out := make([]domain.UserRow, 0, len(rows))
	for _, row := range rows {
		if !f.Range.Contains(row.RegisteredAt) {
			continue
		}
		switch f.Tariff {
		case domain.TariffFilterWith:
			if !row.HasTariff {
				continue
			}
		case domain.TariffFilterWithout:
			if row.HasTariff {
				continue
			}
		}
		if f.Search != "" && !matchesAny(f.Search,
			row.Name, row.ID, row.Email, row.Phone, row.Balance.String()) {
			continue
		}
		out = append(out, row)
	}
	SortUsers(out)
	return out
}

// SortPayments orders by creation time descending; rows without a timestamp go last
func SortPayments(rows []domain.PaymentRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return newer(rows[i].CreatedAt, rows[j].CreatedAt)
	})
}

// SortUsers orders by registration descending, then id descending
func SortUsers(rows []domain.UserRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].RegisteredAt, rows[j].RegisteredAt
		if !a.Equal(b) {
			return newer(a, b)
		}
		return idGreater(rows[i].ID, rows[j].ID)
	})
}

func newer(a, b time.Time) bool {
	switch {
	case a.IsZero():
		return false
	case b.IsZero():
		return true
	}
	return a.After(b)
}

// idGreater compares numerically when both ids are integers
func idGreater(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai > bi
	}
	return a > b
}

func matchesAny(query string, fields ...string) bool {
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
