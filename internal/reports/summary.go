package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"adminreports/pkg/contracts/domain"
)

var hundred = decimal.NewFromInt(100)

// SummarizePayments computes count, sum, average and the status breakdown of rows
func SummarizePayments(rows []domain.PaymentRow) domain.Summary {
	total := decimal.Zero
	counts := make(map[domain.PaymentStatus]int)
	for _, row := range rows {
		total = total.Add(row.Amount)
		counts[row.Status]++
	}

	s := domain.Summary{
		Count:   len(rows),
		Total:   total.Round(2),
		Average: average(total, len(rows)),
	}
	for _, status := range domain.PaymentStatuses {
		n := counts[status]
		if n == 0 {
			continue
		}
		s.Breakdown = append(s.Breakdown, domain.Share{
			Key:     string(status),
			Label:   status.Label(),
			Count:   n,
			Percent: percent(n, len(rows)),
		})
	}
	return s
}

// SummarizeUsers computes count, balance sum and average, tariff presence and
// the distribution per tariff name
func SummarizeUsers(rows []domain.UserRow) domain.Summary {
	total := decimal.Zero
	perTariff := make(map[string]int)
	s := domain.Summary{Count: len(rows)}

	for _, row := range rows {
		total = total.Add(row.Balance)
		perTariff[row.Tariff]++
		if row.HasTariff {
			s.WithTariff++
		}
		if row.Active {
			s.Active++
		}
	}
	s.Total = total.Round(2)
	s.Average = average(total, len(rows))

	for name, n := range perTariff {
		s.Breakdown = append(s.Breakdown, domain.Share{
			Key:     name,
			Label:   name,
			Count:   n,
			Percent: percent(n, len(rows)),
		})
	}
	sort.Slice(s.Breakdown, func(i, j int) bool {
		if s.Breakdown[i].Count != s.Breakdown[j].Count {
			return s.Breakdown[i].Count > s.Breakdown[j].Count
		}
		return s.Breakdown[i].Label < s.Breakdown[j].Label
	})
	return s
}

func average(total decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n))).Round(2)
}

func percent(n, of int) decimal.Decimal {
	if of == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).Mul(hundred).Div(decimal.NewFromInt(int64(of))).Round(1)
}
