package exporter

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"100", 100},
		{"10.005", 10.01},
		{"0.004", 0},
		{"-12.345", -12.35},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, money(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestFormatDates(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	ts := time.Date(2025, 2, 28, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, "01.03.2025 01:30", formatDateTime(ts, loc))
	assert.Equal(t, "01.03.2025", formatDate(ts, loc))
	assert.Empty(t, formatDateTime(time.Time{}, loc))
	assert.Empty(t, formatDate(time.Time{}, loc))
}
