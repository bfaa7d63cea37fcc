package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

func TestComputeTotals(t *testing.T) {
	got := ComputeTotals(dec("400"), decimal.Zero, decimal.Zero, dec("0.18"))
	assert.Equal(t, "72.00", got.Tax.StringFixed(2))
	assert.Equal(t, "472.00", got.Total.StringFixed(2))

	got = ComputeTotals(dec("259.99"), dec("300"), dec("50"), dec("0.18"))
	// (259.99 + 300 - 50) * 0.18 = 91.7982
	assert.Equal(t, "91.80", got.Tax.StringFixed(2))
	assert.Equal(t, "601.79", got.Total.StringFixed(2))

	got = ComputeTotals(dec("10"), decimal.Zero, dec("25"), dec("0.18"))
	assert.Equal(t, "10.00", got.Discount.StringFixed(2))
	assert.True(t, got.Total.IsZero())
}

func TestSumLineItems(t *testing.T) {
	sum := SumLineItems([]model.LineItem{
		{Name: "Popcorn", UnitPrice: dec("150"), Quantity: 2},
		{Name: "Cola", UnitPrice: dec("89.50"), Quantity: 1},
		{Name: "Nachos", UnitPrice: dec("120"), Quantity: 0},
	})
	assert.Equal(t, "389.50", sum.Subtotal.StringFixed(2))
	assert.Equal(t, []string{
		"2 x Popcorn @ 150.00 = 300.00",
		"1 x Cola @ 89.50 = 89.50",
	}, sum.Lines)

	empty := SumLineItems(nil)
	assert.True(t, empty.Subtotal.IsZero())
	assert.Empty(t, empty.Lines)
}

func TestRefundAmount(t *testing.T) {
	show := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	full, half := 24*time.Hour, 6*time.Hour
	total := dec("472.01")

	cases := []struct {
		name   string
		before time.Duration
		want   string
	}{
		{"two days ahead", 48 * time.Hour, "472.01"},
		{"exactly a day ahead", 24 * time.Hour, "236.01"},
		{"half day ahead", 12 * time.Hour, "236.01"},
		{"exactly six hours ahead", 6 * time.Hour, "0.00"},
		{"after start", -time.Hour, "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RefundAmount(total, show.Add(-tc.before), show, full, half)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}
