package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// Totals is the money breakdown stored on a booking.
type Totals struct {
	Ticket   decimal.Decimal
	AddOns   decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals taxes ticket + add-ons − discount at rate and returns the
// full breakdown. A discount larger than the subtotal is capped.
func ComputeTotals(ticket, addOns, discount, rate decimal.Decimal) Totals {
	subtotal := ticket.Add(addOns)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	taxable := subtotal.Sub(discount)
	tax := RoundMoney(taxable.Mul(rate))
	return Totals{
		Ticket:   RoundMoney(ticket),
		AddOns:   RoundMoney(addOns),
		Discount: RoundMoney(discount),
		Tax:      tax,
		Total:    RoundMoney(taxable.Add(tax)),
	}
}

// AddOnSummary is the running total over a list of add-on line items.
type AddOnSummary struct {
	Subtotal decimal.Decimal
	Lines    []string
}

// SumLineItems accumulates line items into a subtotal and a printable
// line per item ("2 x Popcorn @ 150.00 = 300.00"). Items with a
// non-positive quantity are skipped.
func SumLineItems(items []model.LineItem) AddOnSummary {
	sum := AddOnSummary{Subtotal: decimal.Zero}
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		sum.Subtotal = sum.Subtotal.Add(line)
		sum.Lines = append(sum.Lines, fmt.Sprintf("%d x %s @ %s = %s",
			it.Quantity, it.Name, it.UnitPrice.StringFixed(2), line.StringFixed(2)))
	}
	sum.Subtotal = RoundMoney(sum.Subtotal)
	return sum
}

// RefundAmount applies the cancellation policy: the full total when the
// booking was cancelled more than full before the show, half of it
// (rounded half-up) when more than half before, nothing otherwise.
func RefundAmount(total decimal.Decimal, cancelledAt, showAt time.Time, full, half time.Duration) decimal.Decimal {
	lead := showAt.Sub(cancelledAt)
	switch {
	case lead > full:
		return RoundMoney(total)
	case lead > half:
		return RoundMoney(total.Div(decimal.NewFromInt(2)))
	default:
		return decimal.Zero
	}
}
