package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking. Only the lifecycle
// package decides transitions between these values.
type BookingStatus string

const (
	BookingIntent    BookingStatus = "INTENT"
	BookingHeld      BookingStatus = "HELD"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingRefunded  BookingStatus = "REFUNDED"
)

// ActiveBookingStatuses are the statuses counted against the per-user
// booking limit.
var ActiveBookingStatuses = []BookingStatus{BookingIntent, BookingHeld, BookingConfirmed}

// Booking records a user's claim on a set of seats for one showtime,
// together with its money breakdown and lifecycle status.
//
// Fields:
//  ID             – primary key identifier.
//  Reference      – human readable code, e.g. BK1A2B3C4D.
//  UserID         – user who made the booking.
//  ShowtimeID     – showtime being booked.
//  Status         – lifecycle status.
//  TicketAmount   – sum of frozen seat prices.
//  AddOnAmount    – sum of add-on line items.
//  TaxAmount      – GST on ticket + add-ons − discount.
//  DiscountAmount – discount applied (promo arithmetic lives elsewhere).
//  TotalAmount    – amount charged.
//  RefundAmount   – amount returned after a refund.
//  PaymentRef     – gateway transaction id once paid.
//  CancelReason   – free text given on cancellation.
//  HoldToken      – token of the seat holds backing the booking.
//  ExpiresAt      – deadline of the underlying seat holds.
type Booking struct {
	ID             uint64          // bookings.id
	Reference      string          // bookings.reference
	UserID         uint64          // bookings.user_id
	ShowtimeID     uint64          // bookings.showtime_id
	Status         BookingStatus   // bookings.status
	TicketAmount   decimal.Decimal // bookings.ticket_amount
	AddOnAmount    decimal.Decimal // bookings.addon_amount
	TaxAmount      decimal.Decimal // bookings.tax_amount
	DiscountAmount decimal.Decimal // bookings.discount_amount
	TotalAmount    decimal.Decimal // bookings.total_amount
	RefundAmount   decimal.Decimal // bookings.refund_amount
	PaymentRef     *string         // bookings.payment_ref (nullable)
	CancelReason   string          // bookings.cancel_reason
	HoldToken      string          // bookings.hold_token
	ExpiresAt      time.Time       // bookings.expires_at
	ConfirmedAt    *time.Time      // bookings.confirmed_at (nullable)
	CancelledAt    *time.Time      // bookings.cancelled_at (nullable)
	RefundedAt     *time.Time      // bookings.refunded_at (nullable)
	CreatedAt      time.Time       // bookings.created_at
	UpdatedAt      time.Time       // bookings.updated_at

	Seats  []BookingSeat // booking_seats rows
	AddOns []LineItem    // booking_addons rows
}

// SeatIDs lists the seats claimed by the booking.
func (b *Booking) SeatIDs() []uint64 {
	ids := make([]uint64, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}

// BookingSeat links a booking to one seat and freezes the price charged
// for it. The price is never recomputed after creation.
type BookingSeat struct {
	ID         uint64          // booking_seats.id
	BookingID  uint64          // booking_seats.booking_id
	ShowtimeID uint64          // booking_seats.showtime_id
	SeatID     uint64          // booking_seats.seat_id
	SeatLabel  string          // booking_seats.seat_label
	UnitPrice  decimal.Decimal // booking_seats.unit_price
}

// LineItem is a priced add-on (food, beverage, merchandise) attached to a
// booking.
type LineItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}
