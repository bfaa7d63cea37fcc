// Package queue defines the messages exchanged over RabbitMQ and the
// consumer that journals booking lifecycle events.
package queue

import "strconv"

const (
	// BookingEventsQueue is the durable queue carrying BookingEvent messages.
	BookingEventsQueue = "booking.events"
	// SeatUpdatesExchange is the topic exchange carrying per-seat updates,
	// routed by showtime.
	SeatUpdatesExchange = "seat.updates"
)

// SeatRoutingKey is the routing key for seat updates of one showtime.
func SeatRoutingKey(showtimeID uint64) string {
	return "showtime." + strconv.FormatUint(showtimeID, 10)
}

// Booking event types.
const (
	BookingConfirmed = "BOOKING_CONFIRMED"
	BookingCancelled = "BOOKING_CANCELLED"
	BookingRefunded  = "BOOKING_REFUNDED"
)

// BookingEvent is published after a booking is confirmed, cancelled or
// refunded. It carries enough for downstream consumers (notifications,
// journaling) to act without querying the database. Money fields are
// decimal strings with two places.
type BookingEvent struct {
	Type         string   `json:"type"`
	BookingID    uint64   `json:"booking_id"`
	Reference    string   `json:"reference"`
	UserID       uint64   `json:"user_id"`
	ShowtimeID   uint64   `json:"showtime_id"`
	Status       string   `json:"status"`
	SeatLabels   []string `json:"seats"`
	TotalAmount  string   `json:"total_amount"`
	RefundAmount string   `json:"refund_amount,omitempty"`
	Currency     string   `json:"currency"`
	Reason       string   `json:"reason,omitempty"`
	OccurredAt   string   `json:"occurred_at"`
}
