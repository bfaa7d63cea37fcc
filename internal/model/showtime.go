package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ShowtimeActive    = "ACTIVE"
	ShowtimeCancelled = "CANCELLED"
)

// Showtime is one scheduled screening of a movie on a screen.
// AvailableSeats counts seats not yet claimed by a confirmed booking; it
// only changes inside the confirm and cancel transitions of a booking.
// Holds never touch it.
//
// Fields:
//  ID             – primary key identifier.
//  MovieID        – movie being screened.
//  ScreenID       – screen the showtime runs on.
//  StartsAt       – scheduled start (UTC).
//  EndsAt         – scheduled end (UTC).
//  BasePrice      – showtime base price (informational; seats carry their own).
//  TotalSeats     – fixed seat capacity.
//  AvailableSeats – seats still sellable.
//  Status         – ACTIVE or CANCELLED.
type Showtime struct {
	ID             uint64          // showtimes.id
	MovieID        uint64          // showtimes.movie_id
	ScreenID       uint64          // showtimes.screen_id
	StartsAt       time.Time       // showtimes.starts_at
	EndsAt         time.Time       // showtimes.ends_at
	BasePrice      decimal.Decimal // showtimes.base_price
	TotalSeats     int             // showtimes.total_seats
	AvailableSeats int             // showtimes.available_seats
	Status         string          // showtimes.status
}

// IsActive reports whether the showtime is open for sale.
func (s Showtime) IsActive() bool { return s.Status == ShowtimeActive }

// Occupancy is the fraction of seats claimed by confirmed bookings.
func (s Showtime) Occupancy() float64 {
	if s.TotalSeats <= 0 {
		return 0
	}
	return float64(s.TotalSeats-s.AvailableSeats) / float64(s.TotalSeats)
}
