package service

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/store"
)

// BookingStore persists bookings and the showtime seat counters. Methods
// called with a transactional context take part in that transaction;
// GetBooking then also locks the booking row until the transaction ends.
type BookingStore interface {
	store.TxRunner

	// CreateBooking inserts b and its seat rows, filling in the ids.
	CreateBooking(ctx context.Context, b *model.Booking) error
	// GetBooking loads a booking with its seats and add-ons. A missing
	// booking is marked errs.ErrNotFound.
	GetBooking(ctx context.Context, id uint64) (*model.Booking, error)
	ListBookingsByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	// CountActiveBookings counts the user's Intent, Held and Confirmed bookings.
	CountActiveBookings(ctx context.Context, userID uint64) (int, error)
	// ListOpenBookings returns the user's Intent and Held bookings for a showtime.
	ListOpenBookings(ctx context.Context, userID, showtimeID uint64) ([]model.Booking, error)
	// ListExpiredHeld returns up to limit Intent or Held bookings whose
	// ExpiresAt is at or before now.
	ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	// SaveBooking writes status, money fields, timestamps, payment and
	// cancellation details and the add-on list of b.
	SaveBooking(ctx context.Context, b *model.Booking) error
	// DeleteBookingSeats removes the booking's seat claims.
	DeleteBookingSeats(ctx context.Context, bookingID uint64) error
	// AdjustAvailableSeats adds delta to the showtime's available seats.
	AdjustAvailableSeats(ctx context.Context, showtimeID uint64, delta int) error
}

// Catalog is the read-only view of showtimes, seats and users. Misses are
// marked errs.ErrNotFound.
type Catalog interface {
	GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error)
	GetSeatsByScreen(ctx context.Context, screenID uint64) ([]model.Seat, error)
	GetSeatsByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error)
	GetUser(ctx context.Context, id uint64) (*model.User, error)
}
