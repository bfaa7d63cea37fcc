package service

import (
	"context"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/lifecycle"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// effects carries out lifecycle side effects against the booking store and
// the lock manager. Released holds are announced as released, or as
// expired when the sweeper drives the transition.
type effects struct {
	s        *BookingService
	released broadcast.EventType
}

func (s *BookingService) effects(ev lifecycle.Event) lifecycle.Effects {
	typ := broadcast.Released
	if ev == lifecycle.Expire {
		typ = broadcast.Expired
	}
	return effects{s: s, released: typ}
}

func (fx effects) AdjustAvailableSeats(ctx context.Context, showtimeID uint64, delta int) error {
	return fx.s.bookings.AdjustAvailableSeats(ctx, showtimeID, delta)
}

func (fx effects) PromoteHolds(ctx context.Context, b *model.Booking) error {
	return fx.s.locks.PromoteHolds(ctx, b.ShowtimeID, b.UserID, b.HoldToken, b.SeatIDs())
}

func (fx effects) ReleaseHolds(ctx context.Context, b *model.Booking) error {
	_, err := fx.s.locks.ReleaseHoldGroup(ctx, b.ShowtimeID, b.UserID, b.HoldToken, fx.released)
	return err
}

func (fx effects) RemoveSeatClaims(ctx context.Context, b *model.Booking) error {
	return fx.s.bookings.DeleteBookingSeats(ctx, b.ID)
}
