package seatlock

import (
	"errors"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/validation"
)

var (
	// ErrSeatUnavailable marks a lost race for a seat. Errors carrying it
	// also carry a *validation.Failure so callers handle a single
	// seat-conflict shape.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrHoldLost is returned when a booking is confirmed after its holds
	// expired, were released or were superseded.
	ErrHoldLost = errors.New("seat hold no longer active")
)

func conflict(seatIDs []uint64) error {
	return errs.Mark(validation.SeatConflict(seatIDs), ErrSeatUnavailable)
}
