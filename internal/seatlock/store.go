package seatlock

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/store"
)

// HoldStore is the persistence the manager needs. Methods called with a
// transactional context take part in that transaction.
type HoldStore interface {
	store.TxRunner

	// BookedSeatIDs returns seats claimed by confirmed bookings.
	BookedSeatIDs(ctx context.Context, showtimeID uint64) ([]uint64, error)
	// ActiveHolds returns holds whose active flag is still set, expired or
	// not. Inside a transaction the rows stay locked until it ends.
	ActiveHolds(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error)
	// InsertHolds stores new active holds and returns them with ids. It
	// fails with ErrSeatUnavailable if a seat already has an active hold.
	InsertHolds(ctx context.Context, holds []model.SeatHold) ([]model.SeatHold, error)
	// DeactivateHolds clears the active flag of the given holds that are
	// still active and, when expiredBy is set, expired at that instant. It
	// returns the holds it changed.
	DeactivateHolds(ctx context.Context, ids []uint64, expiredBy *time.Time) ([]model.SeatHold, error)
	// ExpiredHolds lists up to limit active holds with expiry at or before now.
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.SeatHold, error)
}
