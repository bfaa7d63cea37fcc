package model

import "time"

// SeatHold is an exclusive, time-boxed claim on one seat for one showtime.
// At most one active hold may exist per (showtime, seat). A hold stops
// counting once ExpiresAt has passed even if the sweeper has not yet
// flipped Active.
//
// Fields:
//  ID         – primary key identifier.
//  ShowtimeID – showtime for which the seat is held.
//  SeatID     – seat being held.
//  UserID     – user who holds the seat.
//  HoldToken  – opaque token returned to the client.
//  Active     – false once released, expired or promoted to a booking.
//  CreatedAt  – when the hold was granted.
//  ExpiresAt  – absolute expiry; never extended.
type SeatHold struct {
	ID         uint64    // seat_holds.id
	ShowtimeID uint64    // seat_holds.showtime_id
	SeatID     uint64    // seat_holds.seat_id
	UserID     uint64    // seat_holds.user_id
	HoldToken  string    // seat_holds.hold_token
	Active     bool      // seat_holds.active_slot IS NOT NULL
	CreatedAt  time.Time // seat_holds.created_at
	ExpiresAt  time.Time // seat_holds.expires_at
}

// LiveAt reports whether the hold still blocks other users at now.
func (h SeatHold) LiveAt(now time.Time) bool {
	return h.Active && now.Before(h.ExpiresAt)
}
