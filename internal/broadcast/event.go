package broadcast

import (
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// EventType says why seat statuses changed.
type EventType string

const (
	Locked   EventType = "LOCKED"
	Released EventType = "RELEASED"
	Booked   EventType = "BOOKED"
	Expired  EventType = "EXPIRED"
)

// SeatChange is the new status of one seat.
type SeatChange struct {
	SeatID uint64           `json:"seat_id"`
	Status model.SeatStatus `json:"status"`
}

// Event is one availability change for a showtime. UserID is nil for
// changes made by the expiry sweeper.
type Event struct {
	ShowtimeID uint64       `json:"showtime_id"`
	Type       EventType    `json:"type"`
	Seats      []SeatChange `json:"seats"`
	UserID     *uint64      `json:"user_id,omitempty"`
	At         time.Time    `json:"at"`
}

// NewEvent builds an event for seatIDs, deriving each seat's new status
// from the event type.
func NewEvent(typ EventType, showtimeID uint64, seatIDs []uint64, userID *uint64, at time.Time) Event {
	status := statusFor(typ)
	seats := make([]SeatChange, 0, len(seatIDs))
	for _, id := range seatIDs {
		seats = append(seats, SeatChange{SeatID: id, Status: status})
	}
	return Event{ShowtimeID: showtimeID, Type: typ, Seats: seats, UserID: userID, At: at}
}

func statusFor(typ EventType) model.SeatStatus {
	switch typ {
	case Locked:
		return model.SeatLocked
	case Booked:
		return model.SeatBooked
	default:
		return model.SeatAvailable
	}
}

// SeatIDs lists the seats touched by the event.
func (e Event) SeatIDs() []uint64 {
	ids := make([]uint64, len(e.Seats))
	for i, s := range e.Seats {
		ids[i] = s.SeatID
	}
	return ids
}

// SeatUpdate is the per-seat message pushed to browsers and the message bus.
type SeatUpdate struct {
	ShowtimeID     uint64           `json:"showtimeId"`
	SeatID         uint64           `json:"seatId"`
	Status         model.SeatStatus `json:"status"`
	LockedByUserID *uint64          `json:"lockedByUserId,omitempty"`
}

// Updates flattens the event into one SeatUpdate per seat. The locking
// user is only exposed for LOCKED seats.
func (e Event) Updates() []SeatUpdate {
	out := make([]SeatUpdate, 0, len(e.Seats))
	for _, s := range e.Seats {
		u := SeatUpdate{ShowtimeID: e.ShowtimeID, SeatID: s.SeatID, Status: s.Status}
		if s.Status == model.SeatLocked {
			u.LockedByUserID = e.UserID
		}
		out = append(out, u)
	}
	return out
}
