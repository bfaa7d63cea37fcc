package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Seat types as stored in seats.seat_type.
const (
	SeatTypeStandard = "STANDARD"
	SeatTypePremium  = "PREMIUM"
	SeatTypeRecliner = "RECLINER"
	SeatTypeMotion   = "MOTION"
)

// Seat describes a physical seat on a screen. Seats are uniquely
// identified by their screen, row label and seat number. The base price
// is fixed when the screen is provisioned; only IsAvailable changes
// afterwards (e.g. a broken seat taken out of sale).
//
// Fields:
//  ID          – primary key identifier.
//  ScreenID    – screen to which this seat belongs.
//  RowLabel    – letter designating the row.
//  SeatNumber  – number of the seat within the row.
//  SeatType    – STANDARD, PREMIUM, RECLINER or MOTION.
//  BasePrice   – price before dynamic pricing is applied.
//  IsAvailable – false when the seat is out of sale.
type Seat struct {
	ID          uint64          // seats.id
	ScreenID    uint64          // seats.screen_id
	RowLabel    string          // seats.row_label
	SeatNumber  uint32          // seats.seat_number
	SeatType    string          // seats.seat_type
	BasePrice   decimal.Decimal // seats.base_price
	IsAvailable bool            // seats.is_available
	CreatedAt   time.Time       // seats.created_at
}

// Label renders the seat the way it is printed on a ticket, e.g. "A1".
func (s Seat) Label() string {
	return s.RowLabel + strconv.FormatUint(uint64(s.SeatNumber), 10)
}

// SeatStatus is the availability of a seat for one showtime as shown on
// the seat map.
type SeatStatus string

const (
	SeatAvailable   SeatStatus = "AVAILABLE"
	SeatLocked      SeatStatus = "LOCKED"
	SeatBooked      SeatStatus = "BOOKED"
	SeatUnavailable SeatStatus = "UNAVAILABLE"
)
