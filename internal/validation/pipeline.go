// Package validation decides whether a reservation request may proceed to
// seat locking. Checks are pure functions over a Request snapshot and run
// in a fixed order, stopping at the first failure.
package validation

import (
	"fmt"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// Check names reported in failures.
const (
	CheckUser         = "UserVerification"
	CheckShowtime     = "ShowtimeValidation"
	CheckSeats        = "SeatAvailability"
	CheckBookingLimit = "BookingLimit"
)

// Request is the snapshot a pipeline run looks at. It is built once per
// reservation attempt and never modified by the checks.
type Request struct {
	User     *model.User     // nil when the user does not exist
	Showtime *model.Showtime // nil when the showtime does not exist
	SeatIDs  []uint64

	Booked       map[uint64]bool // confirmed seats for the showtime
	HeldByOthers map[uint64]bool // live holds owned by other users
	Unknown      map[uint64]bool // requested ids not on the showtime's screen, or out of sale

	ActiveBookings int // requester's Intent/Held/Confirmed bookings
	MaxSeats       int
	MaxActive      int
	Now            time.Time
}

// Result is the outcome of one check or of a whole pipeline run.
type Result struct {
	Valid   bool
	Check   string
	Message string
}

// Pass is the result of a check that found nothing wrong.
var Pass = Result{Valid: true}

func fail(check, format string, args ...interface{}) Result {
	return Result{Check: check, Message: fmt.Sprintf(format, args...)}
}

// Err converts a failed result into a *Failure; it returns nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Failure{Check: r.Check, Message: r.Message}
}

// Check is a single validation rule.
type Check func(Request) Result

// Pipeline is an ordered list of checks.
type Pipeline []Check

// Default returns the canonical order: user, showtime, seats, booking limit.
func Default() Pipeline {
	return Pipeline{UserVerification, ShowtimeValidation, SeatAvailability, BookingLimit}
}

// Run evaluates checks in order and returns the first failure, or Pass.
func (p Pipeline) Run(r Request) Result {
	for _, check := range p {
		if res := check(r); !res.Valid {
			return res
		}
	}
	return Pass
}
