package validation

import (
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

// Failure is the user-facing rejection of a reservation request: the name
// of the check that failed and a readable reason. Seat conflicts detected
// while locking use the same shape as those found by SeatAvailability.
type Failure struct {
	Check   string
	Message string
}

func (f *Failure) Error() string { return f.Check + ": " + f.Message }

// SeatConflict is the failure reported when a seat was taken by a
// concurrent request between validation and locking.
func SeatConflict(seatIDs []uint64) *Failure {
	set := make(map[uint64]bool, len(seatIDs))
	for _, id := range seatIDs {
		set[id] = true
	}
	return &Failure{Check: CheckSeats, Message: "seat unavailable: " + matching(seatIDs, set)}
}

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errs.As(err, &f) {
		return f, true
	}
	return nil, false
}
