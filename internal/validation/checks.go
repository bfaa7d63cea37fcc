package validation

import (
	"sort"
	"strconv"
	"strings"
)

func UserVerification(r Request) Result {
	if r.User == nil {
		return fail(CheckUser, "user not found")
	}
	if !r.User.IsActive {
		return fail(CheckUser, "user account is deactivated")
	}
	return Pass
}

func ShowtimeValidation(r Request) Result {
	st := r.Showtime
	switch {
	case st == nil:
		return fail(CheckShowtime, "showtime not found")
	case !st.IsActive():
		return fail(CheckShowtime, "showtime is not active")
	case !st.StartsAt.After(r.Now):
		return fail(CheckShowtime, "showtime has already started")
	case st.AvailableSeats <= 0:
		return fail(CheckShowtime, "showtime is sold out")
	}
	return Pass
}

func SeatAvailability(r Request) Result {
	if len(r.SeatIDs) == 0 {
		return fail(CheckSeats, "no seats selected")
	}
	if len(r.SeatIDs) > r.MaxSeats {
		return fail(CheckSeats, "maximum %d seats allowed per booking", r.MaxSeats)
	}
	if ids := matching(r.SeatIDs, r.Unknown); len(ids) > 0 {
		return fail(CheckSeats, "seat not available: %s", ids)
	}
	if ids := matching(r.SeatIDs, r.Booked); len(ids) > 0 {
		return fail(CheckSeats, "seat already booked: %s", ids)
	}
	if ids := matching(r.SeatIDs, r.HeldByOthers); len(ids) > 0 {
		return fail(CheckSeats, "seat unavailable: %s", ids)
	}
	return Pass
}

func BookingLimit(r Request) Result {
	if r.ActiveBookings >= r.MaxActive {
		return fail(CheckBookingLimit, "maximum %d active bookings reached", r.MaxActive)
	}
	return Pass
}

// matching lists the ids present in set as a sorted, comma separated string.
func matching(ids []uint64, set map[uint64]bool) string {
	var hit []uint64
	for _, id := range ids {
		if set[id] {
			hit = append(hit, id)
		}
	}
	if len(hit) == 0 {
		return ""
	}
	sort.Slice(hit, func(i, j int) bool { return hit[i] < hit[j] })
	parts := make([]string, len(hit))
	for i, id := range hit {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ", ")
}
