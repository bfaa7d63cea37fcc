// Package memstore is an in-memory implementation of every storage
// interface the engine uses. One mutex guards all state; a transaction
// holds it from start to commit, so transactions are fully serialized.
// A failed transaction restores the state it started from.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
	"github.com/iliyamo/cinema-booking-engine/internal/store"
)

type state struct {
	showtimes map[uint64]model.Showtime
	seats     map[uint64]model.Seat
	users     map[uint64]model.User
	holds     map[uint64]model.SeatHold
	bookings  map[uint64]model.Booking

	nextHold        uint64
	nextBooking     uint64
	nextBookingSeat uint64
}

// clone copies the maps. Slices inside bookings are never mutated in
// place, so sharing them between copies is safe.
func (s *state) clone() *state {
	c := *s
	c.showtimes = copyMap(s.showtimes)
	c.seats = copyMap(s.seats)
	c.users = copyMap(s.users)
	c.holds = copyMap(s.holds)
	c.bookings = copyMap(s.bookings)
	return &c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: &state{
		showtimes: map[uint64]model.Showtime{},
		seats:     map[uint64]model.Seat{},
		users:     map[uint64]model.User{},
		holds:     map[uint64]model.SeatHold{},
		bookings:  map[uint64]model.Booking{},
	}}
}

type txKey struct{}

type tx struct {
	owner *Store
	hooks store.Hooks
}

func (s *Store) txFrom(ctx context.Context) *tx {
	if t, ok := ctx.Value(txKey{}).(*tx); ok && t.owner == s {
		return t
	}
	return nil
}

// enter takes the store mutex unless ctx already carries one of our
// transactions, which holds it.
func (s *Store) enter(ctx context.Context) func() {
	if s.txFrom(ctx) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	saved := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = saved
			s.mu.Unlock()
		}
	}()

	t := &tx{owner: s}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	committed = true
	s.mu.Unlock()
	t.hooks.Run()
	return nil
}

func (s *Store) AfterCommit(ctx context.Context, fn func()) {
	if t := s.txFrom(ctx); t != nil {
		t.hooks.Add(fn)
		return
	}
	fn()
}

// --- seeding -----------------------------------------------------------

func (s *Store) AddShowtime(st model.Showtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.showtimes[st.ID] = st
}

func (s *Store) AddSeats(seats ...model.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		s.st.seats[seat.ID] = seat
	}
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// Holds returns every hold ever stored for the showtime, active or not.
func (s *Store) Holds(showtimeID uint64) []model.SeatHold {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SeatHold
	for _, h := range s.st.holds {
		if h.ShowtimeID == showtimeID {
			out = append(out, h)
		}
	}
	sortHolds(out)
	return out
}

// --- catalog -----------------------------------------------------------

func (s *Store) GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	defer s.enter(ctx)()
	st, ok := s.st.showtimes[id]
	if !ok {
		return nil, errs.Mark(errs.Newf("showtime %d", id), errs.ErrNotFound)
	}
	return &st, nil
}

func (s *Store) GetSeatsByScreen(ctx context.Context, screenID uint64) ([]model.Seat, error) {
	defer s.enter(ctx)()
	var out []model.Seat
	for _, seat := range s.st.seats {
		if seat.ScreenID == screenID {
			out = append(out, seat)
		}
	}
	sortSeats(out)
	return out, nil
}

func (s *Store) GetSeatsByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	defer s.enter(ctx)()
	var out []model.Seat
	for _, id := range ids {
		if seat, ok := s.st.seats[id]; ok {
			out = append(out, seat)
		}
	}
	sortSeats(out)
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	defer s.enter(ctx)()
	u, ok := s.st.users[id]
	if !ok {
		return nil, errs.Mark(errs.Newf("user %d", id), errs.ErrNotFound)
	}
	return &u, nil
}

// --- holds -------------------------------------------------------------

func (s *Store) BookedSeatIDs(ctx context.Context, showtimeID uint64) ([]uint64, error) {
	defer s.enter(ctx)()
	var ids []uint64
	for _, b := range s.st.bookings {
		if b.ShowtimeID != showtimeID || b.Status != model.BookingConfirmed {
			continue
		}
		ids = append(ids, b.SeatIDs()...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ActiveHolds(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error) {
	defer s.enter(ctx)()
	var out []model.SeatHold
	for _, h := range s.st.holds {
		if h.ShowtimeID == showtimeID && h.Active {
			out = append(out, h)
		}
	}
	sortHolds(out)
	return out, nil
}

func (s *Store) InsertHolds(ctx context.Context, holds []model.SeatHold) ([]model.SeatHold, error) {
	defer s.enter(ctx)()
	taken := make(map[[2]uint64]bool)
	for _, h := range s.st.holds {
		if h.Active {
			taken[[2]uint64{h.ShowtimeID, h.SeatID}] = true
		}
	}
	for _, h := range holds {
		k := [2]uint64{h.ShowtimeID, h.SeatID}
		if taken[k] {
			return nil, errs.Wrapf(seatlock.ErrSeatUnavailable, "seat %d already held", h.SeatID)
		}
		taken[k] = true
	}
	out := make([]model.SeatHold, 0, len(holds))
	for _, h := range holds {
		s.st.nextHold++
		h.ID = s.st.nextHold
		h.Active = true
		s.st.holds[h.ID] = h
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) DeactivateHolds(ctx context.Context, ids []uint64, expiredBy *time.Time) ([]model.SeatHold, error) {
	defer s.enter(ctx)()
	var out []model.SeatHold
	for _, id := range ids {
		h, ok := s.st.holds[id]
		if !ok || !h.Active {
			continue
		}
		if expiredBy != nil && h.ExpiresAt.After(*expiredBy) {
			continue
		}
		h.Active = false
		s.st.holds[id] = h
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.SeatHold, error) {
	defer s.enter(ctx)()
	var out []model.SeatHold
	for _, h := range s.st.holds {
		if h.Active && !h.ExpiresAt.After(now) {
			out = append(out, h)
		}
	}
	sortHolds(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- bookings ----------------------------------------------------------

func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	defer s.enter(ctx)()
	s.st.nextBooking++
	b.ID = s.st.nextBooking
	seats := make([]model.BookingSeat, len(b.Seats))
	for i, bs := range b.Seats {
		s.st.nextBookingSeat++
		bs.ID = s.st.nextBookingSeat
		bs.BookingID = b.ID
		bs.ShowtimeID = b.ShowtimeID
		seats[i] = bs
	}
	b.Seats = seats
	s.st.bookings[b.ID] = copyBooking(*b)
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	defer s.enter(ctx)()
	b, ok := s.st.bookings[id]
	if !ok {
		return nil, errs.Mark(errs.Newf("booking %d", id), errs.ErrNotFound)
	}
	c := copyBooking(b)
	return &c, nil
}

func (s *Store) ListBookingsByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	defer s.enter(ctx)()
	return s.filterBookings(func(b model.Booking) bool { return b.UserID == userID }), nil
}

func (s *Store) CountActiveBookings(ctx context.Context, userID uint64) (int, error) {
	defer s.enter(ctx)()
	list := s.filterBookings(func(b model.Booking) bool { return b.UserID == userID && isActive(b.Status) })
	return len(list), nil
}

func (s *Store) ListOpenBookings(ctx context.Context, userID, showtimeID uint64) ([]model.Booking, error) {
	defer s.enter(ctx)()
	return s.filterBookings(func(b model.Booking) bool {
		return b.UserID == userID && b.ShowtimeID == showtimeID && isOpen(b.Status)
	}), nil
}

func (s *Store) ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	defer s.enter(ctx)()
	out := s.filterBookings(func(b model.Booking) bool { return isOpen(b.Status) && !b.ExpiresAt.After(now) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveBooking(ctx context.Context, b *model.Booking) error {
	defer s.enter(ctx)()
	cur, ok := s.st.bookings[b.ID]
	if !ok {
		return errs.Mark(errs.Newf("booking %d", b.ID), errs.ErrNotFound)
	}
	next := copyBooking(*b)
	next.Seats = cur.Seats
	s.st.bookings[b.ID] = next
	return nil
}

func (s *Store) DeleteBookingSeats(ctx context.Context, bookingID uint64) error {
	defer s.enter(ctx)()
	b, ok := s.st.bookings[bookingID]
	if !ok {
		return errs.Mark(errs.Newf("booking %d", bookingID), errs.ErrNotFound)
	}
	b.Seats = nil
	s.st.bookings[bookingID] = b
	return nil
}

func (s *Store) AdjustAvailableSeats(ctx context.Context, showtimeID uint64, delta int) error {
	defer s.enter(ctx)()
	st, ok := s.st.showtimes[showtimeID]
	if !ok {
		return errs.Mark(errs.Newf("showtime %d", showtimeID), errs.ErrNotFound)
	}
	next := st.AvailableSeats + delta
	if next < 0 || next > st.TotalSeats {
		return errs.Newf("available seats of showtime %d would become %d", showtimeID, next)
	}
	st.AvailableSeats = next
	s.st.showtimes[showtimeID] = st
	return nil
}

func (s *Store) filterBookings(keep func(model.Booking) bool) []model.Booking {
	var out []model.Booking
	for _, b := range s.st.bookings {
		if keep(b) {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyBooking(b model.Booking) model.Booking {
	b.Seats = append([]model.BookingSeat(nil), b.Seats...)
	b.AddOns = append([]model.LineItem(nil), b.AddOns...)
	return b
}

func isOpen(st model.BookingStatus) bool {
	return st == model.BookingIntent || st == model.BookingHeld
}

func isActive(st model.BookingStatus) bool {
	for _, a := range model.ActiveBookingStatuses {
		if st == a {
			return true
		}
	}
	return false
}

func sortHolds(hs []model.SeatHold) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].ID < hs[j].ID })
}

func sortSeats(seats []model.Seat) {
	sort.Slice(seats, func(i, j int) bool { return seats[i].ID < seats[j].ID })
}
