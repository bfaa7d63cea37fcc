// Package service wires the seat lock manager, the validation pipeline,
// the booking state machine and the pricing engine into the operations the
// HTTP layer exposes: reserving seats, paying, cancelling, refunding and
// rendering seat maps.
package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/lifecycle"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/pricing"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
	"github.com/iliyamo/cinema-booking-engine/internal/validation"
)

// Cancellation reasons recorded by the engine itself.
const (
	ReasonSuperseded    = "superseded by a newer reservation"
	ReasonPaymentFailed = "payment failed"
	ReasonHoldExpired   = "seat hold expired"
)

// BookingEventPublisher forwards booking lifecycle events to the message
// bus. Failures are logged by the caller and never undo a transition.
type BookingEventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error
}

// BookingDeps are the collaborators of a BookingService. Bookings and the
// lock manager's hold store must be the same backend so that lifecycle
// side effects join the booking's transaction.
type BookingDeps struct {
	Bookings  BookingStore
	Catalog   Catalog
	Locks     *seatlock.Manager
	Machine   *lifecycle.Machine
	Pricing   *pricing.Engine
	Settings  *config.Settings
	Clock     clock.Clock
	Broadcast broadcast.Publisher
	Events    BookingEventPublisher // optional
	Gateway   Gateway               // optional, required by ProcessPayment
	Log       *zap.Logger
}

type BookingService struct {
	bookings BookingStore
	catalog  Catalog
	locks    *seatlock.Manager
	machine  *lifecycle.Machine
	pricing  *pricing.Engine
	settings *config.Settings
	clock    clock.Clock
	pub      broadcast.Publisher
	events   BookingEventPublisher
	gateway  Gateway
	pipeline validation.Pipeline
	log      *zap.Logger
}

func NewBookingService(d BookingDeps) *BookingService {
	if d.Bookings == nil || d.Catalog == nil || d.Locks == nil || d.Pricing == nil || d.Settings == nil {
		panic("nil dependency passed to NewBookingService")
	}
	if d.Machine == nil {
		d.Machine = lifecycle.NewMachine(d.Log)
	}
	if d.Clock == nil {
		d.Clock = clock.NewRealClock()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &BookingService{
		bookings: d.Bookings,
		catalog:  d.Catalog,
		locks:    d.Locks,
		machine:  d.Machine,
		pricing:  d.Pricing,
		settings: d.Settings,
		clock:    d.Clock,
		pub:      d.Broadcast,
		events:   d.Events,
		gateway:  d.Gateway,
		pipeline: validation.Default(),
		log:      d.Log,
	}
}

// RequestReservation validates the request against a fresh snapshot, takes
// the seat holds and records a Held booking with the seat prices frozen at
// the current dynamic price. The user's older unpaid bookings for the same
// showtime are cancelled, since their holds were just superseded.
//
// A rejected request returns a *validation.Failure, whether the pipeline
// rejected it or a concurrent request took a seat first.
func (s *BookingService) RequestReservation(ctx context.Context, userID, showtimeID uint64, seatIDs []uint64) (*model.Booking, error) {
	seatIDs = dedupe(seatIDs)
	req, seats, err := s.snapshot(ctx, userID, showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}
	if res := s.pipeline.Run(req); !res.Valid {
		s.log.Info("reservation rejected",
			zap.Uint64("user_id", userID), zap.Uint64("showtime_id", showtimeID),
			zap.String("check", res.Check), zap.String("reason", res.Message))
		return nil, res.Err()
	}

	// one guard spans the holds and the booking so their seat events keep
	// commit order
	ctx, unlock, err := s.locks.Guard(ctx, showtimeID, userID, seatIDs)
	if err != nil {
		return nil, err
	}
	defer unlock()

	holds, err := s.locks.AcquireHolds(ctx, showtimeID, seatIDs, userID)
	if err != nil {
		return nil, err
	}
	token := holds[0].HoldToken

	b, err := s.createBooking(ctx, req.Showtime, seats, holds)
	if err != nil {
		if _, relErr := s.locks.ReleaseHoldGroup(ctx, showtimeID, userID, token, broadcast.Released); relErr != nil {
			s.log.Error("release holds after failed reservation", zap.Error(relErr))
		}
		return nil, errs.Wrap(err, "create booking")
	}
	s.log.Info("reservation held",
		zap.Uint64("booking_id", b.ID), zap.String("reference", b.Reference),
		zap.Uint64("user_id", userID), zap.Uint64("showtime_id", showtimeID),
		zap.Int("seats", len(b.Seats)), zap.String("total", b.TotalAmount.StringFixed(2)))
	return b, nil
}

// snapshot gathers everything the pipeline looks at. Missing users and
// showtimes are left nil for the pipeline to reject.
func (s *BookingService) snapshot(ctx context.Context, userID, showtimeID uint64, seatIDs []uint64) (validation.Request, []model.Seat, error) {
	now := s.clock.Now()
	req := validation.Request{
		SeatIDs:   seatIDs,
		MaxSeats:  s.settings.Int(config.KeyMaxSeatsPerBooking),
		MaxActive: s.settings.Int(config.KeyMaxActiveBookings),
		Now:       now,
	}

	user, err := s.catalog.GetUser(ctx, userID)
	if err != nil && !errs.Is(err, errs.ErrNotFound) {
		return req, nil, errs.Wrap(err, "load user")
	}
	req.User = user

	st, err := s.catalog.GetShowtime(ctx, showtimeID)
	if err != nil && !errs.Is(err, errs.ErrNotFound) {
		return req, nil, errs.Wrap(err, "load showtime")
	}
	req.Showtime = st
	if st == nil {
		return req, nil, nil
	}

	seats, err := s.catalog.GetSeatsByIDs(ctx, seatIDs)
	if err != nil {
		return req, nil, errs.Wrap(err, "load seats")
	}
	known := make(map[uint64]bool, len(seats))
	var sellable []model.Seat
	for _, seat := range seats {
		if seat.ScreenID == st.ScreenID && seat.IsAvailable {
			known[seat.ID] = true
			sellable = append(sellable, seat)
		}
	}
	req.Unknown = make(map[uint64]bool)
	for _, id := range seatIDs {
		if !known[id] {
			req.Unknown[id] = true
		}
	}

	booked, err := s.locks.BookedSeatIDs(ctx, showtimeID)
	if err != nil {
		return req, nil, err
	}
	req.Booked = toSet(booked)

	holders, err := s.locks.Holders(ctx, showtimeID, now)
	if err != nil {
		return req, nil, err
	}
	req.HeldByOthers = make(map[uint64]bool)
	for seatID, holder := range holders {
		if holder != userID {
			req.HeldByOthers[seatID] = true
		}
	}

	active, err := s.bookings.CountActiveBookings(ctx, userID)
	if err != nil {
		return req, nil, errs.Wrap(err, "count active bookings")
	}
	open, err := s.bookings.ListOpenBookings(ctx, userID, showtimeID)
	if err != nil {
		return req, nil, errs.Wrap(err, "list open bookings")
	}
	// open bookings for this showtime are about to be superseded
	req.ActiveBookings = active - len(open)
	return req, sellable, nil
}

func (s *BookingService) createBooking(ctx context.Context, st *model.Showtime, seats []model.Seat, holds []model.SeatHold) (*model.Booking, error) {
	now := s.clock.Now()
	hold := holds[0]
	occupancy := st.Occupancy()

	b := &model.Booking{
		Reference:      newReference(),
		UserID:         hold.UserID,
		ShowtimeID:     st.ID,
		Status:         model.BookingIntent,
		HoldToken:      hold.HoldToken,
		ExpiresAt:      hold.ExpiresAt,
		DiscountAmount: decimal.Zero,
		RefundAmount:   decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ticket := decimal.Zero
	for _, seat := range seats {
		price := s.pricing.FinalPrice(seat.BasePrice, occupancy, st.StartsAt)
		ticket = ticket.Add(price)
		b.Seats = append(b.Seats, model.BookingSeat{
			ShowtimeID: st.ID, SeatID: seat.ID, SeatLabel: seat.Label(), UnitPrice: price,
		})
	}
	s.applyTotals(b, ticket, decimal.Zero)

	err := s.bookings.WithTx(ctx, func(ctx context.Context) error {
		open, err := s.bookings.ListOpenBookings(ctx, b.UserID, b.ShowtimeID)
		if err != nil {
			return err
		}
		for _, old := range open {
			if err := s.cancelInTx(ctx, &old, lifecycle.Cancel, ReasonSuperseded); err != nil {
				return err
			}
		}
		if err := s.bookings.CreateBooking(ctx, b); err != nil {
			return err
		}
		if _, err := s.machine.Apply(ctx, s.effects(lifecycle.Lock), b, lifecycle.Lock, now); err != nil {
			return err
		}
		return s.bookings.SaveBooking(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) applyTotals(b *model.Booking, ticket, addOns decimal.Decimal) {
	t := pricing.ComputeTotals(ticket, addOns, b.DiscountAmount, s.settings.Decimal(config.KeyGSTRate))
	b.TicketAmount = t.Ticket
	b.AddOnAmount = t.AddOns
	b.DiscountAmount = t.Discount
	b.TaxAmount = t.Tax
	b.TotalAmount = t.Total
}

// ConfirmAfterPayment moves a Held booking to Confirmed, promoting its
// holds into permanent seat claims. When the holds have already lapsed the
// booking is expired instead and the error carries seatlock.ErrHoldLost.
func (s *BookingService) ConfirmAfterPayment(ctx context.Context, bookingID uint64, paymentRef string) (*model.Booking, error) {
	b, _, err := s.confirm(ctx, bookingID, paymentRef)
	return b, err
}

// confirm also reports whether the booking moved, false when it was
// already Confirmed.
func (s *BookingService) confirm(ctx context.Context, bookingID uint64, paymentRef string) (*model.Booking, bool, error) {
	b, applied, err := s.transition(ctx, bookingID, lifecycle.Confirm, change{
		after: func(_ context.Context, b *model.Booking, _ time.Time) error {
			if paymentRef != "" {
				ref := paymentRef
				b.PaymentRef = &ref
			}
			return nil
		},
	})
	if err != nil && errs.Is(err, seatlock.ErrHoldLost) {
		s.log.Warn("payment arrived after seat holds lapsed", zap.Uint64("booking_id", bookingID))
		if _, _, expErr := s.transition(ctx, bookingID, lifecycle.Expire, change{reason: ReasonHoldExpired}); expErr != nil {
			s.log.Error("expire booking with lost holds", zap.Uint64("booking_id", bookingID), zap.Error(expErr))
		}
	}
	return b, applied, err
}

// CancelBooking cancels the user's booking. Cancelling a Confirmed
// booking gives its seats back to the showtime; cancelling twice is a
// no-op.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, userID uint64, reason string) (*model.Booking, error) {
	b, _, err := s.transition(ctx, bookingID, lifecycle.Cancel, change{owner: &userID, reason: reason})
	return b, err
}

// RefundBooking refunds a Cancelled booking according to how long before
// the show it was cancelled.
func (s *BookingService) RefundBooking(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	b, _, err := s.transition(ctx, bookingID, lifecycle.Refund, change{
		owner: &userID,
		after: func(ctx context.Context, b *model.Booking, now time.Time) error {
			st, err := s.catalog.GetShowtime(ctx, b.ShowtimeID)
			if err != nil {
				return errs.Wrap(err, "load showtime for refund")
			}
			cancelledAt := now
			if b.CancelledAt != nil {
				cancelledAt = *b.CancelledAt
			}
			b.RefundAmount = pricing.RefundAmount(b.TotalAmount, cancelledAt, st.StartsAt,
				hours(s.settings.Int(config.KeyFullRefundHours)), hours(s.settings.Int(config.KeyHalfRefundHours)))
			return nil
		},
	})
	return b, err
}

// ExpireOverdue cancels up to limit unpaid bookings whose holds have
// lapsed. Per-booking failures are logged and skipped.
func (s *BookingService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	overdue, err := s.bookings.ListExpiredHeld(ctx, now, limit)
	if err != nil {
		return 0, errs.Wrap(err, "list overdue bookings")
	}
	expired := 0
	for _, b := range overdue {
		_, applied, err := s.transition(ctx, b.ID, lifecycle.Expire, change{reason: ReasonHoldExpired})
		if err != nil {
			s.log.Error("expire booking failed", zap.Uint64("booking_id", b.ID), zap.Error(err))
			continue
		}
		if applied {
			expired++
		}
	}
	return expired, nil
}

// AttachAddOns replaces the add-on list of a Held booking and recomputes
// its tax and total.
func (s *BookingService) AttachAddOns(ctx context.Context, bookingID, userID uint64, items []model.LineItem) (*model.Booking, error) {
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" || it.Quantity <= 0 || it.UnitPrice.IsNegative() {
			return nil, errs.Mark(errs.Newf("invalid add-on %q", it.Name), errs.ErrInvalidInput)
		}
	}
	var out *model.Booking
	err := s.bookings.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.ownedBooking(ctx, bookingID, userID)
		if err != nil {
			return err
		}
		if b.Status != model.BookingHeld {
			return errs.Mark(errs.Newf("booking %d is %s", b.ID, b.Status), errs.ErrConflict)
		}
		sum := pricing.SumLineItems(items)
		b.AddOns = append([]model.LineItem(nil), items...)
		s.applyTotals(b, b.TicketAmount, sum.Subtotal)
		b.UpdatedAt = s.clock.Now()
		if err := s.bookings.SaveBooking(ctx, b); err != nil {
			return err
		}
		s.log.Info("add-ons attached",
			zap.Uint64("booking_id", b.ID), zap.Strings("lines", sum.Lines),
			zap.String("total", b.TotalAmount.StringFixed(2)))
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBooking returns one of the user's bookings.
func (s *BookingService) GetBooking(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	return s.ownedBooking(ctx, bookingID, userID)
}

func (s *BookingService) ListBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	list, err := s.bookings.ListBookingsByUser(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(err, "list bookings")
	}
	return list, nil
}

// ReleaseHolds gives up some of the user's held seats.
func (s *BookingService) ReleaseHolds(ctx context.Context, showtimeID uint64, seatIDs []uint64, userID uint64) ([]uint64, error) {
	return s.locks.ReleaseHolds(ctx, showtimeID, seatIDs, userID)
}

func (s *BookingService) ownedBooking(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, errs.Mark(errs.Newf("booking %d", bookingID), errs.ErrNotFound)
	}
	return b, nil
}

// change customises one transition.
type change struct {
	owner  *uint64 // when set, the booking must belong to this user
	reason string  // recorded on cancellation
	after  func(ctx context.Context, b *model.Booking, now time.Time) error
}

// transition loads the booking under lock, fires ev and persists the
// result in one transaction. applied is false for a no-op.
func (s *BookingService) transition(ctx context.Context, bookingID uint64, ev lifecycle.Event, c change) (*model.Booking, bool, error) {
	var (
		out     *model.Booking
		applied bool
	)
	// A miss is reported by the transaction below.
	if cur, err := s.bookings.GetBooking(ctx, bookingID); err == nil {
		var unlock func()
		ctx, unlock, err = s.locks.Guard(ctx, cur.ShowtimeID, cur.UserID, cur.SeatIDs())
		if err != nil {
			return nil, false, err
		}
		defer unlock()
	}
	err := s.bookings.WithTx(ctx, func(ctx context.Context) error {
		var (
			b   *model.Booking
			err error
		)
		if c.owner != nil {
			b, err = s.ownedBooking(ctx, bookingID, *c.owner)
		} else {
			b, err = s.bookings.GetBooking(ctx, bookingID)
		}
		if err != nil {
			return err
		}
		out = b
		applied, err = s.apply(ctx, b, ev, c)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (s *BookingService) cancelInTx(ctx context.Context, b *model.Booking, ev lifecycle.Event, reason string) error {
	_, err := s.apply(ctx, b, ev, change{reason: reason})
	return err
}

func (s *BookingService) apply(ctx context.Context, b *model.Booking, ev lifecycle.Event, c change) (bool, error) {
	from := b.Status
	seatIDs := b.SeatIDs()
	seatLabels := labels(b)
	now := s.clock.Now()

	applied, err := s.machine.Apply(ctx, s.effects(ev), b, ev, now)
	if err != nil || !applied {
		return false, err
	}
	if b.Status == model.BookingCancelled && c.reason != "" {
		b.CancelReason = c.reason
	}
	if c.after != nil {
		if err := c.after(ctx, b, now); err != nil {
			return false, err
		}
	}
	if err := s.bookings.SaveBooking(ctx, b); err != nil {
		return false, errs.Wrap(err, "save booking")
	}

	snapshot := *b
	if from == model.BookingConfirmed && b.Status == model.BookingCancelled && s.pub != nil {
		uid := b.UserID
		s.bookings.AfterCommit(ctx, func() {
			s.pub.Publish(broadcast.NewEvent(broadcast.Released, snapshot.ShowtimeID, seatIDs, &uid, now))
		})
	}
	if typ := eventType(b.Status); typ != "" {
		s.bookings.AfterCommit(ctx, func() { s.publishBookingEvent(ctx, typ, &snapshot, seatLabels, now) })
	}
	return true, nil
}

func eventType(st model.BookingStatus) string {
	switch st {
	case model.BookingConfirmed:
		return queue.BookingConfirmed
	case model.BookingCancelled:
		return queue.BookingCancelled
	case model.BookingRefunded:
		return queue.BookingRefunded
	}
	return ""
}

func (s *BookingService) publishBookingEvent(ctx context.Context, typ string, b *model.Booking, seatLabels []string, at time.Time) {
	if s.events == nil {
		return
	}
	ev := queue.BookingEvent{
		Type:        typ,
		BookingID:   b.ID,
		Reference:   b.Reference,
		UserID:      b.UserID,
		ShowtimeID:  b.ShowtimeID,
		Status:      string(b.Status),
		SeatLabels:  seatLabels,
		TotalAmount: b.TotalAmount.StringFixed(2),
		Currency:    s.settings.String(config.KeyCurrency),
		Reason:      b.CancelReason,
		OccurredAt:  at.UTC().Format(time.RFC3339),
	}
	if b.Status == model.BookingRefunded {
		ev.RefundAmount = b.RefundAmount.StringFixed(2)
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.PublishBookingEvent(pubCtx, ev); err != nil {
		s.log.Warn("publish booking event failed",
			zap.Uint64("booking_id", b.ID), zap.String("type", typ), zap.Error(err))
	}
}

func newReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "BK" + strings.ToUpper(id[:8])
}

func labels(b *model.Booking) []string {
	out := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		out = append(out, s.SeatLabel)
	}
	return out
}

func hours(n int) time.Duration { return time.Duration(n) * time.Hour }

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toSet(ids []uint64) map[uint64]bool {
	set := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
