// Package lifecycle is the booking state machine. Every status change of a
// booking goes through Machine.Apply, which looks up (status, event) in a
// fixed transition table and runs the transition's side effect before
// moving the booking to its new status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

type Event string

const (
	Lock    Event = "lock"
	Confirm Event = "confirm"
	Cancel  Event = "cancel"
	Refund  Event = "refund"
	Expire  Event = "expire"
)

// Events lists every event, in table order.
var Events = []Event{Lock, Confirm, Cancel, Refund, Expire}

// Statuses lists every booking status.
var Statuses = []model.BookingStatus{
	model.BookingIntent, model.BookingHeld, model.BookingConfirmed, model.BookingCancelled, model.BookingRefunded,
}

// ErrIllegalTransition marks an event that is not valid for the booking's
// current status. It indicates a bug or a lost race, never bad user input.
var ErrIllegalTransition = errors.New("illegal state transition")

// Effects are the storage operations a transition may need. They run in
// the same transaction that persists the new status.
type Effects interface {
	// AdjustAvailableSeats adds delta to the showtime's available-seat count.
	AdjustAvailableSeats(ctx context.Context, showtimeID uint64, delta int) error
	// PromoteHolds deactivates the booking's seat holds, failing with
	// seatlock.ErrHoldLost if any of them is no longer live.
	PromoteHolds(ctx context.Context, b *model.Booking) error
	// ReleaseHolds deactivates whatever live holds the booking's user has
	// on the booking's seats.
	ReleaseHolds(ctx context.Context, b *model.Booking) error
	// RemoveSeatClaims deletes the booking's seat rows.
	RemoveSeatClaims(ctx context.Context, b *model.Booking) error
}

// SideEffect runs while a transition is applied.
type SideEffect func(ctx context.Context, fx Effects, b *model.Booking) error

type Transition struct {
	From   model.BookingStatus
	Event  Event
	To     model.BookingStatus
	Effect SideEffect
}

type key struct {
	from  model.BookingStatus
	event Event
}

var table = map[key]Transition{}

// noops are (status, event) pairs whose outcome already holds.
var noops = map[key]string{
	{model.BookingHeld, Lock}:         "seats already held",
	{model.BookingConfirmed, Confirm}: "already confirmed",
	{model.BookingCancelled, Cancel}:  "already cancelled",
	{model.BookingCancelled, Expire}:  "cancelled bookings do not expire",
	{model.BookingConfirmed, Expire}:  "confirmed bookings do not expire",
	{model.BookingRefunded, Refund}:   "already refunded",
}

func add(from model.BookingStatus, ev Event, to model.BookingStatus, fx SideEffect) {
	table[key{from, ev}] = Transition{From: from, Event: ev, To: to, Effect: fx}
}

func init() {
	add(model.BookingIntent, Lock, model.BookingHeld, nil)
	add(model.BookingHeld, Confirm, model.BookingConfirmed, confirmSeats)
	add(model.BookingIntent, Cancel, model.BookingCancelled, releaseUnpaid)
	add(model.BookingHeld, Cancel, model.BookingCancelled, releaseUnpaid)
	add(model.BookingConfirmed, Cancel, model.BookingCancelled, returnSeats)
	add(model.BookingCancelled, Refund, model.BookingRefunded, nil)
	add(model.BookingIntent, Expire, model.BookingCancelled, releaseUnpaid)
	add(model.BookingHeld, Expire, model.BookingCancelled, releaseUnpaid)
}

func confirmSeats(ctx context.Context, fx Effects, b *model.Booking) error {
	if err := fx.PromoteHolds(ctx, b); err != nil {
		return err
	}
	return fx.AdjustAvailableSeats(ctx, b.ShowtimeID, -len(b.Seats))
}

func releaseUnpaid(ctx context.Context, fx Effects, b *model.Booking) error {
	if err := fx.ReleaseHolds(ctx, b); err != nil {
		return err
	}
	return fx.RemoveSeatClaims(ctx, b)
}

func returnSeats(ctx context.Context, fx Effects, b *model.Booking) error {
	if err := fx.AdjustAvailableSeats(ctx, b.ShowtimeID, len(b.Seats)); err != nil {
		return err
	}
	return fx.RemoveSeatClaims(ctx, b)
}

// Lookup returns the transition for (from, ev). noop is true when the event
// is already satisfied; err wraps ErrIllegalTransition when the pair is
// not allowed at all.
func Lookup(from model.BookingStatus, ev Event) (t Transition, noop bool, err error) {
	if t, ok := table[key{from, ev}]; ok {
		return t, false, nil
	}
	if _, ok := noops[key{from, ev}]; ok {
		return Transition{From: from, Event: ev, To: from}, true, nil
	}
	return Transition{}, false, errs.Mark(errs.Newf("%s from %s", ev, from), ErrIllegalTransition)
}

type Machine struct {
	log *zap.Logger
}

func NewMachine(log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{log: log}
}

// Apply fires ev on b. It returns applied=false for a no-op. On success
// b.Status and the matching timestamp are updated in place; persisting b is
// the caller's job and must happen in the same transaction as fx.
func (m *Machine) Apply(ctx context.Context, fx Effects, b *model.Booking, ev Event, now time.Time) (applied bool, err error) {
	ctx, span := otel.Tracer("lifecycle").Start(ctx, "booking."+string(ev))
	defer span.End()
	span.SetAttributes(attribute.Int64("booking.id", int64(b.ID)), attribute.String("booking.status", string(b.Status)))

	t, noop, err := Lookup(b.Status, ev)
	if err != nil {
		m.log.Error("illegal booking transition",
			zap.Uint64("booking_id", b.ID), zap.String("status", string(b.Status)), zap.String("event", string(ev)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "illegal transition")
		return false, err
	}
	if noop {
		m.log.Info("booking transition is a no-op",
			zap.Uint64("booking_id", b.ID), zap.String("status", string(b.Status)),
			zap.String("event", string(ev)), zap.String("reason", noops[key{b.Status, ev}]))
		return false, nil
	}
	if t.Effect != nil {
		if err := t.Effect(ctx, fx, b); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "side effect failed")
			return false, errs.Wrap(err, fmt.Sprintf("%s booking %d", ev, b.ID))
		}
	}
	b.Status = t.To
	b.UpdatedAt = now
	switch t.To {
	case model.BookingConfirmed:
		b.ConfirmedAt = &now
	case model.BookingCancelled:
		b.CancelledAt = &now
	case model.BookingRefunded:
		b.RefundedAt = &now
	}
	m.log.Info("booking transition",
		zap.Uint64("booking_id", b.ID), zap.String("from", string(t.From)),
		zap.String("to", string(t.To)), zap.String("event", string(ev)))
	return true, nil
}

// IsIllegal reports whether err came from an illegal transition.
func IsIllegal(err error) bool { return errs.Is(err, ErrIllegalTransition) }
