// Package seatlock owns seat holds: granting them all-or-nothing, releasing
// them, promoting them into bookings and expiring them. It is the only
// component that decides whether a seat is claimable right now.
package seatlock

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/validation"
)

var tracer = otel.Tracer("seatlock")

type Manager struct {
	store    HoldStore
	settings *config.Settings
	clock    clock.Clock
	pub      broadcast.Publisher
	keys     keyLocks
	log      *zap.Logger
}

func NewManager(st HoldStore, s *config.Settings, clk clock.Clock, pub broadcast.Publisher, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: st, settings: s, clock: clk, pub: pub, log: log}
}

// Guard serializes every hold change on seatIDs, plus the seats userID
// currently holds on the showtime, with other hold changes on the same
// seats, up to and including publication of their seat events. It must be
// taken before a store transaction is opened and released once that
// transaction has committed. Manager calls made with the returned context
// reuse the guard and only touch the seats it covers; when ctx already
// carries a guard for the showtime it is returned unchanged.
func (m *Manager) Guard(ctx context.Context, showtimeID, userID uint64, seatIDs []uint64) (context.Context, func(), error) {
	if guardFrom(ctx, showtimeID) != nil {
		return ctx, func() {}, nil
	}
	active, err := m.store.ActiveHolds(ctx, showtimeID)
	if err != nil {
		return ctx, func() {}, errs.Wrapf(err, "load holds for showtime %d", showtimeID)
	}
	seats := append([]uint64(nil), seatIDs...)
	for _, h := range active {
		if h.UserID == userID {
			seats = append(seats, h.SeatID)
		}
	}
	ctx, unlock := m.keys.lockSeats(ctx, showtimeID, uniqueSorted(seats))
	return ctx, unlock, nil
}

// AcquireHolds grants userID a hold on every seat in seatIDs, or on none of
// them. The user's previous holds for the showtime are dropped first. All
// holds of one call share a hold token and expire together after the
// configured lock duration. A seat that is booked, or held by someone else
// with a live hold, fails the whole call with a seat-conflict failure.
func (m *Manager) AcquireHolds(ctx context.Context, showtimeID uint64, seatIDs []uint64, userID uint64) ([]model.SeatHold, error) {
	ctx, span := tracer.Start(ctx, "seatlock.AcquireHolds")
	defer span.End()
	span.SetAttributes(attribute.Int64("showtime.id", int64(showtimeID)), attribute.Int("seats", len(seatIDs)))

	seatIDs = uniqueSorted(seatIDs)
	if len(seatIDs) == 0 {
		return nil, &validation.Failure{Check: validation.CheckSeats, Message: "no seats selected"}
	}
	if limit := m.settings.Int(config.KeyMaxSeatsPerBooking); len(seatIDs) > limit {
		return nil, &validation.Failure{Check: validation.CheckSeats, Message: "too many seats requested"}
	}

	ctx, unlock, err := m.Guard(ctx, showtimeID, userID, seatIDs)
	if err != nil {
		return nil, err
	}
	defer unlock()
	g := guardFrom(ctx, showtimeID)
	if !g.coversAll(seatIDs) {
		return nil, errs.Newf("seat guard on showtime %d does not cover the requested seats", showtimeID)
	}

	now := m.clock.Now()
	expires := now.Add(m.settings.LockDuration())
	token := uuid.NewString()
	requested := toSet(seatIDs)

	var created []model.SeatHold
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		booked, err := m.store.BookedSeatIDs(ctx, showtimeID)
		if err != nil {
			return errs.Wrap(err, "load booked seats")
		}
		active, err := m.store.ActiveHolds(ctx, showtimeID)
		if err != nil {
			return errs.Wrap(err, "load active holds")
		}

		var conflicts, stale, superseded []uint64
		for _, id := range booked {
			if requested[id] {
				conflicts = append(conflicts, id)
			}
		}
		for _, h := range active {
			switch {
			case h.UserID == userID:
				if !requested[h.SeatID] && h.LiveAt(now) {
					if !g.covers(h.SeatID) {
						// taken after the guard; left to its own request
						continue
					}
					superseded = append(superseded, h.SeatID)
				}
				stale = append(stale, h.ID)
			case !requested[h.SeatID]:
			case h.LiveAt(now):
				conflicts = append(conflicts, h.SeatID)
			default:
				// expired but not yet swept: reclaim it
				stale = append(stale, h.ID)
			}
		}
		if len(conflicts) > 0 {
			return conflict(conflicts)
		}
		if len(stale) > 0 {
			if _, err := m.store.DeactivateHolds(ctx, stale, nil); err != nil {
				return errs.Wrap(err, "deactivate previous holds")
			}
		}

		holds := make([]model.SeatHold, 0, len(seatIDs))
		for _, id := range seatIDs {
			holds = append(holds, model.SeatHold{
				ShowtimeID: showtimeID, SeatID: id, UserID: userID, HoldToken: token,
				Active: true, CreatedAt: now, ExpiresAt: expires,
			})
		}
		created, err = m.store.InsertHolds(ctx, holds)
		if err != nil {
			return err
		}

		uid := userID
		m.store.AfterCommit(ctx, func() {
			if len(superseded) > 0 {
				m.pub.Publish(broadcast.NewEvent(broadcast.Released, showtimeID, superseded, &uid, now))
			}
			m.pub.Publish(broadcast.NewEvent(broadcast.Locked, showtimeID, seatIDs, &uid, now))
		})
		return nil
	})
	if err != nil {
		if errs.Is(err, ErrSeatUnavailable) {
			if _, ok := validation.AsFailure(err); !ok {
				err = conflict(seatIDs)
			}
			m.log.Info("seat hold denied",
				zap.Uint64("showtime_id", showtimeID), zap.Uint64("user_id", userID), zap.Error(err))
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire holds failed")
		return nil, errs.Wrapf(err, "acquire holds on showtime %d", showtimeID)
	}

	m.log.Info("seats held",
		zap.Uint64("showtime_id", showtimeID), zap.Uint64("user_id", userID),
		zap.Int("seats", len(created)), zap.Time("expires_at", expires))
	return created, nil
}

// ReleaseHolds drops the caller's own active holds on seatIDs and returns
// the seats actually released. Nothing is published when none matched.
func (m *Manager) ReleaseHolds(ctx context.Context, showtimeID uint64, seatIDs []uint64, userID uint64) ([]uint64, error) {
	wanted := toSet(seatIDs)
	return m.release(ctx, showtimeID, userID, broadcast.Released, func(h model.SeatHold) bool {
		return wanted[h.SeatID]
	})
}

// ReleaseHoldsForUserShowtime drops every active hold userID has on the
// showtime and announces the seats as BOOKED. It is used when holds are
// promoted into a confirmed booking.
func (m *Manager) ReleaseHoldsForUserShowtime(ctx context.Context, showtimeID, userID uint64) ([]uint64, error) {
	return m.release(ctx, showtimeID, userID, broadcast.Booked, func(model.SeatHold) bool { return true })
}

// ReleaseHoldGroup drops the active holds created under token, announcing
// them with typ (RELEASED on cancellation, EXPIRED on expiry).
func (m *Manager) ReleaseHoldGroup(ctx context.Context, showtimeID, userID uint64, token string, typ broadcast.EventType) ([]uint64, error) {
	return m.release(ctx, showtimeID, userID, typ, func(h model.SeatHold) bool { return h.HoldToken == token })
}

// PromoteHolds checks that every seat in seatIDs still has a live hold from
// token and then releases the user's holds as BOOKED. It fails with
// ErrHoldLost otherwise. Called inside the confirming transaction so the
// sweeper cannot expire the same holds concurrently; the caller then takes
// the Guard before opening that transaction.
func (m *Manager) PromoteHolds(ctx context.Context, showtimeID, userID uint64, token string, seatIDs []uint64) error {
	ctx, unlock, err := m.Guard(ctx, showtimeID, userID, seatIDs)
	if err != nil {
		return err
	}
	defer unlock()
	now := m.clock.Now()
	return m.store.WithTx(ctx, func(ctx context.Context) error {
		active, err := m.store.ActiveHolds(ctx, showtimeID)
		if err != nil {
			return errs.Wrap(err, "load active holds")
		}
		live := make(map[uint64]bool)
		for _, h := range active {
			if h.UserID == userID && h.HoldToken == token && h.LiveAt(now) {
				live[h.SeatID] = true
			}
		}
		for _, id := range seatIDs {
			if !live[id] {
				return errs.Wrapf(ErrHoldLost, "seat %d", id)
			}
		}
		_, err = m.ReleaseHoldsForUserShowtime(ctx, showtimeID, userID)
		return err
	})
}

func (m *Manager) release(ctx context.Context, showtimeID, userID uint64, typ broadcast.EventType, match func(model.SeatHold) bool) ([]uint64, error) {
	ctx, unlock, err := m.Guard(ctx, showtimeID, userID, nil)
	if err != nil {
		return nil, err
	}
	defer unlock()
	g := guardFrom(ctx, showtimeID)

	var released []uint64
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		active, err := m.store.ActiveHolds(ctx, showtimeID)
		if err != nil {
			return errs.Wrap(err, "load active holds")
		}
		var ids []uint64
		for _, h := range active {
			if h.UserID == userID && g.covers(h.SeatID) && match(h) {
				ids = append(ids, h.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		changed, err := m.store.DeactivateHolds(ctx, ids, nil)
		if err != nil {
			return errs.Wrap(err, "deactivate holds")
		}
		for _, h := range changed {
			released = append(released, h.SeatID)
		}
		released = uniqueSorted(released)
		if len(released) == 0 {
			return nil
		}
		now, uid, seats := m.clock.Now(), userID, released
		m.store.AfterCommit(ctx, func() {
			m.pub.Publish(broadcast.NewEvent(typ, showtimeID, seats, &uid, now))
		})
		return nil
	})
	if err != nil {
		return nil, errs.Wrapf(err, "release holds on showtime %d", showtimeID)
	}
	if len(released) > 0 {
		m.log.Info("seat holds released",
			zap.Uint64("showtime_id", showtimeID), zap.Uint64("user_id", userID),
			zap.String("event", string(typ)), zap.Int("seats", len(released)))
	}
	return released, nil
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Expired   int // holds deactivated
	Showtimes int // EXPIRED events published
	Failed    int // showtime groups that could not be processed
}

// SweepExpired deactivates up to limit holds whose expiry is at or before
// now and publishes one EXPIRED event per showtime. A failing showtime
// group is logged and skipped; the rest of the sweep continues.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "seatlock.SweepExpired")
	defer span.End()

	var res SweepResult
	candidates, err := m.store.ExpiredHolds(ctx, now, limit)
	if err != nil {
		span.RecordError(err)
		return res, errs.Wrap(err, "list expired holds")
	}
	groups := make(map[uint64][]model.SeatHold)
	var order []uint64
	for _, h := range candidates {
		if _, ok := groups[h.ShowtimeID]; !ok {
			order = append(order, h.ShowtimeID)
		}
		groups[h.ShowtimeID] = append(groups[h.ShowtimeID], h)
	}

	for _, showtimeID := range order {
		seats, err := m.sweepGroup(ctx, showtimeID, groups[showtimeID], now)
		if err != nil {
			res.Failed++
			m.log.Error("expire holds failed", zap.Uint64("showtime_id", showtimeID), zap.Error(err))
			continue
		}
		if len(seats) > 0 {
			res.Expired += len(seats)
			res.Showtimes++
		}
	}
	span.SetAttributes(attribute.Int("holds.expired", res.Expired))
	return res, nil
}

// sweepGroup expires one showtime's candidates under the guard of their
// seats, so the EXPIRED event goes out before any later hold on them.
func (m *Manager) sweepGroup(ctx context.Context, showtimeID uint64, holds []model.SeatHold, now time.Time) ([]uint64, error) {
	ids := make([]uint64, 0, len(holds))
	guarded := make([]uint64, 0, len(holds))
	for _, h := range holds {
		ids = append(ids, h.ID)
		guarded = append(guarded, h.SeatID)
	}
	ctx, unlock := m.keys.lockSeats(ctx, showtimeID, uniqueSorted(guarded))
	defer unlock()

	var seats []uint64
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		changed, err := m.store.DeactivateHolds(ctx, ids, &now)
		if err != nil {
			return err
		}
		for _, h := range changed {
			seats = append(seats, h.SeatID)
		}
		seats = uniqueSorted(seats)
		if len(seats) == 0 {
			return nil
		}
		expired := seats
		m.store.AfterCommit(ctx, func() {
			m.pub.Publish(broadcast.NewEvent(broadcast.Expired, showtimeID, expired, nil, now))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seats, nil
}

// LockedSeatIDs returns seats with a live hold at now.
func (m *Manager) LockedSeatIDs(ctx context.Context, showtimeID uint64, now time.Time) ([]uint64, error) {
	holders, err := m.Holders(ctx, showtimeID, now)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(holders))
	for id := range holders {
		ids = append(ids, id)
	}
	return uniqueSorted(ids), nil
}

// Holders maps each seat with a live hold at now to the holding user.
func (m *Manager) Holders(ctx context.Context, showtimeID uint64, now time.Time) (map[uint64]uint64, error) {
	live, err := m.LiveHolds(ctx, showtimeID, now)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]uint64, len(live))
	for _, h := range live {
		out[h.SeatID] = h.UserID
	}
	return out, nil
}

// LiveHolds returns the showtime's holds that still block seats at now.
func (m *Manager) LiveHolds(ctx context.Context, showtimeID uint64, now time.Time) ([]model.SeatHold, error) {
	active, err := m.store.ActiveHolds(ctx, showtimeID)
	if err != nil {
		return nil, errs.Wrapf(err, "load holds for showtime %d", showtimeID)
	}
	live := active[:0:0]
	for _, h := range active {
		if h.LiveAt(now) {
			live = append(live, h)
		}
	}
	return live, nil
}

// BookedSeatIDs returns the seats claimed by confirmed bookings.
func (m *Manager) BookedSeatIDs(ctx context.Context, showtimeID uint64) ([]uint64, error) {
	ids, err := m.store.BookedSeatIDs(ctx, showtimeID)
	if err != nil {
		return nil, errs.Wrapf(err, "load booked seats for showtime %d", showtimeID)
	}
	return uniqueSorted(ids), nil
}

func toSet(ids []uint64) map[uint64]bool {
	set := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func uniqueSorted(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
