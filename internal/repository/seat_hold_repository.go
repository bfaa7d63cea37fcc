package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
)

// SeatHoldRepo provides data access to the seat_holds table. A row is
// active while active_slot is 1; releasing, expiring or promoting a hold
// sets it to NULL, which takes the row out of the
// UNIQUE(showtime_id, seat_id, active_slot) index so at most one active
// hold exists per seat. Rows are never deleted.
type SeatHoldRepo struct {
	*TxManager
}

// NewSeatHoldRepo returns a SeatHoldRepo sharing the transactions of tm.
func NewSeatHoldRepo(tm *TxManager) *SeatHoldRepo { return &SeatHoldRepo{TxManager: tm} }

var _ seatlock.HoldStore = (*SeatHoldRepo)(nil)

const holdColumns = `id, showtime_id, seat_id, user_id, hold_token, active_slot, created_at, expires_at`

// BookedSeatIDs returns the seats claimed by confirmed bookings for the
// showtime, in ascending order.
func (r *SeatHoldRepo) BookedSeatIDs(ctx context.Context, showtimeID uint64) ([]uint64, error) {
	const q = `SELECT bs.seat_id
               FROM booking_seats bs
               JOIN bookings b ON b.id = bs.booking_id
               WHERE bs.showtime_id = ? AND b.status = ?
               ORDER BY bs.seat_id`
	rows, err := r.q(ctx).QueryContext(ctx, q, showtimeID, string(model.BookingConfirmed))
	if err != nil {
		return nil, errs.Wrap(err, "query booked seats")
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(err, "scan booked seat")
		}
		ids = append(ids, id)
	}
	return ids, errs.Wrap(rows.Err(), "iterate booked seats")
}

// ActiveHolds returns the showtime's holds whose active flag is set. Inside
// a transaction the rows are read with FOR UPDATE.
func (r *SeatHoldRepo) ActiveHolds(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error) {
	q := r.forUpdate(ctx, `SELECT `+holdColumns+` FROM seat_holds
               WHERE showtime_id = ? AND active_slot IS NOT NULL
               ORDER BY id`)
	return r.queryHolds(ctx, q, showtimeID)
}

// InsertHolds inserts one row per hold. A duplicate key on the active
// slot index means another transaction holds the seat and is reported as
// seatlock.ErrSeatUnavailable.
func (r *SeatHoldRepo) InsertHolds(ctx context.Context, holds []model.SeatHold) ([]model.SeatHold, error) {
	const q = `INSERT INTO seat_holds (showtime_id, seat_id, user_id, hold_token, active_slot, created_at, expires_at)
               VALUES (?, ?, ?, ?, 1, ?, ?)`
	out := make([]model.SeatHold, 0, len(holds))
	for _, h := range holds {
		res, err := r.q(ctx).ExecContext(ctx, q,
			h.ShowtimeID, h.SeatID, h.UserID, h.HoldToken, h.CreatedAt.UTC(), h.ExpiresAt.UTC())
		if err != nil {
			if isDuplicate(err) {
				return nil, errs.Wrapf(seatlock.ErrSeatUnavailable, "seat %d already held", h.SeatID)
			}
			return nil, errs.Wrapf(err, "insert hold for seat %d", h.SeatID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errs.Wrap(err, "hold id")
		}
		h.ID = uint64(id)
		h.Active = true
		out = append(out, h)
	}
	return out, nil
}

// DeactivateHolds clears active_slot on the listed holds that are still
// active and, when expiredBy is given, expired at that instant. The
// matching rows are selected first so the caller learns exactly which
// holds it changed.
func (r *SeatHoldRepo) DeactivateHolds(ctx context.Context, ids []uint64, expiredBy *time.Time) ([]model.SeatHold, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + holdColumns + ` FROM seat_holds
               WHERE id IN (` + placeholders(len(ids)) + `) AND active_slot IS NOT NULL`
	args := uint64Args(ids)
	if expiredBy != nil {
		q += ` AND expires_at <= ?`
		args = append(args, expiredBy.UTC())
	}
	q = r.forUpdate(ctx, q+` ORDER BY id`)
	matched, err := r.queryHolds(ctx, q, args...)
	if err != nil || len(matched) == 0 {
		return nil, err
	}

	hit := make([]uint64, len(matched))
	for i, h := range matched {
		hit[i] = h.ID
	}
	upd := `UPDATE seat_holds SET active_slot = NULL WHERE id IN (` + placeholders(len(hit)) + `) AND active_slot IS NOT NULL`
	if _, err := r.q(ctx).ExecContext(ctx, upd, uint64Args(hit)...); err != nil {
		return nil, errs.Wrap(err, "deactivate holds")
	}
	for i := range matched {
		matched[i].Active = false
	}
	return matched, nil
}

// ExpiredHolds lists up to limit active holds with expires_at <= now,
// oldest id first. A limit of zero or less means no limit.
func (r *SeatHoldRepo) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.SeatHold, error) {
	q := `SELECT ` + holdColumns + ` FROM seat_holds
               WHERE active_slot IS NOT NULL AND expires_at <= ?
               ORDER BY id`
	args := []interface{}{now.UTC()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryHolds(ctx, q, args...)
}

func (r *SeatHoldRepo) queryHolds(ctx context.Context, q string, args ...interface{}) ([]model.SeatHold, error) {
	rows, err := r.q(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(err, "query holds")
	}
	defer rows.Close()
	var holds []model.SeatHold
	for rows.Next() {
		var (
			h    model.SeatHold
			slot sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.ShowtimeID, &h.SeatID, &h.UserID, &h.HoldToken, &slot, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, errs.Wrap(err, "scan hold")
		}
		h.Active = slot.Valid
		holds = append(holds, h)
	}
	return holds, errs.Wrap(rows.Err(), "iterate holds")
}
