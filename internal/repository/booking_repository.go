package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
)

// BookingRepo stores bookings with their booking_seats and booking_addons
// rows, and owns the available_seats counter of showtimes.
type BookingRepo struct {
	*TxManager
}

// NewBookingRepo returns a BookingRepo sharing the transactions of tm.
func NewBookingRepo(tm *TxManager) *BookingRepo { return &BookingRepo{TxManager: tm} }

var _ service.BookingStore = (*BookingRepo)(nil)

const bookingColumns = `id, reference, user_id, showtime_id, status,
       ticket_amount, addon_amount, tax_amount, discount_amount, total_amount, refund_amount,
       payment_ref, cancel_reason, hold_token, expires_at,
       confirmed_at, cancelled_at, refunded_at, created_at, updated_at`

// CreateBooking inserts the booking and its seat rows and fills in the
// generated ids.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *model.Booking) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		const q = `INSERT INTO bookings (reference, user_id, showtime_id, status,
                   ticket_amount, addon_amount, tax_amount, discount_amount, total_amount, refund_amount,
                   payment_ref, cancel_reason, hold_token, expires_at,
                   confirmed_at, cancelled_at, refunded_at, created_at, updated_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := r.q(ctx).ExecContext(ctx, q,
			b.Reference, b.UserID, b.ShowtimeID, string(b.Status),
			b.TicketAmount, b.AddOnAmount, b.TaxAmount, b.DiscountAmount, b.TotalAmount, b.RefundAmount,
			nullString(b.PaymentRef), b.CancelReason, b.HoldToken, b.ExpiresAt.UTC(),
			nullTime(b.ConfirmedAt), nullTime(b.CancelledAt), nullTime(b.RefundedAt),
			b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
		)
		if err != nil {
			return errs.Wrap(err, "insert booking")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errs.Wrap(err, "booking id")
		}
		b.ID = uint64(id)

		const qs = `INSERT INTO booking_seats (booking_id, showtime_id, seat_id, seat_label, unit_price)
                    VALUES (?, ?, ?, ?, ?)`
		for i := range b.Seats {
			bs := &b.Seats[i]
			bs.BookingID = b.ID
			bs.ShowtimeID = b.ShowtimeID
			res, err := r.q(ctx).ExecContext(ctx, qs, bs.BookingID, bs.ShowtimeID, bs.SeatID, bs.SeatLabel, bs.UnitPrice)
			if err != nil {
				return errs.Wrapf(err, "insert booking seat %d", bs.SeatID)
			}
			sid, err := res.LastInsertId()
			if err != nil {
				return errs.Wrap(err, "booking seat id")
			}
			bs.ID = uint64(sid)
		}
		return r.insertAddOns(ctx, b.ID, b.AddOns)
	})
}

// GetBooking loads one booking with seats and add-ons. Inside a
// transaction the booking row stays locked until it ends.
func (r *BookingRepo) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	q := r.forUpdate(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`)
	b, err := scanBooking(r.q(ctx).QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "booking %d", id)
	}
	if err := r.loadChildren(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BookingRepo) ListBookingsByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY id`, userID)
}

// CountActiveBookings counts the user's INTENT, HELD and CONFIRMED bookings.
func (r *BookingRepo) CountActiveBookings(ctx context.Context, userID uint64) (int, error) {
	args := []interface{}{userID}
	for _, st := range model.ActiveBookingStatuses {
		args = append(args, string(st))
	}
	q := `SELECT COUNT(*) FROM bookings WHERE user_id = ? AND status IN (` + placeholders(len(model.ActiveBookingStatuses)) + `)`
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, errs.Wrap(err, "count active bookings")
	}
	return n, nil
}

func (r *BookingRepo) ListOpenBookings(ctx context.Context, userID, showtimeID uint64) ([]model.Booking, error) {
	q := r.forUpdate(ctx, `SELECT `+bookingColumns+` FROM bookings
               WHERE user_id = ? AND showtime_id = ? AND status IN (?, ?)
               ORDER BY id`)
	return r.listBookings(ctx, q, userID, showtimeID, string(model.BookingIntent), string(model.BookingHeld))
}

// ListExpiredHeld returns up to limit INTENT or HELD bookings with
// expires_at <= now. A limit of zero or less means no limit.
func (r *BookingRepo) ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
               WHERE status IN (?, ?) AND expires_at <= ?
               ORDER BY id`
	args := []interface{}{string(model.BookingIntent), string(model.BookingHeld), now.UTC()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.listBookings(ctx, q, args...)
}

// SaveBooking writes the mutable columns of b and replaces its add-on
// rows. Seat rows are left alone.
func (r *BookingRepo) SaveBooking(ctx context.Context, b *model.Booking) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		var exists int
		err := r.q(ctx).QueryRowContext(ctx, r.forUpdate(ctx, `SELECT 1 FROM bookings WHERE id = ?`), b.ID).Scan(&exists)
		if err != nil {
			return notFound(err, "booking %d", b.ID)
		}
		const q = `UPDATE bookings SET status = ?,
                   ticket_amount = ?, addon_amount = ?, tax_amount = ?, discount_amount = ?, total_amount = ?, refund_amount = ?,
                   payment_ref = ?, cancel_reason = ?, expires_at = ?,
                   confirmed_at = ?, cancelled_at = ?, refunded_at = ?, updated_at = ?
                   WHERE id = ?`
		_, err = r.q(ctx).ExecContext(ctx, q, string(b.Status),
			b.TicketAmount, b.AddOnAmount, b.TaxAmount, b.DiscountAmount, b.TotalAmount, b.RefundAmount,
			nullString(b.PaymentRef), b.CancelReason, b.ExpiresAt.UTC(),
			nullTime(b.ConfirmedAt), nullTime(b.CancelledAt), nullTime(b.RefundedAt), b.UpdatedAt.UTC(),
			b.ID,
		)
		if err != nil {
			return errs.Wrapf(err, "update booking %d", b.ID)
		}
		if _, err := r.q(ctx).ExecContext(ctx, `DELETE FROM booking_addons WHERE booking_id = ?`, b.ID); err != nil {
			return errs.Wrap(err, "clear add-ons")
		}
		return r.insertAddOns(ctx, b.ID, b.AddOns)
	})
}

func (r *BookingRepo) DeleteBookingSeats(ctx context.Context, bookingID uint64) error {
	if _, err := r.q(ctx).ExecContext(ctx, `DELETE FROM booking_seats WHERE booking_id = ?`, bookingID); err != nil {
		return errs.Wrapf(err, "delete seats of booking %d", bookingID)
	}
	return nil
}

// AdjustAvailableSeats adds delta to available_seats, refusing to leave
// the range [0, total_seats].
func (r *BookingRepo) AdjustAvailableSeats(ctx context.Context, showtimeID uint64, delta int) error {
	if delta == 0 {
		return nil
	}
	const q = `UPDATE showtimes SET available_seats = available_seats + ?
               WHERE id = ? AND available_seats + ? BETWEEN 0 AND total_seats`
	res, err := r.q(ctx).ExecContext(ctx, q, delta, showtimeID, delta)
	if err != nil {
		return errs.Wrapf(err, "adjust available seats of showtime %d", showtimeID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(err, "rows affected")
	}
	if n == 1 {
		return nil
	}
	var available int
	err = r.q(ctx).QueryRowContext(ctx, `SELECT available_seats FROM showtimes WHERE id = ?`, showtimeID).Scan(&available)
	if err != nil {
		return notFound(err, "showtime %d", showtimeID)
	}
	return errs.Newf("available seats of showtime %d would become %d", showtimeID, available+delta)
}

func (r *BookingRepo) listBookings(ctx context.Context, q string, args ...interface{}) ([]model.Booking, error) {
	rows, err := r.q(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(err, "query bookings")
	}
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, errs.Wrap(err, "scan booking")
		}
		out = append(out, *b)
	}
	if err := rows.Close(); err != nil {
		return nil, errs.Wrap(err, "close bookings")
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, "iterate bookings")
	}
	// Children are loaded after the cursor is closed; a transaction only
	// has one connection.
	for i := range out {
		if err := r.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *BookingRepo) loadChildren(ctx context.Context, b *model.Booking) error {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT id, booking_id, showtime_id, seat_id, seat_label, unit_price
         FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`, b.ID)
	if err != nil {
		return errs.Wrap(err, "query booking seats")
	}
	b.Seats = nil
	for rows.Next() {
		var bs model.BookingSeat
		if err := rows.Scan(&bs.ID, &bs.BookingID, &bs.ShowtimeID, &bs.SeatID, &bs.SeatLabel, &bs.UnitPrice); err != nil {
			rows.Close()
			return errs.Wrap(err, "scan booking seat")
		}
		b.Seats = append(b.Seats, bs)
	}
	if err := rows.Close(); err != nil {
		return errs.Wrap(err, "close booking seats")
	}

	rows, err = r.q(ctx).QueryContext(ctx,
		`SELECT name, unit_price, quantity FROM booking_addons WHERE booking_id = ? ORDER BY id`, b.ID)
	if err != nil {
		return errs.Wrap(err, "query add-ons")
	}
	defer rows.Close()
	b.AddOns = nil
	for rows.Next() {
		var li model.LineItem
		if err := rows.Scan(&li.Name, &li.UnitPrice, &li.Quantity); err != nil {
			return errs.Wrap(err, "scan add-on")
		}
		b.AddOns = append(b.AddOns, li)
	}
	return errs.Wrap(rows.Err(), "iterate add-ons")
}

func (r *BookingRepo) insertAddOns(ctx context.Context, bookingID uint64, items []model.LineItem) error {
	const q = `INSERT INTO booking_addons (booking_id, name, unit_price, quantity) VALUES (?, ?, ?, ?)`
	for _, li := range items {
		if _, err := r.q(ctx).ExecContext(ctx, q, bookingID, li.Name, li.UnitPrice, li.Quantity); err != nil {
			return errs.Wrapf(err, "insert add-on %q", li.Name)
		}
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s rowScanner) (*model.Booking, error) {
	var (
		b                                model.Booking
		status                           string
		paymentRef                       sql.NullString
		confirmedAt, cancelledAt, refund sql.NullTime
	)
	err := s.Scan(&b.ID, &b.Reference, &b.UserID, &b.ShowtimeID, &status,
		&b.TicketAmount, &b.AddOnAmount, &b.TaxAmount, &b.DiscountAmount, &b.TotalAmount, &b.RefundAmount,
		&paymentRef, &b.CancelReason, &b.HoldToken, &b.ExpiresAt,
		&confirmedAt, &cancelledAt, &refund, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	if paymentRef.Valid {
		pr := paymentRef.String
		b.PaymentRef = &pr
	}
	b.ConfirmedAt = timePtr(confirmedAt)
	b.CancelledAt = timePtr(cancelledAt)
	b.RefundedAt = timePtr(refund)
	return &b, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
