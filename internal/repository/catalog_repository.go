package repository

import (
	"context"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
)

// CatalogRepo is the read side of showtimes, seats and users. Those rows
// are provisioned outside the engine.
type CatalogRepo struct {
	*TxManager
}

// NewCatalogRepo returns a CatalogRepo sharing the transactions of tm.
func NewCatalogRepo(tm *TxManager) *CatalogRepo { return &CatalogRepo{TxManager: tm} }

var _ service.Catalog = (*CatalogRepo)(nil)

const seatColumns = `id, screen_id, row_label, seat_number, seat_type, base_price, is_available, created_at`

func (r *CatalogRepo) GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	const q = `SELECT id, movie_id, screen_id, starts_at, ends_at, base_price, total_seats, available_seats, status
               FROM showtimes WHERE id = ?`
	var st model.Showtime
	err := r.q(ctx).QueryRowContext(ctx, q, id).Scan(
		&st.ID, &st.MovieID, &st.ScreenID, &st.StartsAt, &st.EndsAt,
		&st.BasePrice, &st.TotalSeats, &st.AvailableSeats, &st.Status,
	)
	if err != nil {
		return nil, notFound(err, "showtime %d", id)
	}
	return &st, nil
}

func (r *CatalogRepo) GetSeatsByScreen(ctx context.Context, screenID uint64) ([]model.Seat, error) {
	return r.querySeats(ctx, `SELECT `+seatColumns+` FROM seats WHERE screen_id = ? ORDER BY id`, screenID)
}

// GetSeatsByIDs returns the seats that exist among ids; missing ids are
// simply absent from the result.
func (r *CatalogRepo) GetSeatsByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + seatColumns + ` FROM seats WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return r.querySeats(ctx, q, uint64Args(ids)...)
}

func (r *CatalogRepo) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	const q = `SELECT id, email, role, is_active, created_at FROM users WHERE id = ?`
	var u model.User
	if err := r.q(ctx).QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &u, nil
}

func (r *CatalogRepo) querySeats(ctx context.Context, q string, args ...interface{}) ([]model.Seat, error) {
	rows, err := r.q(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(err, "query seats")
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.ScreenID, &s.RowLabel, &s.SeatNumber, &s.SeatType, &s.BasePrice, &s.IsAvailable, &s.CreatedAt); err != nil {
			return nil, errs.Wrap(err, "scan seat")
		}
		seats = append(seats, s)
	}
	return seats, errs.Wrap(rows.Err(), "iterate seats")
}
