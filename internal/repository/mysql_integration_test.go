//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/database"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
)

const (
	testPassword = "testpass"
	testDB       = "cinema"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// startMySQL runs a throwaway MySQL container and returns a migrated pool.
func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": testPassword,
			"MYSQL_DATABASE":      testDB,
		},
		Tmpfs: map[string]string{"/var/lib/mysql": "rw,size=512m"},
		WaitingFor: wait.ForSQL("3306/tcp", "mysql", func(host string, port nat.Port) string {
			return fmt.Sprintf("root:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC", testPassword, host, port.Port(), testDB)
		}).WithStartupTimeout(2 * time.Minute),
		Labels: map[string]string{"purpose": "repository-tests"},
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	db, err := database.Open("root", testPassword, host, port.Port(), testDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db))
	// Running it twice must be harmless.
	require.NoError(t, database.Migrate(ctx, db))
	return db
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO users (id, email, role) VALUES (7, 'a@example.com', 'CUSTOMER'), (8, 'b@example.com', 'CUSTOMER')`,
		`INSERT INTO seats (id, screen_id, row_label, seat_number, base_price) VALUES
            (1, 1, 'A', 1, 200.00), (2, 1, 'A', 2, 200.00), (3, 1, 'A', 3, 200.00)`,
		`INSERT INTO showtimes (id, movie_id, screen_id, starts_at, ends_at, base_price, total_seats, available_seats)
            VALUES (1, 1, 1, '2026-05-06 14:00:00', '2026-05-06 16:30:00', 200.00, 3, 3)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestMySQLRepositories(t *testing.T) {
	db := startMySQL(t)
	seed(t, db)
	ctx := context.Background()

	tm := repository.NewTxManager(db)
	holds := repository.NewSeatHoldRepo(tm)
	bookings := repository.NewBookingRepo(tm)
	catalog := repository.NewCatalogRepo(tm)

	t.Run("catalog", func(t *testing.T) {
		st, err := catalog.GetShowtime(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, st.TotalSeats)
		assert.True(t, st.IsActive())

		seats, err := catalog.GetSeatsByIDs(ctx, []uint64{3, 1, 99})
		require.NoError(t, err)
		require.Len(t, seats, 2)
		assert.Equal(t, "A1", seats[0].Label())
		assert.True(t, seats[0].BasePrice.Equal(decimal.NewFromInt(200)))

		_, err = catalog.GetUser(ctx, 404)
		assert.True(t, errs.Is(err, errs.ErrNotFound))
	})

	t.Run("active hold uniqueness", func(t *testing.T) {
		h := model.SeatHold{ShowtimeID: 1, SeatID: 1, UserID: 7, HoldToken: "tok-1", CreatedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}
		got, err := holds.InsertHolds(ctx, []model.SeatHold{h})
		require.NoError(t, err)
		require.Len(t, got, 1)

		h.UserID, h.HoldToken = 8, "tok-2"
		_, err = holds.InsertHolds(ctx, []model.SeatHold{h})
		assert.True(t, errs.Is(err, seatlock.ErrSeatUnavailable))

		// Not expired yet at t0, so the guarded deactivation leaves it alone.
		changed, err := holds.DeactivateHolds(ctx, []uint64{got[0].ID}, &t0)
		require.NoError(t, err)
		assert.Empty(t, changed)

		later := t0.Add(10 * time.Minute)
		expired, err := holds.ExpiredHolds(ctx, later, 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		changed, err = holds.DeactivateHolds(ctx, []uint64{got[0].ID}, &later)
		require.NoError(t, err)
		require.Len(t, changed, 1)
		assert.False(t, changed[0].Active)

		_, err = holds.InsertHolds(ctx, []model.SeatHold{h})
		assert.NoError(t, err)
	})

	t.Run("rollback drops writes and hooks", func(t *testing.T) {
		ran := false
		err := tm.WithTx(ctx, func(ctx context.Context) error {
			tm.AfterCommit(ctx, func() { ran = true })
			if err := bookings.AdjustAvailableSeats(ctx, 1, -1); err != nil {
				return err
			}
			return errs.New("boom")
		})
		require.Error(t, err)
		assert.False(t, ran)
		st, err := catalog.GetShowtime(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, st.AvailableSeats)

		assert.Error(t, bookings.AdjustAvailableSeats(ctx, 1, 1))
		assert.True(t, errs.Is(bookings.AdjustAvailableSeats(ctx, 404, -1), errs.ErrNotFound))
	})

	t.Run("booking round trip", func(t *testing.T) {
		b := &model.Booking{
			Reference: "BK00C0FFEE", UserID: 7, ShowtimeID: 1, Status: model.BookingHeld,
			TicketAmount: decimal.RequireFromString("180.00"), TaxAmount: decimal.RequireFromString("32.40"),
			TotalAmount: decimal.RequireFromString("212.40"), HoldToken: "tok-b",
			ExpiresAt: t0.Add(10 * time.Minute), CreatedAt: t0, UpdatedAt: t0,
			Seats: []model.BookingSeat{{SeatID: 2, SeatLabel: "A2", UnitPrice: decimal.RequireFromString("180.00")}},
		}
		require.NoError(t, bookings.CreateBooking(ctx, b))
		require.NotZero(t, b.ID)

		open, err := bookings.ListOpenBookings(ctx, 7, 1)
		require.NoError(t, err)
		require.Len(t, open, 1)

		confirmed := t0.Add(time.Minute)
		ref := "TXN-1"
		b.Status, b.ConfirmedAt, b.PaymentRef, b.UpdatedAt = model.BookingConfirmed, &confirmed, &ref, confirmed
		b.AddOns = []model.LineItem{{Name: "Popcorn", UnitPrice: decimal.NewFromInt(150), Quantity: 2}}
		require.NoError(t, bookings.SaveBooking(ctx, b))

		got, err := bookings.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BookingConfirmed, got.Status)
		require.NotNil(t, got.PaymentRef)
		assert.Equal(t, "TXN-1", *got.PaymentRef)
		assert.True(t, got.ConfirmedAt.Equal(confirmed))
		require.Len(t, got.Seats, 1)
		assert.True(t, got.Seats[0].UnitPrice.Equal(decimal.RequireFromString("180")))
		require.Len(t, got.AddOns, 1)
		assert.Equal(t, 2, got.AddOns[0].Quantity)

		booked, err := holds.BookedSeatIDs(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2}, booked)

		n, err := bookings.CountActiveBookings(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, bookings.DeleteBookingSeats(ctx, b.ID))
		booked, err = holds.BookedSeatIDs(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, booked)

		_, err = bookings.GetBooking(ctx, 999)
		assert.True(t, errs.Is(err, errs.ErrNotFound))
	})
}

func TestMySQLConcurrentAcquire(t *testing.T) {
	db := startMySQL(t)
	seed(t, db)

	holds := repository.NewSeatHoldRepo(repository.NewTxManager(db))
	hub := broadcast.NewHub(zap.NewNop())
	defer hub.Close()
	m := seatlock.NewManager(holds, config.NewSettings(nil), clock.NewMockClock(t0), hub, zap.NewNop())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []uint64
	)
	for _, user := range []uint64{7, 8} {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(user uint64) {
				defer wg.Done()
				if _, err := m.AcquireHolds(context.Background(), 1, []uint64{3}, user); err == nil {
					mu.Lock()
					wins = append(wins, user)
					mu.Unlock()
				}
			}(user)
		}
	}
	wg.Wait()

	require.NotEmpty(t, wins)
	for _, w := range wins {
		assert.Equal(t, wins[0], w, "only one user may ever hold the seat")
	}
	locked, err := m.LockedSeatIDs(context.Background(), 1, t0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, locked)
}
