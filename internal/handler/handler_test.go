package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/pricing"
	"github.com/iliyamo/cinema-booking-engine/internal/router"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
	"github.com/iliyamo/cinema-booking-engine/internal/store/memstore"
	"github.com/iliyamo/cinema-booking-engine/internal/utils"
	"github.com/iliyamo/cinema-booking-engine/internal/validation"
)

const secret = "handler-secret"

var (
	t0     = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	showAt = time.Date(2026, 5, 6, 14, 0, 0, 0, time.UTC)
)

type server struct {
	e        *echo.Echo
	clock    *clock.MockClock
	hub      *broadcast.Hub
	gateway  *service.StaticGateway
	settings *config.Settings
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := memstore.New()
	st.AddShowtime(model.Showtime{
		ID: 1, MovieID: 1, ScreenID: 1, StartsAt: showAt, EndsAt: showAt.Add(2 * time.Hour),
		BasePrice: decimal.NewFromInt(200), TotalSeats: 3, AvailableSeats: 3, Status: model.ShowtimeActive,
	})
	for i := uint32(1); i <= 3; i++ {
		st.AddSeats(model.Seat{
			ID: uint64(i), ScreenID: 1, RowLabel: "A", SeatNumber: i, SeatType: model.SeatTypeStandard,
			BasePrice: decimal.NewFromInt(200), IsAvailable: true,
		})
	}
	st.AddUser(model.User{ID: 7, Role: model.RoleCustomer, IsActive: true})
	st.AddUser(model.User{ID: 8, Role: model.RoleCustomer, IsActive: true})

	clk := clock.NewMockClock(t0)
	settings := config.NewSettings(nil)
	hub := broadcast.NewHub(nil)
	t.Cleanup(hub.Close)
	gw := service.NewStaticGateway(service.PaymentSuccess)
	locks := seatlock.NewManager(st, settings, clk, hub, nil)
	pe := pricing.NewEngine(settings, clk, nil)
	bookings := service.NewBookingService(service.BookingDeps{
		Bookings: st, Catalog: st, Locks: locks, Pricing: pe, Settings: settings,
		Clock: clk, Broadcast: hub, Gateway: gw,
	})
	maps := service.NewSeatMapService(st, locks, pe, settings, clk, nil, nil)

	e := echo.New()
	router.RegisterRoutes(e, handler.NewSeatMapHandler(maps, hub, nil), handler.Status(nil, hub))
	router.RegisterCustomer(e, handler.NewBookingHandler(bookings, nil), secret, nil)
	router.RegisterAdmin(e, handler.NewSettingsHandler(settings, nil), secret)
	return &server{e: e, clock: clk, hub: hub, gateway: gw, settings: settings}
}

func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (s *server) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type bookingJSON struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	HoldToken    string          `json:"hold_token"`
	PaymentRef   *string         `json:"payment_ref"`
	Seats        []struct {
		SeatID uint64 `json:"seat_id"`
		Label  string `json:"label"`
	} `json:"seats"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *server) hold(t *testing.T, userID uint64, seats string) bookingJSON {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/showtimes/1/holds", token(t, userID, model.RoleCustomer), `{"seat_ids":`+seats+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b bookingJSON
	decode(t, rec, &b)
	return b
}

func TestHoldCreatesHeldBooking(t *testing.T) {
	s := newServer(t)
	b := s.hold(t, 7, `[2,1]`)

	assert.Equal(t, "HELD", b.Status)
	assert.NotEmpty(t, b.HoldToken)
	require.Len(t, b.Seats, 2)
	assert.Equal(t, "A1", b.Seats[0].Label)
	assert.Equal(t, "424.80", b.TotalAmount.StringFixed(2))
}

func TestHoldRequestErrors(t *testing.T) {
	s := newServer(t)
	customer := token(t, 7, model.RoleCustomer)

	rec := s.do(t, http.MethodPost, "/v1/showtimes/1/holds", "", `{"seat_ids":[1]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/showtimes/1/holds", token(t, 7, model.RoleAdmin), `{"seat_ids":[1]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/showtimes/1/holds", customer, `{"seat_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/showtimes/abc/holds", customer, `{"seat_ids":[1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHoldConflictReportsFailedCheck(t *testing.T) {
	s := newServer(t)
	s.hold(t, 7, `[1]`)

	rec := s.do(t, http.MethodPost, "/v1/showtimes/1/holds", token(t, 8, model.RoleCustomer), `{"seat_ids":[1,2]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, validation.CheckSeats, body["check"])
	assert.NotEmpty(t, body["error"])

	rec = s.do(t, http.MethodPost, "/v1/showtimes/9/holds", token(t, 8, model.RoleCustomer), `{"seat_ids":[1]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, validation.CheckShowtime, body["check"])
}

func TestReleaseHolds(t *testing.T) {
	s := newServer(t)
	s.hold(t, 7, `[1,2]`)

	rec := s.do(t, http.MethodDelete, "/v1/showtimes/1/holds", token(t, 7, model.RoleCustomer), `{"seat_ids":[2,3]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Released []uint64 `json:"released"`
	}
	decode(t, rec, &body)
	assert.Equal(t, []uint64{2}, body.Released)
}

func TestPayCancelRefund(t *testing.T) {
	s := newServer(t)
	customer := token(t, 7, model.RoleCustomer)
	b := s.hold(t, 7, `[1,2]`)
	base := "/v1/bookings/" + jsonID(b.ID)

	rec := s.do(t, http.MethodPost, base+"/pay", customer, `{"method":"UPI"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid struct {
		Booking bookingJSON           `json:"booking"`
		Payment service.PaymentResult `json:"payment"`
	}
	decode(t, rec, &paid)
	assert.Equal(t, "CONFIRMED", paid.Booking.Status)
	assert.Empty(t, paid.Booking.HoldToken)
	require.NotNil(t, paid.Booking.PaymentRef)
	assert.Equal(t, *paid.Booking.PaymentRef, paid.Payment.TransactionID)
	assert.Equal(t, "UPI", s.gateway.Calls()[0].Method)

	rec = s.do(t, http.MethodPost, base+"/pay", customer, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/cancel", customer, `{"reason":"plans changed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled bookingJSON
	decode(t, rec, &cancelled)
	assert.Equal(t, "CANCELLED", cancelled.Status)

	rec = s.do(t, http.MethodPost, base+"/refund", customer, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refunded bookingJSON
	decode(t, rec, &refunded)
	assert.Equal(t, "REFUNDED", refunded.Status)
	assert.Equal(t, "424.80", refunded.RefundAmount.StringFixed(2))

	// refunding again is a no-op
	rec = s.do(t, http.MethodPost, base+"/refund", customer, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var again bookingJSON
	decode(t, rec, &again)
	assert.Equal(t, "REFUNDED", again.Status)
	assert.Equal(t, "424.80", again.RefundAmount.StringFixed(2))

	rec = s.do(t, http.MethodPost, base+"/cancel", customer, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "booking cannot be updated")
}

func TestPendingPaymentAnswersAccepted(t *testing.T) {
	s := newServer(t)
	s.gateway.SetStatus(service.PaymentPending)
	b := s.hold(t, 7, `[1]`)

	rec := s.do(t, http.MethodPost, "/v1/bookings/"+jsonID(b.ID)+"/pay", token(t, 7, model.RoleCustomer), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPayAfterHoldExpiryIsGone(t *testing.T) {
	s := newServer(t)
	b := s.hold(t, 7, `[1]`)
	s.clock.Add(11 * time.Minute)

	rec := s.do(t, http.MethodPost, "/v1/bookings/"+jsonID(b.ID)+"/pay", token(t, 7, model.RoleCustomer), "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestBookingsAreScopedToOwner(t *testing.T) {
	s := newServer(t)
	b := s.hold(t, 7, `[1]`)

	rec := s.do(t, http.MethodGet, "/v1/bookings/"+jsonID(b.ID), token(t, 8, model.RoleCustomer), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/bookings/"+jsonID(b.ID), token(t, 7, model.RoleCustomer), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/bookings", token(t, 8, model.RoleCustomer), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Bookings []bookingJSON `json:"bookings"`
	}
	decode(t, rec, &list)
	assert.Empty(t, list.Bookings)
}

func TestAddOns(t *testing.T) {
	s := newServer(t)
	customer := token(t, 7, model.RoleCustomer)
	b := s.hold(t, 7, `[1]`)
	path := "/v1/bookings/" + jsonID(b.ID) + "/add-ons"

	rec := s.do(t, http.MethodPost, path, customer, `{"items":[{"name":"Popcorn","unit_price":"150","quantity":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got bookingJSON
	decode(t, rec, &got)
	// (180 + 300) * 1.18
	assert.Equal(t, "566.40", got.TotalAmount.StringFixed(2))

	rec = s.do(t, http.MethodPost, path, customer, `{"items":[{"name":"","unit_price":"150","quantity":0}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeatMapAndPrice(t *testing.T) {
	s := newServer(t)
	s.hold(t, 7, `[2]`)

	rec := s.do(t, http.MethodGet, "/v1/showtimes/1/seats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m service.SeatMap
	decode(t, rec, &m)
	require.Len(t, m.Seats, 3)
	assert.Equal(t, model.SeatAvailable, m.Seats[0].Status)
	assert.Equal(t, model.SeatLocked, m.Seats[1].Status)

	rec = s.do(t, http.MethodGet, "/v1/showtimes/2/seats", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/showtimes/1/seats/3/price", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var q service.PriceQuote
	decode(t, rec, &q)
	assert.Equal(t, "180.00", q.Price.StringFixed(2))

	rec = s.do(t, http.MethodGet, "/v1/showtimes/1/seats/99/price", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSettings(t *testing.T) {
	s := newServer(t)
	admin := token(t, 1, model.RoleAdmin)

	rec := s.do(t, http.MethodGet, "/v1/admin/settings", token(t, 7, model.RoleCustomer), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/admin/settings", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), config.KeyLockTimeoutMinutes)

	rec = s.do(t, http.MethodPut, "/v1/admin/settings/"+config.KeyLockTimeoutMinutes, admin, `{"value":"15"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15*time.Minute, s.settings.LockDuration())

	rec = s.do(t, http.MethodPut, "/v1/admin/settings/"+config.KeyLockTimeoutMinutes, admin, `{"value":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/admin/settings/no.such.key", admin, `{"value":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndStatus(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/statusz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "broadcast")
}

func TestSeatStream(t *testing.T) {
	s := newServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/showtimes/1/seats/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	user := uint64(7)
	s.hub.Publish(broadcast.NewEvent(broadcast.Locked, 2, []uint64{9}, &user, t0))
	s.hub.Publish(broadcast.NewEvent(broadcast.Locked, 1, []uint64{3}, &user, t0))

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data: ") {
				lines <- strings.TrimPrefix(sc.Text(), "data: ")
				return
			}
		}
	}()

	select {
	case line := <-lines:
		var u broadcast.SeatUpdate
		require.NoError(t, json.Unmarshal([]byte(line), &u))
		assert.Equal(t, uint64(1), u.ShowtimeID, "events of other showtimes are filtered")
		assert.Equal(t, uint64(3), u.SeatID)
		assert.Equal(t, model.SeatLocked, u.Status)
		require.NotNil(t, u.LockedByUserID)
		assert.Equal(t, user, *u.LockedByUserID)
	case <-time.After(3 * time.Second):
		t.Fatal("no seat update received")
	}
}

func jsonID(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
