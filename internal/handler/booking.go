package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
)

// BookingHandler exposes the reservation and booking lifecycle to
// customers. Every route sits behind JWTAuth and RequireRole("CUSTOMER").
type BookingHandler struct {
	svc *service.BookingService
	log *zap.Logger
}

func NewBookingHandler(svc *service.BookingService, log *zap.Logger) *BookingHandler {
	if svc == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{svc: svc, log: log.Named("http")}
}

type seatsRequest struct {
	SeatIDs []uint64 `json:"seat_ids"`
}

type bookingSeatResponse struct {
	SeatID uint64          `json:"seat_id"`
	Label  string          `json:"label"`
	Price  decimal.Decimal `json:"price"`
}

type bookingResponse struct {
	ID           uint64                `json:"id"`
	Reference    string                `json:"reference"`
	ShowtimeID   uint64                `json:"showtime_id"`
	Status       model.BookingStatus   `json:"status"`
	Seats        []bookingSeatResponse `json:"seats"`
	AddOns       []model.LineItem      `json:"add_ons"`
	TicketAmount decimal.Decimal       `json:"ticket_amount"`
	AddOnAmount  decimal.Decimal       `json:"addon_amount"`
	Discount     decimal.Decimal       `json:"discount_amount"`
	TaxAmount    decimal.Decimal       `json:"tax_amount"`
	TotalAmount  decimal.Decimal       `json:"total_amount"`
	RefundAmount decimal.Decimal       `json:"refund_amount"`
	PaymentRef   *string               `json:"payment_ref,omitempty"`
	CancelReason string                `json:"cancel_reason,omitempty"`
	HoldToken    string                `json:"hold_token,omitempty"`
	ExpiresAt    time.Time             `json:"expires_at"`
	ConfirmedAt  *time.Time            `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time            `json:"cancelled_at,omitempty"`
	RefundedAt   *time.Time            `json:"refunded_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	seats := make([]bookingSeatResponse, 0, len(b.Seats))
	for _, s := range b.Seats {
		seats = append(seats, bookingSeatResponse{SeatID: s.SeatID, Label: s.SeatLabel, Price: s.UnitPrice})
	}
	addOns := b.AddOns
	if addOns == nil {
		addOns = []model.LineItem{}
	}
	resp := bookingResponse{
		ID: b.ID, Reference: b.Reference, ShowtimeID: b.ShowtimeID, Status: b.Status,
		Seats: seats, AddOns: addOns,
		TicketAmount: b.TicketAmount, AddOnAmount: b.AddOnAmount, Discount: b.DiscountAmount,
		TaxAmount: b.TaxAmount, TotalAmount: b.TotalAmount, RefundAmount: b.RefundAmount,
		PaymentRef: b.PaymentRef, CancelReason: b.CancelReason,
		ExpiresAt: b.ExpiresAt, ConfirmedAt: b.ConfirmedAt, CancelledAt: b.CancelledAt, RefundedAt: b.RefundedAt,
		CreatedAt: b.CreatedAt,
	}
	// The hold token only matters while the booking waits for payment.
	if b.Status == model.BookingHeld || b.Status == model.BookingIntent {
		resp.HoldToken = b.HoldToken
	}
	return resp
}

// Hold handles POST /v1/showtimes/:id/holds. It locks the requested seats
// and answers 201 with the Held booking, or 409 with the failed check.
func (h *BookingHandler) Hold(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	showtimeID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	var body seatsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	b, err := h.svc.RequestReservation(c.Request().Context(), userID, showtimeID, body.SeatIDs)
	if err != nil {
		return respond(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, toBookingResponse(b))
}

// Release handles DELETE /v1/showtimes/:id/holds. Seats the caller does
// not hold are ignored.
func (h *BookingHandler) Release(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	showtimeID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	var body seatsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	released, err := h.svc.ReleaseHolds(c.Request().Context(), showtimeID, body.SeatIDs, userID)
	if err != nil {
		return respond(c, h.log, err)
	}
	if released == nil {
		released = []uint64{}
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// List handles GET /v1/bookings.
func (h *BookingHandler) List(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	list, err := h.svc.ListBookings(c.Request().Context(), userID)
	if err != nil {
		return respond(c, h.log, err)
	}
	out := make([]bookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBookingResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": out})
}

// Get handles GET /v1/bookings/:id. Bookings of other users are 404.
func (h *BookingHandler) Get(c echo.Context) error {
	return h.withBooking(c, func(userID, bookingID uint64) error {
		b, err := h.svc.GetBooking(c.Request().Context(), bookingID, userID)
		if err != nil {
			return respond(c, h.log, err)
		}
		return c.JSON(http.StatusOK, toBookingResponse(b))
	})
}

// AddOns handles POST /v1/bookings/:id/add-ons with {"items": [...]}. The
// list replaces any earlier one.
func (h *BookingHandler) AddOns(c echo.Context) error {
	return h.withBooking(c, func(userID, bookingID uint64) error {
		var body struct {
			Items []model.LineItem `json:"items"`
		}
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		b, err := h.svc.AttachAddOns(c.Request().Context(), bookingID, userID, body.Items)
		if err != nil {
			return respond(c, h.log, err)
		}
		return c.JSON(http.StatusOK, toBookingResponse(b))
	})
}

// Pay handles POST /v1/bookings/:id/pay with an optional {"method"}. A
// pending payment leaves the booking Held and answers 202.
func (h *BookingHandler) Pay(c echo.Context) error {
	return h.withBooking(c, func(userID, bookingID uint64) error {
		var body struct {
			Method string `json:"method"`
		}
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		method := strings.TrimSpace(body.Method)
		if method == "" {
			method = "CARD"
		}
		b, res, err := h.svc.ProcessPayment(c.Request().Context(), bookingID, userID, method)
		if err != nil {
			return respond(c, h.log, err)
		}
		status := http.StatusOK
		if res.Status == service.PaymentPending {
			status = http.StatusAccepted
		}
		return c.JSON(status, echo.Map{"booking": toBookingResponse(b), "payment": res})
	})
}

// Cancel handles POST /v1/bookings/:id/cancel with an optional {"reason"}.
func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.withBooking(c, func(userID, bookingID uint64) error {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		b, err := h.svc.CancelBooking(c.Request().Context(), bookingID, userID, strings.TrimSpace(body.Reason))
		if err != nil {
			return respond(c, h.log, err)
		}
		return c.JSON(http.StatusOK, toBookingResponse(b))
	})
}

// Refund handles POST /v1/bookings/:id/refund on a cancelled booking.
func (h *BookingHandler) Refund(c echo.Context) error {
	return h.withBooking(c, func(userID, bookingID uint64) error {
		b, err := h.svc.RefundBooking(c.Request().Context(), bookingID, userID)
		if err != nil {
			return respond(c, h.log, err)
		}
		return c.JSON(http.StatusOK, toBookingResponse(b))
	})
}

func (h *BookingHandler) withBooking(c echo.Context, fn func(userID, bookingID uint64) error) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	bookingID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	return fn(userID, bookingID)
}
