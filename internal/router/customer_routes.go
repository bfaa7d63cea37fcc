package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// RegisterCustomer registers the reservation and booking endpoints under
// /v1. All of them require a valid JWT with the CUSTOMER role; limiter
// runs after authentication so it can key on the user.
func RegisterCustomer(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer),
	}
	if limiter != nil {
		mw = append(mw, limiter)
	}
	g := e.Group("/v1", mw...)

	g.POST("/showtimes/:id/holds", h.Hold)
	g.DELETE("/showtimes/:id/holds", h.Release)

	g.GET("/bookings", h.List)
	g.GET("/bookings/:id", h.Get)
	g.POST("/bookings/:id/add-ons", h.AddOns)
	g.POST("/bookings/:id/pay", h.Pay)
	g.POST("/bookings/:id/cancel", h.Cancel)
	g.POST("/bookings/:id/refund", h.Refund)
}
