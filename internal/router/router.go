// Package router maps HTTP routes onto the handlers.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-engine/internal/handler"
)

// RegisterRoutes registers the unauthenticated endpoints: health checks
// and the public seat map, price and live stream of a showtime.
func RegisterRoutes(e *echo.Echo, seats *handler.SeatMapHandler, status echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if status != nil {
		e.GET("/statusz", status)
	}

	g := e.Group("/v1/showtimes/:id/seats")
	g.GET("", seats.SeatMap)
	g.GET("/stream", seats.Stream)
	g.GET("/:seatId/price", seats.Price)
}
