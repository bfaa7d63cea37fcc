package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
)

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems to verify that the service is running.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Status reports the expiry sweeper and broadcast counters for operators.
func Status(sw *seatlock.Sweeper, hub *broadcast.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		out := echo.Map{}
		if sw != nil {
			out["sweeper"] = sw.GetStats()
		}
		if hub != nil {
			st := hub.Stats()
			out["broadcast"] = echo.Map{
				"subscribers": hub.Subscribers(),
				"published":   st.Published,
				"delivered":   st.Delivered,
				"failed":      st.Failed,
			}
		}
		return c.JSON(http.StatusOK, out)
	}
}
