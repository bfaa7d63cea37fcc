package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
)

// SeatMapHandler serves the public seat availability endpoints.
type SeatMapHandler struct {
	svc       *service.SeatMapService
	hub       *broadcast.Hub
	keepAlive time.Duration
	log       *zap.Logger
}

func NewSeatMapHandler(svc *service.SeatMapService, hub *broadcast.Hub, log *zap.Logger) *SeatMapHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatMapHandler{svc: svc, hub: hub, keepAlive: 20 * time.Second, log: log.Named("http")}
}

// SeatMap handles GET /v1/showtimes/:id/seats.
func (h *SeatMapHandler) SeatMap(c echo.Context) error {
	showtimeID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	m, err := h.svc.GetSeatMap(c.Request().Context(), showtimeID)
	if err != nil {
		return respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, m)
}

// Price handles GET /v1/showtimes/:id/seats/:seatId/price.
func (h *SeatMapHandler) Price(c echo.Context) error {
	showtimeID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	seatID, ok := idParam(c, "seatId")
	if !ok {
		return badRequest(c, "invalid seat id")
	}
	q, err := h.svc.GetPriceBreakdown(c.Request().Context(), showtimeID, seatID)
	if err != nil {
		return respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, q)
}

// Stream handles GET /v1/showtimes/:id/seats/stream. It holds the
// connection open and writes one "seat" Server-Sent Event per changed
// seat of the showtime until the client goes away.
func (h *SeatMapHandler) Stream(c echo.Context) error {
	showtimeID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	ctx := c.Request().Context()

	updates := make(chan broadcast.Event, 16)
	done := make(chan struct{})
	sub := h.hub.Subscribe(fmt.Sprintf("sse:showtime:%d", showtimeID), broadcast.ObserverFunc(
		func(_ context.Context, ev broadcast.Event) error {
			if ev.ShowtimeID != showtimeID {
				return nil
			}
			select {
			case updates <- ev:
			case <-done:
			}
			return nil
		}))
	defer h.hub.Unsubscribe(sub)
	defer close(done)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, ": subscribed to showtime %d\n\n", showtimeID); err != nil {
		return nil
	}
	w.Flush()

	ping := time.NewTicker(h.keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev := <-updates:
			for _, u := range ev.Updates() {
				data, err := json.Marshal(u)
				if err != nil {
					h.log.Error("encode seat update", zap.Error(err))
					continue
				}
				if _, err := fmt.Fprintf(w, "event: seat\ndata: %s\n\n", data); err != nil {
					return nil
				}
			}
			w.Flush()
		}
	}
}
