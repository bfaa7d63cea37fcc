package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/lifecycle"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
	"github.com/iliyamo/cinema-booking-engine/internal/validation"
)

// respond translates an engine error into a JSON response:
//
//	*validation.Failure          -> 409 {error, check}
//	errs.ErrNotFound             -> 404
//	seatlock.ErrHoldLost         -> 410
//	illegal transition, conflict -> 409 "booking cannot be updated"
//	errs.ErrInvalidInput         -> 400
//	anything else                -> 500, logged
func respond(c echo.Context, log *zap.Logger, err error) error {
	if f, ok := validation.AsFailure(err); ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": f.Message, "check": f.Check})
	}
	switch {
	case errs.Is(err, errs.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errs.Is(err, seatlock.ErrHoldLost):
		return c.JSON(http.StatusGone, echo.Map{"error": "seat hold expired"})
	case errs.Is(err, lifecycle.ErrIllegalTransition), errs.Is(err, errs.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "booking cannot be updated"})
	case errs.Is(err, errs.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	case errs.Is(err, errs.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method), zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// idParam parses a positive numeric path parameter.
func idParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
