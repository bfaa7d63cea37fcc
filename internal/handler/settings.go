package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

// SettingsHandler lets administrators read and change the engine's
// runtime tunables. Changes apply to the next request that reads them.
type SettingsHandler struct {
	settings *config.Settings
	log      *zap.Logger
}

func NewSettingsHandler(s *config.Settings, log *zap.Logger) *SettingsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettingsHandler{settings: s, log: log.Named("http")}
}

// List handles GET /v1/admin/settings.
func (h *SettingsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"settings": h.settings.Snapshot()})
}

// Update handles PUT /v1/admin/settings/:key with {"value": "..."}.
func (h *SettingsHandler) Update(c echo.Context) error {
	key := c.Param("key")
	var body struct {
		Value *string `json:"value"`
	}
	if err := c.Bind(&body); err != nil || body.Value == nil {
		return badRequest(c, "value is required")
	}
	if err := h.settings.Set(key, *body.Value); err != nil {
		switch {
		case errs.Is(err, config.ErrUnknownSetting):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown setting"})
		case errs.Is(err, errs.ErrInvalidInput):
			return badRequest(c, err.Error())
		}
		return respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"key": key, "value": h.settings.String(key)})
}
