package syncstatus

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves the sync status endpoint.
type Handler struct {
	monitor *Monitor
}

func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sync/status", h.GetStatus)
}

func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.Snapshot(c.Request().Context()))
}
