package workflow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vaxrec/vaxrec/internal/platform/auth"
	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	rest := api.Group("", auth.RequireRole("admin", "clinician", "nurse"))
	rest.POST("/workflow/vaccinations", h.RecordVaccination)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) RecordVaccination(c echo.Context) error {
	var input Input
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.RecordVaccination(c.Request().Context(), input)
	if err != nil {
		// The sequence does not roll back, so any documents written before
		// the failure ride along with the error payload.
		return c.JSON(statusFor(err), map[string]interface{}{
			"error":   err.Error(),
			"partial": result,
		})
	}
	return c.JSON(http.StatusCreated, result)
}
