package medication

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vaxrec/vaxrec/internal/platform/auth"
	"github.com/vaxrec/vaxrec/internal/platform/fhir"
	"github.com/vaxrec/vaxrec/internal/platform/store"
	"github.com/vaxrec/vaxrec/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	role := auth.RequireRole("admin", "clinician", "nurse")

	rest := api.Group("", role)
	rest.GET("/medications", h.List)
	rest.GET("/medications/:id", h.Get)
	rest.POST("/medications", h.Create)

	fhirRead := fhirGroup.Group("", role)
	fhirRead.GET("/Medication", h.SearchFHIR)
	fhirRead.GET("/Medication/:id", h.GetFHIR)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) Create(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &m); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Get(c echo.Context) error {
	m, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(statusFor(err), "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context(), pg.RangeStart(), pg.Limit)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	lastID := ""
	if len(items) > 0 {
		lastID = items[len(items)-1].ID
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, pg.Limit, lastID, len(items) == pg.Limit))
}

func (h *Handler) GetFHIR(c echo.Context) error {
	m, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Medication", c.Param("id")))
	}
	return c.JSON(http.StatusOK, m.ToFHIR())
}

func (h *Handler) SearchFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context(), pg.RangeStart(), pg.Limit)
	if err != nil {
		return c.JSON(statusFor(err), fhir.ErrorOutcome(err.Error()))
	}
	entries := make([]map[string]interface{}, 0, len(items))
	for _, m := range items {
		entries = append(entries, map[string]interface{}{"resource": m.ToFHIR()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(entries),
		"entry":        entries,
	})
}
