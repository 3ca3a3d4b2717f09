package encounter

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
	rest.GET("/encounters", h.List)
	rest.GET("/encounters/:id", h.Get)
	rest.POST("/encounters", h.Create)

	fhirRead := fhirGroup.Group("", role)
	fhirRead.GET("/Encounter", h.SearchFHIR)
	fhirRead.GET("/Encounter/:id", h.GetFHIR)
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
	var e Encounter
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &e); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	e, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(statusFor(err), "encounter not found")
	}
	return c.JSON(http.StatusOK, e)
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
	e, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Encounter", c.Param("id")))
	}
	return c.JSON(http.StatusOK, e.ToFHIR())
}

func (h *Handler) SearchFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context(), pg.RangeStart(), pg.Limit)
	if err != nil {
		return c.JSON(statusFor(err), fhir.ErrorOutcome(err.Error()))
	}
	entries := make([]map[string]interface{}, 0, len(items))
	for _, e := range items {
		entries = append(entries, map[string]interface{}{"resource": e.ToFHIR()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(entries),
		"entry":        entries,
	})
}
