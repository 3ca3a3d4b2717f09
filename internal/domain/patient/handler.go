package patient

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
	rest.GET("/patients", h.List)
	rest.GET("/patients/:id", h.Get)
	rest.POST("/patients", h.Create)
	rest.PUT("/patients/:id", h.Update)
	rest.DELETE("/patients/:id", h.Delete)

	fhirRead := fhirGroup.Group("", role)
	fhirRead.GET("/Patient", h.SearchFHIR)
	fhirRead.GET("/Patient/:id", h.GetFHIR)
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
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(statusFor(err), "patient not found")
	}
	return c.JSON(http.StatusOK, p)
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

func (h *Handler) Update(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = c.Param("id")
	if err := h.svc.Update(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetFHIR(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", c.Param("id")))
	}
	return c.JSON(http.StatusOK, p.ToFHIR())
}

func (h *Handler) SearchFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context(), pg.RangeStart(), pg.Limit)
	if err != nil {
		return c.JSON(statusFor(err), fhir.ErrorOutcome(err.Error()))
	}
	entries := make([]map[string]interface{}, 0, len(items))
	for _, p := range items {
		entries = append(entries, map[string]interface{}{"resource": p.ToFHIR()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(entries),
		"entry":        entries,
	})
}
