package patient

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/postpartum/tracker/internal/platform/auth"
	"github.com/postpartum/tracker/internal/platform/fhir"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients/", h.List)
	g.POST("/patients/", h.Create)
	g.GET("/patients/:id/", h.Get)
	g.PUT("/patients/:id/", h.Update)
}

// List returns the caller's own profile as a searchset of zero or one.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	resources := []map[string]interface{}{}
	p, err := h.svc.GetForAccount(ctx, auth.AccountIDFromContext(ctx))
	switch {
	case err == nil:
		resources = append(resources, p.ToFHIR())
	case !errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusInternalServerError, "list patients").SetInternal(err)
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL: "/patients/",
		Total:   len(resources),
	}))
}

func (h *Handler) Create(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeInput(body)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	ctx := c.Request().Context()
	p, err := h.svc.Create(ctx, auth.AccountIDFromContext(ctx), in)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	c.Response().Header().Set("Location", "/patients/"+p.ID.String()+"/")
	return c.JSON(http.StatusCreated, p.ToFHIR())
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", c.Param("id")))
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetOwned(ctx, auth.AccountIDFromContext(ctx), id)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, p.ToFHIR())
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", c.Param("id")))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeInput(body)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	ctx := c.Request().Context()
	p, err := h.svc.Update(ctx, auth.AccountIDFromContext(ctx), id, in)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, p.ToFHIR())
}

func (h *Handler) errorResponse(c echo.Context, id string, err error) error {
	if ve, ok := fhir.AsValidationError(err); ok {
		return c.JSON(http.StatusBadRequest, fhir.MultiValidationOutcome(ve))
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", id))
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrDuplicateID):
		return c.JSON(http.StatusConflict, fhir.ConflictOutcome(err.Error()))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "patient request failed").SetInternal(err)
}
