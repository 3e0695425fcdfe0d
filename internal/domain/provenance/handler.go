package provenance

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/postpartum/tracker/internal/platform/auth"
	"github.com/postpartum/tracker/internal/platform/fhir"
	"github.com/postpartum/tracker/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the read-only audit trail.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/provenance/", h.List, auth.RequirePatient())
}

// List returns the caller's audit trail, optionally narrowed by
// target=Type/id or target=Type.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	f := Filter{PatientID: auth.PatientIDFromContext(ctx)}

	if target := c.QueryParam("target"); target != "" {
		typ, id := fhir.ParseReference(target)
		if typ == "" {
			typ, id = id, ""
		}
		f.TargetType = typ
		if id != "" {
			parsed, err := uuid.Parse(id)
			if err != nil {
				return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("target", "invalid target id"))
			}
			f.TargetID = parsed
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		if ve, ok := fhir.AsValidationError(err); ok {
			return c.JSON(http.StatusBadRequest, fhir.MultiValidationOutcome(ve))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "list provenance").SetInternal(err)
	}

	resources := make([]map[string]interface{}, len(items))
	for i, p := range items {
		resources[i] = p.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL:  "/provenance/",
		QueryStr: pagination.FilterQuery(c, "target"),
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	}))
}
