package observation

import (
	"errors"
	"io"
	"net/http"
	"time"

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

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/symptoms/", h.Vocabulary)

	owned := g.Group("", auth.RequirePatient())
	owned.GET("/observations/", h.List)
	owned.POST("/observations/", h.Create)
	owned.GET("/observations/:id/", h.Get)
	owned.PUT("/observations/:id/", h.Update)
	owned.DELETE("/observations/:id/", h.Delete)
	owned.GET("/patients/:id/observations/", h.ListForPatient)
	owned.POST("/symptoms/", h.LogSymptoms)
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
	o, err := h.svc.Create(ctx, auth.PatientIDFromContext(ctx), in)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	c.Response().Header().Set("Location", "/observations/"+o.ID.String()+"/")
	return c.JSON(http.StatusCreated, o.ToFHIR())
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
	}
	ctx := c.Request().Context()
	o, err := h.svc.Get(ctx, auth.PatientIDFromContext(ctx), id)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, o.ToFHIR())
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
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
	o, err := h.svc.Update(ctx, auth.PatientIDFromContext(ctx), id, in)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, o.ToFHIR())
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.PatientIDFromContext(ctx), id); err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.NoContent(http.StatusNoContent)
}

// List supports start_date and end_date (RFC 3339 or YYYY-MM-DD, inclusive)
// and code (SNOMED code or symptom key).
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	return h.list(c, auth.PatientIDFromContext(ctx), "/observations/")
}

// ListForPatient serves the sub-list of a patient the caller owns.
func (h *Handler) ListForPatient(c echo.Context) error {
	ctx := c.Request().Context()
	patientID := auth.PatientIDFromContext(ctx)
	if id, err := uuid.Parse(c.Param("id")); err != nil || id != patientID {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", c.Param("id")))
	}
	return h.list(c, patientID, "/patients/"+patientID.String()+"/observations/")
}

func (h *Handler) list(c echo.Context, patientID uuid.UUID, base string) error {
	f, err := parseListFilter(c, patientID)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list observations").SetInternal(err)
	}
	resources := make([]map[string]interface{}, len(items))
	for i, o := range items {
		resources[i] = o.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL:  base,
		QueryStr: pagination.FilterQuery(c, "start_date", "end_date", "code"),
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	}))
}

func parseListFilter(c echo.Context, patientID uuid.UUID) (ListFilter, error) {
	f := ListFilter{PatientID: patientID}
	ve := &fhir.ValidationError{}
	if v := c.QueryParam("start_date"); v != "" {
		if t, ok := parseBound(v, false); ok {
			f.Start = &t
		} else {
			ve.Add("start_date", fhir.IssueTypeValue, "must be RFC 3339 or YYYY-MM-DD")
		}
	}
	if v := c.QueryParam("end_date"); v != "" {
		if t, ok := parseBound(v, true); ok {
			f.End = &t
		} else {
			ve.Add("end_date", fhir.IssueTypeValue, "must be RFC 3339 or YYYY-MM-DD")
		}
	}
	if v := c.QueryParam("code"); v != "" {
		if s, ok := LookupCode(v); ok {
			f.Code = s.Code
		} else {
			ve.Add("code", fhir.IssueTypeCodeInvalid, "not a tracked symptom code")
		}
	}
	return f, ve.OrNil()
}

// parseBound reads a timestamp or a bare date. A bare end date covers the
// whole day.
func parseBound(v string, end bool) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

type symptomRequest struct {
	Symptoms []string `json:"symptoms" validate:"max=50"`
	Severity *float64 `json:"severity" validate:"omitempty,gte=0,lte=10"`
}

// LogSymptoms records one observation per known symptom key.
func (h *Handler) LogSymptoms(c echo.Context) error {
	var req symptomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("body", "request body must be a JSON object"))
	}
	if err := c.Validate(&req); err != nil {
		return h.errorResponse(c, "", err)
	}

	ctx := c.Request().Context()
	res, err := h.svc.LogSymptoms(ctx, auth.PatientIDFromContext(ctx), req.Symptoms, req.Severity)
	if err != nil {
		return h.errorResponse(c, "", err)
	}

	created := make([]map[string]interface{}, len(res.Created))
	for i, o := range res.Created {
		created[i] = o.ToFHIR()
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	code := http.StatusCreated
	if len(created) == 0 {
		code = http.StatusOK
	}
	return c.JSON(code, map[string]interface{}{
		"status":       "success",
		"observations": created,
		"skipped":      skipped,
	})
}

// Vocabulary lists the symptom keys accepted by LogSymptoms.
func (h *Handler) Vocabulary(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"system":   fhir.SystemSNOMED,
		"symptoms": Vocabulary,
	})
}

func (h *Handler) errorResponse(c echo.Context, id string, err error) error {
	if ve, ok := fhir.AsValidationError(err); ok {
		return c.JSON(http.StatusBadRequest, fhir.MultiValidationOutcome(ve))
	}
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", id))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "observation request failed").SetInternal(err)
}
