package questionnaire

import (
	"errors"
	"io"
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

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/questionnaires/", h.ListQuestionnaires)
	g.POST("/questionnaires/", h.CreateQuestionnaire)
	g.GET("/questionnaires/:id/", h.GetQuestionnaire)
	g.PUT("/questionnaires/:id/", h.UpdateQuestionnaire)

	owned := g.Group("", auth.RequirePatient())
	owned.GET("/questionnaires/:id/responses/", h.ListForQuestionnaire)
	owned.GET("/questionnaire-responses/", h.ListResponses)
	owned.POST("/questionnaire-responses/", h.CreateResponse)
	owned.GET("/questionnaire-responses/:id/", h.GetResponse)
	owned.PUT("/questionnaire-responses/:id/", h.UpdateResponse)
	owned.DELETE("/questionnaire-responses/:id/", h.DeleteResponse)
	owned.GET("/patients/:id/questionnaire-responses/", h.ListForPatient)
}

// -- Questionnaire --

func (h *Handler) CreateQuestionnaire(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeQuestionnaireInput(body)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	q, err := h.svc.CreateQuestionnaire(c.Request().Context(), in)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	c.Response().Header().Set("Location", "/questionnaires/"+q.ID.String()+"/")
	return c.JSON(http.StatusCreated, q.ToFHIR())
}

func (h *Handler) GetQuestionnaire(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	}
	q, err := h.svc.GetQuestionnaire(c.Request().Context(), id)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, q.ToFHIR())
}

func (h *Handler) UpdateQuestionnaire(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeQuestionnaireInput(body)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	q, err := h.svc.UpdateQuestionnaire(c.Request().Context(), id, in)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, q.ToFHIR())
}

func (h *Handler) ListQuestionnaires(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQuestionnaires(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list questionnaires").SetInternal(err)
	}
	resources := make([]map[string]interface{}, len(items))
	for i, q := range items {
		resources[i] = q.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL: "/questionnaires/",
		Count:   pg.Limit,
		Offset:  pg.Offset,
		Total:   total,
	}))
}

// -- QuestionnaireResponse --

func (h *Handler) CreateResponse(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeResponseInput(body)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	ctx := c.Request().Context()
	resp, err := h.svc.CreateResponse(ctx, auth.PatientIDFromContext(ctx), in)
	if err != nil {
		return h.errorResponse(c, "", err)
	}
	c.Response().Header().Set("Location", "/questionnaire-responses/"+resp.ID.String()+"/")
	return c.JSON(http.StatusCreated, resp.ToFHIR())
}

func (h *Handler) GetResponse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	ctx := c.Request().Context()
	resp, err := h.svc.GetResponse(ctx, auth.PatientIDFromContext(ctx), id)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, resp.ToFHIR())
}

func (h *Handler) UpdateResponse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeResponseInput(body)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	ctx := c.Request().Context()
	resp, err := h.svc.UpdateResponse(ctx, auth.PatientIDFromContext(ctx), id, in)
	if err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.JSON(http.StatusOK, resp.ToFHIR())
}

func (h *Handler) DeleteResponse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteResponse(ctx, auth.PatientIDFromContext(ctx), id); err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListResponses(c echo.Context) error {
	ctx := c.Request().Context()
	return h.listResponses(c, ResponseFilter{PatientID: auth.PatientIDFromContext(ctx)}, "/questionnaire-responses/")
}

// ListForQuestionnaire lists the caller's own responses to one questionnaire.
func (h *Handler) ListForQuestionnaire(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	}
	ctx := c.Request().Context()
	if _, err := h.svc.GetQuestionnaire(ctx, id); err != nil {
		return h.errorResponse(c, c.Param("id"), err)
	}
	return h.listResponses(c, ResponseFilter{PatientID: auth.PatientIDFromContext(ctx), QuestionnaireID: id},
		"/questionnaires/"+id.String()+"/responses/")
}

func (h *Handler) ListForPatient(c echo.Context) error {
	ctx := c.Request().Context()
	patientID := auth.PatientIDFromContext(ctx)
	if id, err := uuid.Parse(c.Param("id")); err != nil || id != patientID {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", c.Param("id")))
	}
	return h.listResponses(c, ResponseFilter{PatientID: patientID},
		"/patients/"+patientID.String()+"/questionnaire-responses/")
}

func (h *Handler) listResponses(c echo.Context, f ResponseFilter, base string) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResponses(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list questionnaire responses").SetInternal(err)
	}
	resources := make([]map[string]interface{}, len(items))
	for i, r := range items {
		resources[i] = r.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL: base,
		Count:   pg.Limit,
		Offset:  pg.Offset,
		Total:   total,
	}))
}

func (h *Handler) errorResponse(c echo.Context, id string, err error) error {
	if ve, ok := fhir.AsValidationError(err); ok {
		return c.JSON(http.StatusBadRequest, fhir.MultiValidationOutcome(ve))
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", id))
	case errors.Is(err, ErrResponseNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", id))
	case errors.Is(err, ErrDuplicateIdentifier):
		return c.JSON(http.StatusConflict, fhir.ConflictOutcome(err.Error()))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "questionnaire request failed").SetInternal(err)
}
