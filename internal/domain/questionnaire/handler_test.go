package questionnaire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/postpartum/tracker/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func newRequest(e *echo.Echo, method, target, body string, patientID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{AccountID: 1, PatientID: patientID}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreateQuestionnaire_Resource(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"resourceType":"Questionnaire","identifier":[{"value":"epds-v1"}],"name":"EPDS","title":"Edinburgh Postnatal Depression Scale","status":"active"}`
	c, rec := newRequest(e, http.MethodPost, "/questionnaires/", body, uuid.Nil)
	if err := h.CreateQuestionnaire(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res["resourceType"] != "Questionnaire" || res["status"] != "active" {
		t.Errorf("unexpected body %v", res)
	}
}

func TestHandler_CreateQuestionnaire_Duplicate(t *testing.T) {
	h, f, e := newTestHandler()
	f.seed(t)

	c, rec := newRequest(e, http.MethodPost, "/questionnaires/", `{"identifier":"postpartum-wellness-v1","name":"Copy"}`, uuid.Nil)
	if err := h.CreateQuestionnaire(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_GetQuestionnaire_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	id := uuid.NewString()

	c, rec := newRequest(e, http.MethodGet, "/questionnaires/"+id+"/", "", uuid.Nil)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.GetQuestionnaire(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CreateResponse(t *testing.T) {
	h, f, e := newTestHandler()
	q := f.seed(t)

	body := `{"questionnaire":"` + q.ID.String() + `","status":"completed","items":[{"link_id":"sleep","text":"Sleeping well?","answer_boolean":true}]}`
	c, rec := newRequest(e, http.MethodPost, "/questionnaire-responses/", body, uuid.New())
	if err := h.CreateResponse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"valueBoolean":true`) {
		t.Errorf("expected boolean answer in body, got %s", rec.Body.String())
	}
	if len(f.audit.entries) != 1 {
		t.Errorf("expected 1 provenance entry, got %d", len(f.audit.entries))
	}
}

func TestHandler_CreateResponse_TwoAnswers(t *testing.T) {
	h, f, e := newTestHandler()
	q := f.seed(t)

	body := `{"questionnaire":"` + q.ID.String() + `","items":[{"link_id":"x","answer_boolean":true,"answer_string":"also"}]}`
	c, rec := newRequest(e, http.MethodPost, "/questionnaire-responses/", body, uuid.New())
	if err := h.CreateResponse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"expression":["items[0].answer"]`) {
		t.Errorf("expected item-level issue, got %s", rec.Body.String())
	}
}

func TestHandler_GetResponse_OtherPatient(t *testing.T) {
	h, f, e := newTestHandler()
	q := f.seed(t)
	resp, _ := f.svc.CreateResponse(context.Background(), uuid.New(), ResponseInput{Questionnaire: q.ID.String()})

	c, rec := newRequest(e, http.MethodGet, "/questionnaire-responses/"+resp.ID.String()+"/", "", uuid.New())
	c.SetParamNames("id")
	c.SetParamValues(resp.ID.String())
	if err := h.GetResponse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ListForQuestionnaire_ScopedToCaller(t *testing.T) {
	h, f, e := newTestHandler()
	q := f.seed(t)
	mine := uuid.New()
	ctx := context.Background()
	f.svc.CreateResponse(ctx, mine, ResponseInput{Questionnaire: q.ID.String()})
	f.svc.CreateResponse(ctx, uuid.New(), ResponseInput{Questionnaire: q.ID.String()})

	c, rec := newRequest(e, http.MethodGet, "/questionnaires/"+q.ID.String()+"/responses/", "", mine)
	c.SetParamNames("id")
	c.SetParamValues(q.ID.String())
	if err := h.ListForQuestionnaire(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var bundle map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &bundle)
	if bundle["total"] != float64(1) {
		t.Errorf("expected only the caller's response, got %v", bundle["total"])
	}
}

func TestHandler_DeleteResponse(t *testing.T) {
	h, f, e := newTestHandler()
	q := f.seed(t)
	mine := uuid.New()
	resp, _ := f.svc.CreateResponse(context.Background(), mine, ResponseInput{Questionnaire: q.ID.String()})

	c, rec := newRequest(e, http.MethodDelete, "/questionnaire-responses/"+resp.ID.String()+"/", "", mine)
	c.SetParamNames("id")
	c.SetParamValues(resp.ID.String())
	if err := h.DeleteResponse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ListForPatient_Mismatch(t *testing.T) {
	h, _, e := newTestHandler()
	other := uuid.NewString()

	c, rec := newRequest(e, http.MethodGet, "/patients/"+other+"/questionnaire-responses/", "", uuid.New())
	c.SetParamNames("id")
	c.SetParamValues(other)
	if err := h.ListForPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
