package questionnaire

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/domain/provenance"
	"github.com/postpartum/tracker/internal/platform/fhir"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type mockQuestionnaireRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Questionnaire
}

func newMockQuestionnaireRepo() *mockQuestionnaireRepo {
	return &mockQuestionnaireRepo{items: make(map[uuid.UUID]*Questionnaire)}
}

func (m *mockQuestionnaireRepo) Create(_ context.Context, q *Questionnaire) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Identifier == q.Identifier {
			return ErrDuplicateIdentifier
		}
	}
	q.ID = uuid.New()
	q.CreatedAt, q.UpdatedAt = testNow, testNow
	cp := *q
	m.items[q.ID] = &cp
	return nil
}

func (m *mockQuestionnaireRepo) CreateIfAbsent(ctx context.Context, q *Questionnaire) (*Questionnaire, error) {
	m.mu.Lock()
	for _, existing := range m.items {
		if existing.Identifier == q.Identifier {
			cp := *existing
			m.mu.Unlock()
			return &cp, nil
		}
	}
	m.mu.Unlock()
	if err := m.Create(ctx, q); err != nil {
		return nil, err
	}
	cp := *q
	return &cp, nil
}

func (m *mockQuestionnaireRepo) GetByID(_ context.Context, id uuid.UUID) (*Questionnaire, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *mockQuestionnaireRepo) Update(_ context.Context, q *Questionnaire) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[q.ID]; !ok {
		return ErrNotFound
	}
	cp := *q
	m.items[q.ID] = &cp
	return nil
}

func (m *mockQuestionnaireRepo) List(_ context.Context, limit, offset int) ([]*Questionnaire, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Questionnaire
	for _, q := range m.items {
		all = append(all, q)
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockResponseRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Response
}

func newMockResponseRepo() *mockResponseRepo {
	return &mockResponseRepo{items: make(map[uuid.UUID]*Response)}
}

func (m *mockResponseRepo) Create(_ context.Context, r *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt, r.UpdatedAt = testNow, testNow
	cp := *r
	cp.Items = append([]Item(nil), r.Items...)
	m.items[r.ID] = &cp
	return nil
}

func (m *mockResponseRepo) GetByID(_ context.Context, id uuid.UUID) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrResponseNotFound
	}
	cp := *r
	cp.Items = append([]Item(nil), r.Items...)
	return &cp, nil
}

func (m *mockResponseRepo) Update(_ context.Context, r *Response, replaceItems bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[r.ID]
	if !ok {
		return ErrResponseNotFound
	}
	cp := *r
	if replaceItems {
		cp.Items = append([]Item(nil), r.Items...)
	} else {
		cp.Items = existing.Items
	}
	m.items[r.ID] = &cp
	return nil
}

func (m *mockResponseRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrResponseNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockResponseRepo) List(_ context.Context, f ResponseFilter, limit, offset int) ([]*Response, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Response
	for _, r := range m.items {
		if r.PatientID != f.PatientID {
			continue
		}
		if f.QuestionnaireID != uuid.Nil && r.QuestionnaireID != f.QuestionnaireID {
			continue
		}
		matched = append(matched, r)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

type mockRecorder struct {
	entries []provenance.Entry
	fail    bool
}

func (r *mockRecorder) Record(_ context.Context, e provenance.Entry) (*provenance.Provenance, error) {
	if r.fail {
		return nil, errors.New("audit store unavailable")
	}
	r.entries = append(r.entries, e)
	return &provenance.Provenance{ID: uuid.New()}, nil
}

// mockTx undoes response writes when fn fails.
type mockTx struct {
	responses *mockResponseRepo
}

func (t *mockTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.responses.mu.Lock()
	snap := make(map[uuid.UUID]*Response, len(t.responses.items))
	for k, v := range t.responses.items {
		snap[k] = v
	}
	t.responses.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.responses.mu.Lock()
		t.responses.items = snap
		t.responses.mu.Unlock()
		return err
	}
	return nil
}

type fixture struct {
	svc            *Service
	questionnaires *mockQuestionnaireRepo
	responses      *mockResponseRepo
	audit          *mockRecorder
}

func newFixture() *fixture {
	f := &fixture{
		questionnaires: newMockQuestionnaireRepo(),
		responses:      newMockResponseRepo(),
		audit:          &mockRecorder{},
	}
	f.svc = NewService(f.questionnaires, f.responses, &mockTx{responses: f.responses}, f.audit)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) seed(t *testing.T) *Questionnaire {
	t.Helper()
	q, err := f.svc.EnsureDefault(context.Background())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return q
}

func strPtr(s string) *string { return &s }

func TestEnsureDefault_Idempotent(t *testing.T) {
	f := newFixture()
	first := f.seed(t)
	second := f.seed(t)

	if first.ID != second.ID {
		t.Error("expected the same questionnaire on repeated seeding")
	}
	if first.Identifier != "postpartum-wellness-v1" || first.Status != "active" || first.Version != "1.0" {
		t.Errorf("unexpected default questionnaire %+v", first)
	}
	if len(f.questionnaires.items) != 1 {
		t.Errorf("expected 1 questionnaire, got %d", len(f.questionnaires.items))
	}
}

func TestCreateQuestionnaire(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	q, err := f.svc.CreateQuestionnaire(ctx, QuestionnaireInput{Identifier: "sleep-v1", Name: "Sleep"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Status != "draft" || q.Version != "1.0" {
		t.Errorf("unexpected defaults %+v", q)
	}

	_, err = f.svc.CreateQuestionnaire(ctx, QuestionnaireInput{Identifier: "sleep-v1", Name: "Sleep again"})
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Errorf("expected ErrDuplicateIdentifier, got %v", err)
	}

	_, err = f.svc.CreateQuestionnaire(ctx, QuestionnaireInput{Status: "published"})
	ve, ok := fhir.AsValidationError(err)
	if !ok || len(ve.Issues) != 3 {
		t.Errorf("expected identifier, name and status issues, got %v", err)
	}
}

func TestUpdateQuestionnaire(t *testing.T) {
	f := newFixture()
	q := f.seed(t)

	updated, err := f.svc.UpdateQuestionnaire(context.Background(), q.ID, QuestionnaireInput{Status: "retired"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != "retired" || updated.Name != q.Name {
		t.Errorf("unexpected update %+v", updated)
	}
}

func TestCreateResponse(t *testing.T) {
	f := newFixture()
	q := f.seed(t)
	patientID := uuid.New()
	yes := true
	score := int32(3)

	resp, err := f.svc.CreateResponse(context.Background(), patientID, ResponseInput{
		Questionnaire: "Questionnaire/" + q.ID.String(),
		Status:        ResponseCompleted,
		Items: []ItemInput{
			{LinkID: "sleep", Text: "Sleeping well?", AnswerBoolean: &yes},
			{LinkID: "mood", Text: "Mood score", AnswerInteger: &score},
			{LinkID: "comment", Text: "Anything else?"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.PatientID != patientID || resp.QuestionnaireID != q.ID {
		t.Errorf("unexpected ownership %+v", resp)
	}
	if !resp.Authored.Equal(testNow) {
		t.Errorf("expected authored to default to now, got %s", resp.Authored)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(resp.Items))
	}
	if resp.Items[0].Answer != BoolAnswer(true) || resp.Items[1].Answer != IntegerAnswer(3) || resp.Items[2].Answer != nil {
		t.Errorf("unexpected answers %+v", resp.Items)
	}
	if resp.Items[2].Position != 2 {
		t.Errorf("expected positions to follow input order, got %d", resp.Items[2].Position)
	}
	if len(f.audit.entries) != 1 {
		t.Fatalf("expected 1 provenance entry, got %d", len(f.audit.entries))
	}
	e := f.audit.entries[0]
	if e.TargetType != provenance.TargetQuestionnaireResponse || e.TargetID != resp.ID || e.Action != provenance.ActionCreate {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestCreateResponse_UnknownQuestionnaire(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateResponse(context.Background(), uuid.New(), ResponseInput{Questionnaire: uuid.NewString()})
	ve, ok := fhir.AsValidationError(err)
	if !ok || ve.Issues[0].Field != "questionnaire" {
		t.Fatalf("expected questionnaire issue, got %v", err)
	}
	if len(f.responses.items) != 0 || len(f.audit.entries) != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestCreateResponse_AuditFailureRollsBack(t *testing.T) {
	f := newFixture()
	q := f.seed(t)
	f.audit.fail = true

	if _, err := f.svc.CreateResponse(context.Background(), uuid.New(), ResponseInput{Questionnaire: q.ID.String()}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.responses.items) != 0 {
		t.Error("response must not survive a failed provenance write")
	}
}

func TestUpdateResponse_ItemsReplacedOnlyWhenGiven(t *testing.T) {
	f := newFixture()
	q := f.seed(t)
	patientID := uuid.New()
	ctx := context.Background()

	resp, _ := f.svc.CreateResponse(ctx, patientID, ResponseInput{
		Questionnaire: q.ID.String(),
		Items:         []ItemInput{{LinkID: "a", AnswerString: strPtr("first")}},
	})

	updated, err := f.svc.UpdateResponse(ctx, patientID, resp.ID, ResponseInput{Status: ResponseAmended})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != ResponseAmended || len(updated.Items) != 1 {
		t.Errorf("expected items kept, got %+v", updated)
	}

	_, err = f.svc.UpdateResponse(ctx, patientID, resp.ID, ResponseInput{
		Items: []ItemInput{{LinkID: "b", AnswerString: strPtr("second")}, {LinkID: "c"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := f.responses.GetByID(ctx, resp.ID)
	if len(stored.Items) != 2 || stored.Items[0].LinkID != "b" {
		t.Errorf("expected items replaced, got %+v", stored.Items)
	}
	if len(f.audit.entries) != 3 {
		t.Errorf("expected 3 provenance entries, got %d", len(f.audit.entries))
	}
}

func TestUpdateResponse_OtherPatient(t *testing.T) {
	f := newFixture()
	q := f.seed(t)
	ctx := context.Background()
	resp, _ := f.svc.CreateResponse(ctx, uuid.New(), ResponseInput{Questionnaire: q.ID.String()})

	_, err := f.svc.UpdateResponse(ctx, uuid.New(), resp.ID, ResponseInput{Status: ResponseStopped})
	if !errors.Is(err, ErrResponseNotFound) {
		t.Errorf("expected ErrResponseNotFound, got %v", err)
	}
}

func TestDeleteResponse(t *testing.T) {
	f := newFixture()
	q := f.seed(t)
	patientID := uuid.New()
	ctx := context.Background()
	resp, _ := f.svc.CreateResponse(ctx, patientID, ResponseInput{Questionnaire: q.ID.String()})

	if err := f.svc.DeleteResponse(ctx, patientID, resp.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.responses.items) != 0 {
		t.Error("expected response deleted")
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != provenance.ActionDelete || last.Reason != provenance.ReasonDeleted {
		t.Errorf("unexpected entry %+v", last)
	}
}

func TestTranslateResponse_AnswerRules(t *testing.T) {
	yes := true
	dec := 2.5
	tests := []struct {
		name  string
		item  ItemInput
		field string
	}{
		{"two answers", ItemInput{LinkID: "x", AnswerBoolean: &yes, AnswerDecimal: &dec}, "items[0].answer"},
		{"missing link id", ItemInput{AnswerBoolean: &yes}, "items[0].link_id"},
		{"bad date", ItemInput{LinkID: "x", AnswerDate: strPtr("01/02/2024")}, "items[0].answer"},
		{"bad datetime", ItemInput{LinkID: "x", AnswerDateTime: strPtr("noon")}, "items[0].answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TranslateResponse(ResponseInput{Questionnaire: uuid.NewString(), Items: []ItemInput{tt.item}}, testNow, true)
			ve, ok := fhir.AsValidationError(err)
			if !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Issues[0].Field != tt.field {
				t.Errorf("expected issue on %s, got %+v", tt.field, ve.Issues)
			}
		})
	}
}

func TestTranslateResponse_Validation(t *testing.T) {
	_, err := TranslateResponse(ResponseInput{Status: "done", Authored: testNow.Add(time.Hour).Format(time.RFC3339)}, testNow, true)
	ve, ok := fhir.AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, is := range ve.Issues {
		fields[is.Field] = true
	}
	for _, want := range []string{"questionnaire", "status", "authored"} {
		if !fields[want] {
			t.Errorf("expected issue on %s, got %+v", want, ve.Issues)
		}
	}
}

func TestDecodeResponseInput_Resource(t *testing.T) {
	qid := uuid.NewString()
	in, err := DecodeResponseInput([]byte(`{
		"resourceType": "QuestionnaireResponse",
		"questionnaire": {"reference": "Questionnaire/` + qid + `"},
		"status": "completed",
		"item": [
			{"linkId": "mood", "text": "Mood", "answer": [{"valueDecimal": 7.5}]},
			{"linkId": "visit", "answer": [{"valueDate": "2024-05-30"}]},
			{"linkId": "skipped", "answer": []}
		]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := TranslateResponse(in, testNow, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.QuestionnaireID.String() != qid {
		t.Errorf("unexpected questionnaire %s", d.QuestionnaireID)
	}
	if d.Items[0].Answer != DecimalAnswer(7.5) {
		t.Errorf("unexpected first answer %#v", d.Items[0].Answer)
	}
	if da, ok := d.Items[1].Answer.(DateAnswer); !ok || da.Date.Format(DateLayout) != "2024-05-30" {
		t.Errorf("unexpected date answer %#v", d.Items[1].Answer)
	}
	if d.Items[2].Answer != nil {
		t.Errorf("expected unanswered item, got %#v", d.Items[2].Answer)
	}
}

func TestDecodeResponseInput_CanonicalAndMultipleAnswers(t *testing.T) {
	qid := uuid.NewString()
	in, err := DecodeResponseInput([]byte(`{
		"resourceType": "QuestionnaireResponse",
		"questionnaire": "Questionnaire/` + qid + `",
		"item": [{"linkId": "x", "answer": [{"valueString": "a"}, {"valueString": "b"}]}]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Questionnaire != "Questionnaire/"+qid {
		t.Errorf("unexpected questionnaire %s", in.Questionnaire)
	}
	_, err = TranslateResponse(in, testNow, true)
	if _, ok := fhir.AsValidationError(err); !ok {
		t.Errorf("expected multiple answers to be rejected, got %v", err)
	}
}

func TestAnswerColumns_RoundTrip(t *testing.T) {
	day := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	answers := []Answer{
		BoolAnswer(false),
		DecimalAnswer(1.25),
		IntegerAnswer(-4),
		StringAnswer("fine"),
		DateAnswer{Date: day},
		DateTimeAnswer{At: testNow},
		nil,
	}
	for _, a := range answers {
		if got := toColumns(a).answer(); got != a {
			t.Errorf("round trip changed %#v into %#v", a, got)
		}
	}
}

func TestResponse_ToFHIR(t *testing.T) {
	r := &Response{
		ID:              uuid.New(),
		QuestionnaireID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		PatientID:       uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Status:          ResponseCompleted,
		Authored:        testNow,
		Items: []Item{
			{LinkID: "a", Text: "A", Answer: StringAnswer("yes")},
			{LinkID: "b", Text: "B"},
		},
	}
	res := r.ToFHIR()
	if res["questionnaire"].(fhir.Reference).Reference != "Questionnaire/11111111-1111-1111-1111-111111111111" {
		t.Errorf("unexpected questionnaire %v", res["questionnaire"])
	}
	items := res["item"].([]map[string]interface{})
	first := items[0]["answer"].([]map[string]interface{})
	if first[0]["valueString"] != "yes" {
		t.Errorf("unexpected answer %v", first)
	}
	if len(items[1]["answer"].([]map[string]interface{})) != 0 {
		t.Error("expected empty answer list for unanswered item")
	}
	if res["authored"] != "2024-06-01T12:00:00Z" {
		t.Errorf("unexpected authored %v", res["authored"])
	}
}

func TestTranslateResponse_RoundsDecimalAnswers(t *testing.T) {
	in, err := DecodeResponseInput([]byte(`{
		"resourceType": "QuestionnaireResponse",
		"questionnaire": {"reference": "Questionnaire/` + uuid.NewString() + `"},
		"status": "completed",
		"item": [{"linkId": "sleep", "answer": [{"valueDecimal": 6.125}]}]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := TranslateResponse(in, testNow, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Items[0].Answer != DecimalAnswer(6.13) {
		t.Errorf("expected answer rounded to 6.13, got %#v", d.Items[0].Answer)
	}
}
