//go:build integration

package questionnaire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/postpartum/tracker/internal/platform/db/dbtest"
)

func TestQuestionnaireRepoPG_CreateIfAbsentIsIdempotent(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewQuestionnaireRepo(pool)
	ctx := context.Background()

	first, err := repo.CreateIfAbsent(ctx, Default())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := repo.CreateIfAbsent(ctx, Default())
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected one questionnaire, got %s and %s", first.ID, second.ID)
	}
	if got := dbtest.Count(t, pool, "questionnaire"); got != 1 {
		t.Errorf("expected 1 questionnaire row, got %d", got)
	}
}

func TestResponseRepoPG_RoundTripsAnswers(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	q, err := NewQuestionnaireRepo(pool).CreateIfAbsent(ctx, Default())
	if err != nil {
		t.Fatalf("seed questionnaire: %v", err)
	}
	patientID := dbtest.InsertPatient(t, pool, dbtest.InsertAccount(t, pool, "qr@example.com"))

	repo := NewResponseRepo(pool)
	resp := &Response{
		QuestionnaireID: q.ID,
		PatientID:       patientID,
		Status:          "completed",
		Authored:        time.Now().UTC().Truncate(time.Second),
		Items: []Item{
			{Position: 0, LinkID: "sleep", Text: "Hours of sleep", Answer: DecimalAnswer(6.13)},
			{Position: 1, LinkID: "mood-ok", Answer: BoolAnswer(true)},
			{Position: 2, LinkID: "notes"},
		},
	}
	if err := repo.Create(ctx, resp); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got.Items))
	}
	if a, ok := got.Items[0].Answer.(DecimalAnswer); !ok || float64(a) != 6.13 {
		t.Errorf("expected decimal 6.13, got %#v", got.Items[0].Answer)
	}
	if a, ok := got.Items[1].Answer.(BoolAnswer); !ok || !bool(a) {
		t.Errorf("expected boolean true, got %#v", got.Items[1].Answer)
	}
	if got.Items[2].Answer != nil {
		t.Errorf("expected unanswered item, got %#v", got.Items[2].Answer)
	}
}

func TestResponseItemPG_RejectsTwoAnswers(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	q, err := NewQuestionnaireRepo(pool).CreateIfAbsent(ctx, Default())
	if err != nil {
		t.Fatalf("seed questionnaire: %v", err)
	}
	patientID := dbtest.InsertPatient(t, pool, dbtest.InsertAccount(t, pool, "check@example.com"))
	resp := &Response{QuestionnaireID: q.ID, PatientID: patientID, Status: "completed", Authored: time.Now()}
	if err := NewResponseRepo(pool).Create(ctx, resp); err != nil {
		t.Fatalf("create response: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO questionnaire_response_item (id, response_id, position, link_id, answer_boolean, answer_integer)
		VALUES ($1, $2, 0, 'both', TRUE, 3)`, uuid.New(), resp.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("expected check violation, got %v", err)
	}
}
