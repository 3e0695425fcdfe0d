package questionnaire

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postpartum/tracker/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -- Questionnaire --

type questionnaireRepoPG struct {
	pool *pgxpool.Pool
}

func NewQuestionnaireRepo(pool *pgxpool.Pool) QuestionnaireRepository {
	return &questionnaireRepoPG{pool: pool}
}

const questionnaireCols = `id, identifier, version, name, title, status, description, created_at, updated_at`

func scanQuestionnaire(row pgx.Row) (*Questionnaire, error) {
	var q Questionnaire
	err := row.Scan(&q.ID, &q.Identifier, &q.Version, &q.Name, &q.Title, &q.Status, &q.Description,
		&q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionnaireRepoPG) Create(ctx context.Context, q *Questionnaire) error {
	q.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO questionnaire (id, identifier, version, name, title, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		q.ID, q.Identifier, q.Version, q.Name, q.Title, q.Status, q.Description,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateIdentifier
	}
	if err != nil {
		return fmt.Errorf("insert questionnaire: %w", err)
	}
	return nil
}

func (r *questionnaireRepoPG) CreateIfAbsent(ctx context.Context, q *Questionnaire) (*Questionnaire, error) {
	conn := connFor(ctx, r.pool)
	created, err := scanQuestionnaire(conn.QueryRow(ctx, `
		INSERT INTO questionnaire (id, identifier, version, name, title, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identifier) DO NOTHING
		RETURNING `+questionnaireCols,
		uuid.New(), q.Identifier, q.Version, q.Name, q.Title, q.Status, q.Description,
	))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("insert questionnaire: %w", err)
	}
	return scanQuestionnaire(conn.QueryRow(ctx,
		`SELECT `+questionnaireCols+` FROM questionnaire WHERE identifier = $1`, q.Identifier))
}

func (r *questionnaireRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Questionnaire, error) {
	return scanQuestionnaire(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+questionnaireCols+` FROM questionnaire WHERE id = $1`, id))
}

func (r *questionnaireRepoPG) Update(ctx context.Context, q *Questionnaire) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE questionnaire SET identifier = $2, version = $3, name = $4, title = $5,
			status = $6, description = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		q.ID, q.Identifier, q.Version, q.Name, q.Title, q.Status, q.Description,
	).Scan(&q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrDuplicateIdentifier
	}
	return err
}

func (r *questionnaireRepoPG) List(ctx context.Context, limit, offset int) ([]*Questionnaire, int, error) {
	conn := connFor(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questionnaires: %w", err)
	}
	rows, err := conn.Query(ctx,
		`SELECT `+questionnaireCols+` FROM questionnaire ORDER BY identifier LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list questionnaires: %w", err)
	}
	defer rows.Close()
	var items []*Questionnaire
	for rows.Next() {
		q, err := scanQuestionnaire(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

// -- QuestionnaireResponse --

type responseRepoPG struct {
	pool *pgxpool.Pool
}

func NewResponseRepo(pool *pgxpool.Pool) ResponseRepository {
	return &responseRepoPG{pool: pool}
}

const responseCols = `id, questionnaire_id, patient_id, status, authored, created_at, updated_at`

const itemCols = `response_id, position, link_id, text, answer_boolean, answer_decimal::float8,
	answer_integer, answer_string, answer_date, answer_datetime`

func scanResponse(row pgx.Row) (*Response, error) {
	var r Response
	err := row.Scan(&r.ID, &r.QuestionnaireID, &r.PatientID, &r.Status, &r.Authored, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *responseRepoPG) insertItems(ctx context.Context, conn queryable, resp *Response) error {
	if len(resp.Items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range resp.Items {
		c := toColumns(it.Answer)
		batch.Queue(`
			INSERT INTO questionnaire_response_item (id, response_id, position, link_id, text,
				answer_boolean, answer_decimal, answer_integer, answer_string, answer_date, answer_datetime)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			uuid.New(), resp.ID, it.Position, it.LinkID, it.Text,
			c.Boolean, c.Decimal, c.Integer, c.String, c.Date, c.DateTime)
	}
	br := conn.SendBatch(ctx, batch)
	defer br.Close()
	for range resp.Items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert response item: %w", err)
		}
	}
	return nil
}

func (r *responseRepoPG) loadItems(ctx context.Context, conn queryable, responses ...*Response) error {
	if len(responses) == 0 {
		return nil
	}
	ids := make([]string, len(responses))
	byID := make(map[uuid.UUID]*Response, len(responses))
	for i, resp := range responses {
		ids[i] = resp.ID.String()
		resp.Items = []Item{}
		byID[resp.ID] = resp
	}
	rows, err := conn.Query(ctx,
		`SELECT `+itemCols+` FROM questionnaire_response_item WHERE response_id = ANY($1::uuid[]) ORDER BY response_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load response items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			responseID uuid.UUID
			it         Item
			c          answerColumns
		)
		if err := rows.Scan(&responseID, &it.Position, &it.LinkID, &it.Text,
			&c.Boolean, &c.Decimal, &c.Integer, &c.String, &c.Date, &c.DateTime); err != nil {
			return err
		}
		it.Answer = c.answer()
		if resp, ok := byID[responseID]; ok {
			resp.Items = append(resp.Items, it)
		}
	}
	return rows.Err()
}

func (r *responseRepoPG) Create(ctx context.Context, resp *Response) error {
	conn := connFor(ctx, r.pool)
	resp.ID = uuid.New()
	err := conn.QueryRow(ctx, `
		INSERT INTO questionnaire_response (id, questionnaire_id, patient_id, status, authored)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		resp.ID, resp.QuestionnaireID, resp.PatientID, resp.Status, resp.Authored,
	).Scan(&resp.CreatedAt, &resp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert questionnaire response: %w", err)
	}
	return r.insertItems(ctx, conn, resp)
}

func (r *responseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Response, error) {
	conn := connFor(ctx, r.pool)
	resp, err := scanResponse(conn.QueryRow(ctx, `SELECT `+responseCols+` FROM questionnaire_response WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, conn, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *responseRepoPG) Update(ctx context.Context, resp *Response, replaceItems bool) error {
	conn := connFor(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE questionnaire_response SET questionnaire_id = $2, status = $3, authored = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		resp.ID, resp.QuestionnaireID, resp.Status, resp.Authored,
	).Scan(&resp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrResponseNotFound
	}
	if err != nil {
		return fmt.Errorf("update questionnaire response: %w", err)
	}
	if !replaceItems {
		return nil
	}
	if _, err := conn.Exec(ctx, `DELETE FROM questionnaire_response_item WHERE response_id = $1`, resp.ID); err != nil {
		return fmt.Errorf("clear response items: %w", err)
	}
	return r.insertItems(ctx, conn, resp)
}

func (r *responseRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM questionnaire_response WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete questionnaire response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResponseNotFound
	}
	return nil
}

func (r *responseRepoPG) List(ctx context.Context, f ResponseFilter, limit, offset int) ([]*Response, int, error) {
	conn := connFor(ctx, r.pool)
	clause := `patient_id = $1 AND ($2::uuid IS NULL OR questionnaire_id = $2)`
	var qid *uuid.UUID
	if f.QuestionnaireID != uuid.Nil {
		qid = &f.QuestionnaireID
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire_response WHERE `+clause, f.PatientID, qid).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questionnaire responses: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+responseCols+` FROM questionnaire_response WHERE `+clause+`
		ORDER BY authored DESC, id LIMIT $3 OFFSET $4`, f.PatientID, qid, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list questionnaire responses: %w", err)
	}
	var items []*Response
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, resp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadItems(ctx, conn, items...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
