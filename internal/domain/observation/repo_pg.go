package observation

import (
	"context"
	"errors"
	"fmt"
	"strings"

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
}

type observationRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &observationRepoPG{pool: pool}
}

func (r *observationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const obsCols = `id, patient_id, status, category, code, code_display, value_quantity::float8,
	value_unit, effective_date_time, notes, created_at, updated_at`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(&o.ID, &o.PatientID, &o.Status, &o.Category, &o.Code, &o.CodeDisplay, &o.Value,
		&o.Unit, &o.EffectiveDateTime, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *observationRepoPG) Create(ctx context.Context, o *Observation) error {
	o.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO observation (id, patient_id, status, category, code, code_display,
			value_quantity, value_unit, effective_date_time, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.Status, o.Category, o.Code, o.CodeDisplay,
		o.Value, o.Unit, o.EffectiveDateTime, o.Notes,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (r *observationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Observation, error) {
	return scanObservation(r.conn(ctx).QueryRow(ctx, `SELECT `+obsCols+` FROM observation WHERE id = $1`, id))
}

func (r *observationRepoPG) Update(ctx context.Context, o *Observation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE observation SET status = $2, value_quantity = $3, value_unit = $4,
			effective_date_time = $5, notes = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Status, o.Value, o.Unit, o.EffectiveDateTime, o.Notes,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *observationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM observation WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete observation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *observationRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Observation, int, error) {
	where := []string{"patient_id = $1"}
	args := []interface{}{f.PatientID}
	if f.Start != nil {
		args = append(args, *f.Start)
		where = append(where, fmt.Sprintf("effective_date_time >= $%d", len(args)))
	}
	if f.End != nil {
		args = append(args, *f.End)
		where = append(where, fmt.Sprintf("effective_date_time <= $%d", len(args)))
	}
	if f.Code != "" {
		args = append(args, f.Code)
		where = append(where, fmt.Sprintf("code = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM observation WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count observations: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT `+obsCols+` FROM observation WHERE %s ORDER BY effective_date_time DESC, id LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var items []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}
