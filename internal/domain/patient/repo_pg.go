package patient

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
}

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, account_id, identifier, active, name_first, name_last, gender, birth_date, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.AccountID, &p.Identifier, &p.Active, &p.NameFirst, &p.NameLast,
		&p.Gender, &p.BirthDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByAccount(ctx context.Context, accountID int64) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE account_id = $1`, accountID))
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, account_id, identifier, active, name_first, name_last, gender, birth_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.AccountID, p.Identifier, p.Active, p.NameFirst, p.NameLast, p.Gender, p.BirthDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == "patient_identifier_key" {
			return ErrDuplicateID
		}
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) CreateIfAbsent(ctx context.Context, p *Patient) (*Patient, bool, error) {
	p.ID = uuid.New()
	created, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, account_id, identifier, active, name_first, name_last, gender, birth_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id) DO NOTHING
		RETURNING `+patientCols,
		p.ID, p.AccountID, p.Identifier, p.Active, p.NameFirst, p.NameLast, p.Gender, p.BirthDate,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		if _, ok := uniqueViolation(err); ok {
			return nil, false, ErrDuplicateID
		}
		return nil, false, fmt.Errorf("insert patient: %w", err)
	}

	// Lost the race or already provisioned: read the winner.
	existing, err := r.GetByAccount(ctx, p.AccountID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing patient: %w", err)
	}
	return existing, false, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET identifier = $2, active = $3, name_first = $4, name_last = $5,
			gender = $6, birth_date = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Identifier, p.Active, p.NameFirst, p.NameLast, p.Gender, p.BirthDate,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if _, ok := uniqueViolation(err); ok {
		return ErrDuplicateID
	}
	return err
}
