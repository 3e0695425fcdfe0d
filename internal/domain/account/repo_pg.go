package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postpartum/tracker/internal/platform/auth"
	"github.com/postpartum/tracker/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
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

type accountRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &accountRepoPG{pool: pool}
}

const accountCols = `id, username, email, first_name, last_name, password_hash, last_login_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.FirstName, &a.LastName,
		&a.PasswordHash, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *accountRepoPG) GetByID(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *accountRepoPG) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return scanAccount(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE username = $1`, username))
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO account (username, email, first_name, last_name, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		a.Username, a.Email, a.FirstName, a.LastName, a.PasswordHash,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *accountRepoPG) CreateIfAbsent(ctx context.Context, a *Account) (*Account, bool, error) {
	created, err := scanAccount(connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO account (username, email, first_name, last_name, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
		RETURNING `+accountCols,
		a.Username, a.Email, a.FirstName, a.LastName, a.PasswordHash,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}
	existing, err := r.GetByUsername(ctx, a.Username)
	if err != nil {
		return nil, false, fmt.Errorf("load existing account: %w", err)
	}
	return existing, false, nil
}

func (r *accountRepoPG) SetPassword(ctx context.Context, id int64, hash string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE account SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepoPG) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `UPDATE account SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

// TokenStore persists bearer tokens and resolves them back to principals for
// the auth middleware.
type TokenStore struct {
	pool *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

func (s *TokenStore) GetOrCreate(ctx context.Context, accountID int64, key string) (*Token, error) {
	q := connFor(ctx, s.pool)
	t := &Token{}
	err := q.QueryRow(ctx, `
		INSERT INTO auth_token (key, account_id) VALUES ($1, $2)
		ON CONFLICT (account_id) DO NOTHING
		RETURNING key, account_id, created_at`, key, accountID,
	).Scan(&t.Key, &t.AccountID, &t.CreatedAt)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	err = q.QueryRow(ctx, `SELECT key, account_id, created_at FROM auth_token WHERE account_id = $1`, accountID).
		Scan(&t.Key, &t.AccountID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load existing token: %w", err)
	}
	return t, nil
}

func (s *TokenStore) ResolveToken(ctx context.Context, key string) (*auth.Principal, error) {
	var (
		p         auth.Principal
		patientID string
	)
	err := connFor(ctx, s.pool).QueryRow(ctx, `
		SELECT a.id, a.username, a.email, COALESCE(p.id::text, '')
		FROM auth_token t
		JOIN account a ON a.id = t.account_id
		LEFT JOIN patient p ON p.account_id = a.id
		WHERE t.key = $1`, key,
	).Scan(&p.AccountID, &p.Username, &p.Email, &patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrUnknownToken
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if patientID != "" {
		if p.PatientID, err = uuid.Parse(patientID); err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
	}
	return &p, nil
}
