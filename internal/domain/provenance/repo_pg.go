package provenance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postpartum/tracker/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type provenanceRepoPG struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) Repository {
	return &provenanceRepoPG{pool: pool}
}

func (r *provenanceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const provCols = `id, target_type, target_id, patient_id, action, recorded, reason`

func scanProv(row pgx.Row) (*Provenance, error) {
	var p Provenance
	err := row.Scan(&p.ID, &p.TargetType, &p.TargetID, &p.PatientID, &p.Action, &p.Recorded, &p.Reason)
	return &p, err
}

func (r *provenanceRepoPG) Append(ctx context.Context, p *Provenance) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO provenance (id, target_type, target_id, patient_id, action, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING recorded`,
		p.ID, p.TargetType, p.TargetID, p.PatientID, p.Action, p.Reason,
	).Scan(&p.Recorded)
	if err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	return nil
}

func (r *provenanceRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Provenance, int, error) {
	where := []string{"patient_id = $1"}
	args := []interface{}{f.PatientID}
	if f.TargetType != "" {
		args = append(args, f.TargetType)
		where = append(where, fmt.Sprintf("target_type = $%d", len(args)))
	}
	if f.TargetID != uuid.Nil {
		args = append(args, f.TargetID)
		where = append(where, fmt.Sprintf("target_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM provenance WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count provenance: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT `+provCols+` FROM provenance WHERE %s ORDER BY recorded DESC, id LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var items []*Provenance
	for rows.Next() {
		p, err := scanProv(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *provenanceRepoPG) CountForTarget(ctx context.Context, targetType string, targetID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM provenance WHERE target_type = $1 AND target_id = $2`,
		targetType, targetID).Scan(&n)
	return n, err
}
