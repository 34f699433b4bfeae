package features

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Repository defines data access for the feature catalog.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, in Input) (Feature, error)
	Update(ctx context.Context, id int64, in Input) (Feature, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (Feature, error)
	GetByCode(ctx context.Context, code string) (Feature, error)
	List(ctx context.Context) ([]Feature, error)
	ChildIDs(ctx context.Context, id int64) ([]int64, error)
	ParentID(ctx context.Context, id int64) (*int64, error)
	RecordAudit(ctx context.Context, e audit.Event) error
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db    dbtx
	pool  *pgxpool.Pool
	audit *audit.Writer
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool, audit: audit.NewWriter(pool)}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, audit: audit.NewWriter(tx)})
	})
}

func (r *repository) RecordAudit(ctx context.Context, e audit.Event) error {
	return r.audit.Record(ctx, e)
}

func (r *repository) Create(ctx context.Context, in Input) (Feature, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO features (code, name, description, active, operations, parent_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		in.Code, in.Name, in.Description, in.Active, in.Operations, in.ParentID).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Feature{}, shared.NewDuplicateName("feature", in.Code)
		}
		return Feature{}, err
	}
	if err := r.replacePermissions(ctx, id, in.PermissionIDs); err != nil {
		return Feature{}, err
	}
	return r.Get(ctx, id)
}

func (r *repository) Update(ctx context.Context, id int64, in Input) (Feature, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE features SET name = $2, description = $3, active = $4, operations = $5, parent_id = $6, updated_at = NOW()
		 WHERE id = $1`,
		id, in.Name, in.Description, in.Active, in.Operations, in.ParentID)
	if err != nil {
		return Feature{}, err
	}
	if tag.RowsAffected() == 0 {
		return Feature{}, shared.NewNotFound("feature")
	}
	if err := r.replacePermissions(ctx, id, in.PermissionIDs); err != nil {
		return Feature{}, err
	}
	return r.Get(ctx, id)
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM feature_permissions WHERE feature_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM features WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("feature")
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (Feature, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

func (r *repository) GetByCode(ctx context.Context, code string) (Feature, error) {
	return r.getBy(ctx, `WHERE code = $1`, code)
}

func (r *repository) getBy(ctx context.Context, where string, arg any) (Feature, error) {
	var f Feature
	err := r.db.QueryRow(ctx,
		`SELECT id, code, name, description, active, operations, parent_id, created_at, updated_at FROM features `+where, arg).
		Scan(&f.ID, &f.Code, &f.Name, &f.Description, &f.Active, &f.Operations, &f.ParentID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feature{}, shared.NewNotFound("feature")
		}
		return Feature{}, err
	}
	permIDs, err := r.featurePermissions(ctx, f.ID)
	if err != nil {
		return Feature{}, err
	}
	f.PermissionIDs = permIDs
	return f, nil
}

func (r *repository) List(ctx context.Context) ([]Feature, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, code, name, description, active, operations, parent_id, created_at, updated_at FROM features ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.Code, &f.Name, &f.Description, &f.Active, &f.Operations, &f.ParentID, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		permIDs, err := r.featurePermissions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].PermissionIDs = permIDs
	}
	return out, nil
}

func (r *repository) ChildIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM features WHERE parent_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var childID int64
		if err := rows.Scan(&childID); err != nil {
			return nil, err
		}
		ids = append(ids, childID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) ParentID(ctx context.Context, id int64) (*int64, error) {
	var parent *int64
	err := r.db.QueryRow(ctx, `SELECT parent_id FROM features WHERE id = $1`, id).Scan(&parent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NewNotFound("feature")
		}
		return nil, err
	}
	return parent, nil
}

func (r *repository) replacePermissions(ctx context.Context, featureID int64, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM feature_permissions WHERE feature_id = $1`, featureID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO feature_permissions (feature_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			featureID, permID); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) featurePermissions(ctx context.Context, featureID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT permission_id FROM feature_permissions WHERE feature_id = $1 ORDER BY permission_id`, featureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
