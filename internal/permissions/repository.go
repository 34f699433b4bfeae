package permissions

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

// Repository defines data access for the permission catalog.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, in CreateInput) (Permission, error)
	Get(ctx context.Context, id int64) (Permission, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	FindByName(ctx context.Context, name string) (Permission, bool, error)
	List(ctx context.Context) ([]Permission, error)
	ListByResource(ctx context.Context, resource ResourceType) ([]Permission, error)
	Update(ctx context.Context, id int64, description string, requiresApproval bool) (Permission, error)
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

const permissionColumns = `id, name, description, resource_type, operation_type, requires_approval, created_at, updated_at`

func (r *repository) Create(ctx context.Context, in CreateInput) (Permission, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO permissions (name, description, resource_type, operation_type, requires_approval)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+permissionColumns,
		in.Name, in.Description, string(in.Resource), string(in.Operation), in.RequiresApproval)
	perm, err := scanPermission(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, shared.NewDuplicateName("permission", in.Name)
		}
		return Permission{}, err
	}
	return perm, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NewNotFound("permission")
		}
		return Permission{}, err
	}
	return perm, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (r *repository) FindByName(ctx context.Context, name string) (Permission, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, false, nil
		}
		return Permission{}, false, err
	}
	return perm, true, nil
}

func (r *repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (r *repository) ListByResource(ctx context.Context, resource ResourceType) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource_type = $1 ORDER BY name`, string(resource))
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (r *repository) Update(ctx context.Context, id int64, description string, requiresApproval bool) (Permission, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE permissions SET description = $2, requires_approval = $3, updated_at = NOW() WHERE id = $1 RETURNING `+permissionColumns,
		id, description, requiresApproval)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NewNotFound("permission")
		}
		return Permission{}, err
	}
	return perm, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var resource, operation string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &resource, &operation, &p.RequiresApproval, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Permission{}, err
	}
	p.Resource = ResourceType(resource)
	p.Operation = OperationType(operation)
	return p, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		var resource, operation string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &resource, &operation, &p.RequiresApproval, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Resource = ResourceType(resource)
		p.Operation = OperationType(operation)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
