package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Repository defines data access for the role hierarchy store.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, in CreateInput) (Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	List(ctx context.Context) ([]Role, error)
	NameExists(ctx context.Context, name string) (bool, error)
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
	ChildIDs(ctx context.Context, roleID int64) ([]int64, error)
	ParentIDs(ctx context.Context, roleID int64) ([]int64, error)
	AddChild(ctx context.Context, parentID, childID int64) error
	RemoveChild(ctx context.Context, parentID, childID int64) (bool, error)
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

func (r *repository) Create(ctx context.Context, in CreateInput) (Role, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO roles (name, description, precedence, is_system) VALUES ($1, $2, $3, $4) RETURNING id`,
		in.Name, in.Description, in.Precedence, in.System).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, shared.NewDuplicateName("role", in.Name)
		}
		return Role{}, err
	}
	for _, permID := range in.PermissionIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, permID); err != nil {
			return Role{}, err
		}
	}
	for _, childID := range in.ChildRoleIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO role_children (parent_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, childID); err != nil {
			return Role{}, err
		}
	}
	return r.Get(ctx, id)
}

func (r *repository) Get(ctx context.Context, id int64) (Role, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, description, precedence, is_system, created_at, updated_at FROM roles WHERE id = $1`, id)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Precedence, &role.System, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NewNotFound("role")
		}
		return Role{}, err
	}
	perms, err := r.rolePermissions(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	children, err := r.ChildIDs(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role.ChildIDs = children
	return role, nil
}

// List returns all roles ascending by precedence, highest authority first.
func (r *repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, precedence, is_system, created_at, updated_at FROM roles ORDER BY precedence, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Precedence, &role.System, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		perms, err := r.rolePermissions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Permissions = perms
		children, err := r.ChildIDs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].ChildIDs = children
	}
	return out, nil
}

func (r *repository) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

func (r *repository) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM roles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *repository) ChildIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT child_id FROM role_children WHERE parent_id = $1 ORDER BY child_id`, roleID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *repository) ParentIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT parent_id FROM role_children WHERE child_id = $1 ORDER BY parent_id`, roleID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *repository) AddChild(ctx context.Context, parentID, childID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO role_children (parent_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		parentID, childID)
	return err
}

func (r *repository) RemoveChild(ctx context.Context, parentID, childID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM role_children WHERE parent_id = $1 AND child_id = $2`,
		parentID, childID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) rolePermissions(ctx context.Context, roleID int64) ([]permissions.Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id, p.name, p.description, p.resource_type, p.operation_type, p.requires_approval, p.created_at, p.updated_at
		 FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []permissions.Permission
	for rows.Next() {
		var p permissions.Permission
		var resource, operation string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &resource, &operation, &p.RequiresApproval, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Resource = permissions.ResourceType(resource)
		p.Operation = permissions.OperationType(operation)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
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
