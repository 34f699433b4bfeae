package groups

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

// Repository defines data access for the group store.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, in CreateInput) (Group, error)
	Get(ctx context.Context, id int64) (Group, error)
	List(ctx context.Context) ([]Group, error)
	NameExists(ctx context.Context, name string) (bool, error)
	Exists(ctx context.Context, id int64) (bool, error)
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

func (r *repository) Create(ctx context.Context, in CreateInput) (Group, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO groups (name, description) VALUES ($1, $2) RETURNING id`,
		in.Name, in.Description).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Group{}, shared.NewDuplicateName("group", in.Name)
		}
		return Group{}, err
	}
	for _, roleID := range in.RoleIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, roleID); err != nil {
			return Group{}, err
		}
	}
	return r.Get(ctx, id)
}

func (r *repository) Get(ctx context.Context, id int64) (Group, error) {
	var g Group
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, shared.NewNotFound("group")
		}
		return Group{}, err
	}
	roleIDs, err := r.groupRoles(ctx, id)
	if err != nil {
		return Group{}, err
	}
	g.RoleIDs = roleIDs
	return g, nil
}

func (r *repository) List(ctx context.Context) ([]Group, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, description, created_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		roleIDs, err := r.groupRoles(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].RoleIDs = roleIDs
	}
	return out, nil
}

func (r *repository) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) groupRoles(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id FROM group_roles WHERE group_id = $1 ORDER BY role_id`, groupID)
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
