package users

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

// Repository defines data access for user policy attachments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, userID int64) (User, error)
	Exists(ctx context.Context, userID int64) (bool, error)
	RoleIDs(ctx context.Context, userID int64) ([]int64, error)
	GroupIDs(ctx context.Context, userID int64) ([]int64, error)
	Overrides(ctx context.Context, userID int64) (map[string]OverrideEffect, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) (bool, error)
	AssignGroup(ctx context.Context, userID, groupID int64) error
	RemoveGroup(ctx context.Context, userID, groupID int64) (bool, error)
	UpsertOverride(ctx context.Context, userID int64, o Override) error
	RemoveOverride(ctx context.Context, userID int64, permissionName string) (bool, error)
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

func (r *repository) Get(ctx context.Context, userID int64) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, `SELECT id, subject, active, created_at FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Subject, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.NewNotFound("user")
		}
		return User{}, err
	}
	return u, nil
}

func (r *repository) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

func (r *repository) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *repository) GroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT group_id FROM user_groups WHERE user_id = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *repository) Overrides(ctx context.Context, userID int64) (map[string]OverrideEffect, error) {
	rows, err := r.db.Query(ctx, `SELECT permission_name, effect FROM user_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]OverrideEffect{}
	for rows.Next() {
		var name, effect string
		if err := rows.Scan(&name, &effect); err != nil {
			return nil, err
		}
		out[name] = OverrideEffect(effect)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

func (r *repository) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) AssignGroup(ctx context.Context, userID, groupID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, groupID)
	return err
}

func (r *repository) RemoveGroup(ctx context.Context, userID, groupID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_groups WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) UpsertOverride(ctx context.Context, userID int64, o Override) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_overrides (user_id, permission_name, effect) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, permission_name) DO UPDATE SET effect = EXCLUDED.effect`,
		userID, o.PermissionName, string(o.Effect))
	return err
}

func (r *repository) RemoveOverride(ctx context.Context, userID int64, permissionName string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_overrides WHERE user_id = $1 AND permission_name = $2`, userID, permissionName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
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
