package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/shared"
)

// Repository defines persistence for API tokens.
type Repository interface {
	Create(ctx context.Context, t Token) error
	Get(ctx context.Context, id string) (Token, error)
	ListByUser(ctx context.Context, userID int64) ([]Token, error)
	Revoke(ctx context.Context, id string) (bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db dbtx
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

func (r *repository) Create(ctx context.Context, t Token) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_tokens (id, user_id, name, secret_hash, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.Name, t.SecretHash, t.Revoked, t.CreatedAt)
	return err
}

func (r *repository) Get(ctx context.Context, id string) (Token, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, secret_hash, revoked, created_at, COALESCE(last_used_at, 'epoch'::timestamptz)
		 FROM api_tokens WHERE id = $1`, id)
	var t Token
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.SecretHash, &t.Revoked, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, shared.NewNotFound("token")
		}
		return Token{}, err
	}
	return t, nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64) ([]Token, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, name, secret_hash, revoked, created_at, COALESCE(last_used_at, 'epoch'::timestamptz)
		 FROM api_tokens WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.SecretHash, &t.Revoked, &t.CreatedAt, &t.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) Revoke(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE api_tokens SET revoked = TRUE WHERE id = $1 AND NOT revoked`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}
