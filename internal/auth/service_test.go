package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/shared"
)

type memoryRepo struct {
	tokens map[string]Token
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tokens: map[string]Token{}}
}

func (r *memoryRepo) Create(ctx context.Context, t Token) error {
	r.tokens[t.ID] = t
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (Token, error) {
	t, ok := r.tokens[id]
	if !ok {
		return Token{}, shared.NewNotFound("token")
	}
	return t, nil
}

func (r *memoryRepo) ListByUser(ctx context.Context, userID int64) ([]Token, error) {
	var out []Token
	for _, t := range r.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) Revoke(ctx context.Context, id string) (bool, error) {
	t, ok := r.tokens[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	r.tokens[id] = t
	return true, nil
}

func (r *memoryRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	t, ok := r.tokens[id]
	if !ok {
		return shared.NewNotFound("token")
	}
	t.LastUsedAt = at
	r.tokens[id] = t
	return nil
}

type knownUsers []int64

func (k knownUsers) Exists(ctx context.Context, id int64) (bool, error) {
	for _, known := range k {
		if id == known {
			return true, nil
		}
	}
	return false, nil
}

func newTestService(repo *memoryRepo, userIDs ...int64) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, knownUsers(userIDs), logger)
}

func TestIssueAuthenticateRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, 42)

	issued, credential, err := svc.Issue(context.Background(), 42, "ci")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(credential, "sntk_"+issued.ID+"_"))

	token, err := svc.Authenticate(context.Background(), credential)
	require.NoError(t, err)
	require.Equal(t, issued.ID, token.ID)
	require.Equal(t, int64(42), token.UserID)
	require.False(t, repo.tokens[token.ID].LastUsedAt.IsZero())
}

func TestIssueUnknownUser(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, 42)

	_, _, err := svc.Issue(context.Background(), 7, "ci")
	require.True(t, shared.IsNotFound(err))
}

func TestAuthenticateRevokedToken(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, 42)

	issued, credential, err := svc.Issue(context.Background(), 42, "ci")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), issued.ID))

	_, err = svc.Authenticate(context.Background(), credential)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	// second revoke is a no-op
	require.NoError(t, svc.Revoke(context.Background(), issued.ID))
}

func TestAuthenticateMalformedCredential(t *testing.T) {
	svc := newTestService(newMemoryRepo(), 42)

	for _, credential := range []string{
		"",
		"sntk",
		"sntk_not-a-uuid_secret",
		"other_6a1f0a6e-52fd-4e81-9c0c-0f9b0f0f0f0f_secret",
		"sntk_6a1f0a6e-52fd-4e81-9c0c-0f9b0f0f0f0f_",
	} {
		_, err := svc.Authenticate(context.Background(), credential)
		require.ErrorIs(t, err, shared.ErrInvalidCredentials, credential)
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, 42)

	issued, _, err := svc.Issue(context.Background(), 42, "ci")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "sntk_"+issued.ID+"_deadbeef")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
