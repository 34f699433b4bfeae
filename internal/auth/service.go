package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/shared"
)

const tokenPrefix = "sntk"

// UserDirectory confirms that a token owner exists and is active.
type UserDirectory interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Service issues and verifies API tokens.
type Service struct {
	repo   Repository
	users  UserDirectory
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, users UserDirectory, logger *slog.Logger) *Service {
	return &Service{repo: repo, users: users, logger: logger}
}

// Issue creates a token for the user and returns the plaintext
// credential. The plaintext is shown once and never stored.
func (s *Service) Issue(ctx context.Context, userID int64, name string) (Token, string, error) {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return Token{}, "", err
	}
	if !exists {
		return Token{}, "", shared.NewNotFound("user")
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return Token{}, "", fmt.Errorf("generate token secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Token{}, "", fmt.Errorf("hash token secret: %w", err)
	}
	token := Token{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return Token{}, "", err
	}
	plaintext := fmt.Sprintf("%s_%s_%s", tokenPrefix, token.ID, secret)
	return token, plaintext, nil
}

// Authenticate verifies a presented credential and returns the
// matching token record.
func (s *Service) Authenticate(ctx context.Context, credential string) (Token, error) {
	id, secret, ok := splitCredential(credential)
	if !ok {
		return Token{}, shared.ErrInvalidCredentials
	}
	token, err := s.repo.Get(ctx, id)
	if err != nil {
		if shared.IsNotFound(err) {
			return Token{}, shared.ErrInvalidCredentials
		}
		return Token{}, err
	}
	if token.Revoked {
		return Token{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}
	if err := s.repo.TouchLastUsed(ctx, token.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("touch token last used", slog.Any("error", err))
	}
	return token, nil
}

// Revoke disables a token. Revocation is idempotent.
func (s *Service) Revoke(ctx context.Context, id string) error {
	_, err := s.repo.Revoke(ctx, id)
	return err
}

// ListByUser returns every token ever issued to the user.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Token, error) {
	return s.repo.ListByUser(ctx, userID)
}

func splitCredential(credential string) (id, secret string, ok bool) {
	parts := strings.SplitN(credential, "_", 3)
	if len(parts) != 3 || parts[0] != tokenPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", "", false
	}
	return parts[1], parts[2], true
}
