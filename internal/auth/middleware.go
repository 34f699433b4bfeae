package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sentra-iam/sentra/internal/platform/httpx"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Middleware authenticates requests by bearer token and attaches the
// principal to the request context.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate rejects requests without a valid bearer credential.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		token, err := m.Service.Authenticate(r.Context(), credential)
		if err != nil {
			if err != shared.ErrInvalidCredentials && m.Logger != nil {
				m.Logger.Error("token authentication", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{
			UserID:  token.UserID,
			TokenID: token.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return "", false
	}
	credential := strings.TrimSpace(header[len(scheme):])
	return credential, credential != ""
}
