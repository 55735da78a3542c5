package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"revenue-ledger/internal/domain"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const UserIDKey ctxKey = "userID"

// TokenFinder resolves a plain bearer token. PersonalAccessTokenRepository
// implements it.
type TokenFinder interface {
	FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error)
}

// SanctumMiddleware authenticates operators by personal access token, taken
// from the Authorization header or, for websocket upgrades, the token query
// parameter. The operator id is stored in the request context.
func SanctumMiddleware(tokens TokenFinder, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain := bearerToken(r)
			if plain == "" {
				plain = r.URL.Query().Get("token")
			}
			if plain == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			pat, err := tokens.FindTokenByPlainToken(r.Context(), plain)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					log.WithError(err).Warn("token lookup failed")
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if pat.ExpiresAt != nil && pat.ExpiresAt.Before(time.Now()) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			log.WithFields(logrus.Fields{"user_id": pat.UserID, "token_id": pat.ID}).Debug("authenticated")
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), pat.UserID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, errors.New("userID not found in context")
	}
	return userID, nil
}
