package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"revenue-ledger/internal/domain"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type stubTokens map[string]*domain.PersonalAccessToken

func (s stubTokens) FindTokenByPlainToken(_ context.Context, plain string) (*domain.PersonalAccessToken, error) {
	pat, ok := s[plain]
	if !ok {
		return nil, fmt.Errorf("token: %w", domain.ErrNotFound)
	}
	return pat, nil
}

func TestSanctumMiddleware(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	tokens := stubTokens{
		"1|good":    {ID: 1, UserID: 42},
		"2|expired": {ID: 2, UserID: 43, ExpiresAt: &past},
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	var seen int64
	h := SanctumMiddleware(tokens, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		user   int64
	}{
		{"header", "Bearer 1|good", "", http.StatusNoContent, 42},
		{"query param", "", "?token=1|good", http.StatusNoContent, 42},
		{"missing", "", "", http.StatusUnauthorized, 0},
		{"unknown", "Bearer nope", "", http.StatusUnauthorized, 0},
		{"expired", "Bearer 2|expired", "", http.StatusUnauthorized, 0},
		{"wrong scheme", "Basic 1|good", "", http.StatusUnauthorized, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/ledger/summary"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
		})
	}
}

func TestGetUserIDMissing(t *testing.T) {
	_, err := GetUserID(context.Background())
	assert.Error(t, err)

	id, err := GetUserID(WithUserID(context.Background(), 9))
	assert.NoError(t, err)
	assert.Equal(t, int64(9), id)
}
