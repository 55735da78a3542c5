package repository

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"revenue-ledger/internal/domain"
)

const operatorTokenableType = "operator"

type PersonalAccessTokenRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPersonalAccessTokenRepository(db *sql.DB) *PersonalAccessTokenRepository {
	return &PersonalAccessTokenRepository{db: db, now: time.Now}
}

// HashToken returns the hex sha256 stored in the token column.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// FindTokenByPlainToken resolves a bearer token of the form "<id>|<secret>"
// or a bare secret. Only unexpired operator tokens match.
func (r *PersonalAccessTokenRepository) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, fmt.Errorf("empty token: %w", domain.ErrNotFound)
	}

	secret := plainToken
	var tokenID *int64
	if idx := strings.Index(plainToken, "|"); idx > 0 {
		if id, err := strconv.ParseInt(plainToken[:idx], 10, 64); err == nil {
			tokenID = &id
			secret = plainToken[idx+1:]
		}
	}
	hash := HashToken(secret)

	if tokenID != nil {
		query := `SELECT id, token, tokenable_id, COALESCE(abilities, ''), expires_at
			FROM personal_access_tokens
			WHERE id = $1 AND tokenable_type = $2 AND (expires_at IS NULL OR expires_at > $3)`

		pat, err := scanToken(r.db.QueryRowContext(ctx, query, *tokenID, operatorTokenableType, r.now()))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup token %d: %w", *tokenID, err)
		}
		if err == nil && subtle.ConstantTimeCompare([]byte(pat.TokenHash), []byte(hash)) == 1 {
			return pat, nil
		}
	}

	query := `SELECT id, token, tokenable_id, COALESCE(abilities, ''), expires_at
		FROM personal_access_tokens
		WHERE tokenable_type = $1 AND token = $2 AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC
		LIMIT 1`

	pat, err := scanToken(r.db.QueryRowContext(ctx, query, operatorTokenableType, hash, r.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	return pat, nil
}

func scanToken(row rowScanner) (*domain.PersonalAccessToken, error) {
	var (
		pat     domain.PersonalAccessToken
		expires sql.NullTime
	)
	if err := row.Scan(&pat.ID, &pat.TokenHash, &pat.UserID, &pat.Abilities, &expires); err != nil {
		return nil, err
	}
	pat.ExpiresAt = timePtr(expires)
	return &pat, nil
}
