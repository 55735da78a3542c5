package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revenue-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

type ClientRepository struct {
	db *sql.DB
}

func NewClientRepository(db *sql.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Get(ctx context.Context, id string) (*domain.Client, error) {
	return r.getOne(ctx, `SELECT id, partner_category, custom_discount_percent, referral_count
		FROM clients WHERE id = $1`, id)
}

func (r *ClientRepository) GetForUpdate(ctx context.Context, id string) (*domain.Client, error) {
	return r.getOne(ctx, `SELECT id, partner_category, custom_discount_percent, referral_count
		FROM clients WHERE id = $1 FOR UPDATE`, id)
}

func (r *ClientRepository) getOne(ctx context.Context, query, id string) (*domain.Client, error) {
	var (
		c        domain.Client
		discount decimal.NullDecimal
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.PartnerCategory,
		&discount,
		&c.ReferralCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}
	if discount.Valid {
		v := discount.Decimal
		c.CustomDiscountPercent = &v
	}
	return &c, nil
}

func (r *ClientRepository) SavePartnerState(ctx context.Context, c *domain.Client) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE clients SET partner_category = $1, referral_count = $2 WHERE id = $3`,
		c.PartnerCategory, c.ReferralCount, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update client %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update client %s: %w", c.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("client %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ClientRepository) CreateReferral(ctx context.Context, ref *domain.Referral) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO referrals (id, referrer_client_id, referred_client_id, referring_department_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ref.ID, ref.ReferrerClientID, ref.ReferredClientID, nullString(ref.ReferringDepartmentID), ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert referral %s: %w", ref.ID, err)
	}
	return nil
}

// CrossDepartmentReferral looks for a referral of clientID that came from a
// department other than departmentID. It returns the referring department.
func (r *ClientRepository) CrossDepartmentReferral(ctx context.Context, clientID, departmentID string) (string, bool, error) {
	query := `SELECT referring_department_id FROM referrals
		WHERE referred_client_id = $1
		  AND referring_department_id IS NOT NULL
		  AND referring_department_id <> $2
		ORDER BY created_at ASC
		LIMIT 1`

	var dept string
	err := conn(ctx, r.db).QueryRowContext(ctx, query, clientID, departmentID).Scan(&dept)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup referral for client %s: %w", clientID, err)
	}
	return dept, true, nil
}
