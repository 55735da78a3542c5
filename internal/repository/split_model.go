package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"revenue-ledger/internal/domain"
)

type SplitModelRepository struct {
	db *sql.DB
}

func NewSplitModelRepository(db *sql.DB) *SplitModelRepository {
	return &SplitModelRepository{db: db}
}

func (r *SplitModelRepository) Get(ctx context.Context, category domain.Category) (domain.SplitModel, error) {
	query := `SELECT id, category, shares, updated_at FROM split_models WHERE category = $1`

	m, err := scanSplitModel(conn(ctx, r.db).QueryRowContext(ctx, query, category))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SplitModel{}, fmt.Errorf("split model %q: %w", category, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SplitModel{}, fmt.Errorf("get split model %q: %w", category, err)
	}
	return m, nil
}

// Upsert stores the whole share table as one jsonb value, so readers see
// either the old model or the new one.
func (r *SplitModelRepository) Upsert(ctx context.Context, m domain.SplitModel) (domain.SplitModel, error) {
	shares, err := json.Marshal(m.Shares)
	if err != nil {
		return domain.SplitModel{}, fmt.Errorf("encode shares: %w", err)
	}

	query := `INSERT INTO split_models (id, category, shares, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (category) DO UPDATE
		SET shares = EXCLUDED.shares, updated_at = EXCLUDED.updated_at
		RETURNING id, category, shares, updated_at`

	saved, err := scanSplitModel(conn(ctx, r.db).QueryRowContext(ctx, query, m.ID, m.Category, shares, m.UpdatedAt))
	if err != nil {
		return domain.SplitModel{}, fmt.Errorf("upsert split model %q: %w", m.Category, err)
	}
	return saved, nil
}

func (r *SplitModelRepository) List(ctx context.Context) ([]domain.SplitModel, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, category, shares, updated_at FROM split_models ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list split models: %w", err)
	}
	defer rows.Close()

	var out []domain.SplitModel
	for rows.Next() {
		m, err := scanSplitModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSplitModel(row rowScanner) (domain.SplitModel, error) {
	var (
		m      domain.SplitModel
		shares []byte
	)
	if err := row.Scan(&m.ID, &m.Category, &shares, &m.UpdatedAt); err != nil {
		return domain.SplitModel{}, err
	}
	if err := json.Unmarshal(shares, &m.Shares); err != nil {
		return domain.SplitModel{}, fmt.Errorf("decode shares for %q: %w", m.Category, err)
	}
	return m, nil
}
