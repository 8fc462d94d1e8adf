package postgres

import (
	"context"

	"github.com/dukerupert/skadi/internal/domain"
)

func (s *Store) ListActiveCurrencies(ctx context.Context) ([]domain.Currency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, symbol, name, exchange_rate, is_base, is_active, rate_updated_at
		FROM currencies
		WHERE is_active = true
		ORDER BY code`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var currencies []domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Symbol, &c.Name, &c.ExchangeRate, &c.IsBase, &c.IsActive, &c.RateUpdatedAt); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}
