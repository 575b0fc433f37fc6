package marketdata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/shopspring/decimal"
)

// LatestPriceDate returns the most recent bar date for symbol, or "" if none.
func (s *Store) LatestPriceDate(ctx context.Context, symbol string) (string, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(date) FROM historical_prices WHERE symbol = ?", symbol).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest price for %s: %w", symbol, err)
	}
	return date.String, nil
}

// HasProfile reports whether a profile row exists for symbol.
func (s *Store) HasProfile(ctx context.Context, symbol string) (bool, error) {
	n, err := s.CountRows(ctx, "company_profiles", symbol)
	return n > 0, err
}

// CountRows counts the rows a table holds for symbol.
func (s *Store) CountRows(ctx context.Context, table, symbol string) (int, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE symbol = ?", table)
	if err := s.db.QueryRowContext(ctx, query, symbol).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s for %s: %w", table, symbol, err)
	}
	return n, nil
}

// LatestRecommendation returns the newest recommendation period (YYYY-MM), or "" if none.
func (s *Store) LatestRecommendation(ctx context.Context, symbol string) (string, error) {
	var period sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(period) FROM analyst_recommendations WHERE symbol = ?", symbol).Scan(&period)
	if err != nil {
		return "", fmt.Errorf("failed to query latest recommendation for %s: %w", symbol, err)
	}
	return period.String, nil
}

// GetProfile loads the stored profile for symbol, or nil if none exists.
func (s *Store) GetProfile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	var (
		p         domain.CompanyProfile
		marketCap string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, name, exchange, currency, country, sector, industry, market_cap, website, description
		FROM company_profiles WHERE symbol = ?`, symbol).Scan(
		&p.Symbol, &p.Name, &p.Exchange, &p.Currency, &p.Country, &p.Sector, &p.Industry,
		&marketCap, &p.Website, &p.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", symbol, err)
	}

	p.MarketCap, err = decimal.NewFromString(marketCap)
	if err != nil {
		return nil, fmt.Errorf("invalid market cap for %s: %w", symbol, err)
	}
	return &p, nil
}

// GetPrices loads bars for symbol between from and to (inclusive, YYYY-MM-DD), oldest first.
func (s *Store) GetPrices(ctx context.Context, symbol, from, to string) ([]domain.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, open, high, low, close, adj_close, volume
		FROM historical_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var (
			b                               domain.PriceBar
			open, high, low, closeP, adjStr string
		)
		if err := rows.Scan(&b.Symbol, &b.Date, &open, &high, &low, &closeP, &adjStr, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&b.Open, open}, {&b.High, high}, {&b.Low, low}, {&b.Close, closeP}, {&b.AdjClose, adjStr}} {
			v, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("invalid price value %q for %s %s: %w", f.src, b.Symbol, b.Date, err)
			}
			*f.dst = v
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
