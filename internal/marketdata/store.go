// Package marketdata persists fetched market data into the market database.
// Every write is an idempotent upsert keyed on the natural key of the row.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/gapfill/internal/database"
	"github.com/aristath/gapfill/internal/domain"
	"github.com/rs/zerolog"
)

// AllTables lists the market data tables.
var AllTables = []string{
	"historical_prices",
	"company_profiles",
	"corporate_actions",
	"financial_statements",
	"analyst_recommendations",
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// validateTable ensures the table name is in our allowed list.
// This prevents SQL injection through table names.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// TableFor returns the table that holds data for a gap type.
func TableFor(gapType domain.GapType) (string, error) {
	switch gapType {
	case domain.GapHistoricalPrices:
		return "historical_prices", nil
	case domain.GapProfileData:
		return "company_profiles", nil
	case domain.GapCorporateActions:
		return "corporate_actions", nil
	case domain.GapFinancialStatements:
		return "financial_statements", nil
	case domain.GapAnalystRecommendations:
		return "analyst_recommendations", nil
	default:
		return "", fmt.Errorf("unknown gap type: %s", gapType)
	}
}

// Store writes market data rows.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewStore creates a store over a database with the market schema applied.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "market_store").Logger(),
	}
}

// Persist writes every row in data in one transaction and returns the number
// of rows written.
func (s *Store) Persist(ctx context.Context, source string, data domain.Dataset) (int, error) {
	if data.Empty() {
		return 0, nil
	}

	updatedAt := s.now().Unix()
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := insertPrices(ctx, tx, source, data.Prices, updatedAt); err != nil {
			return err
		}
		if data.Profile != nil {
			if err := upsertProfile(ctx, tx, source, *data.Profile, updatedAt); err != nil {
				return err
			}
		}
		if err := insertActions(ctx, tx, source, data.Actions, updatedAt); err != nil {
			return err
		}
		if err := insertStatements(ctx, tx, source, data.Statements, updatedAt); err != nil {
			return err
		}
		return insertRecommendations(ctx, tx, source, data.Recommendations, updatedAt)
	})
	if err != nil {
		return 0, err
	}

	rows := data.Rows()
	s.log.Debug().Str("source", source).Int("rows", rows).Msg("Persisted market data")
	return rows, nil
}

// InsertPrices upserts daily price bars.
func (s *Store) InsertPrices(ctx context.Context, source string, bars []domain.PriceBar) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return insertPrices(ctx, tx, source, bars, s.now().Unix())
	})
}

// UpsertProfile replaces the company profile for its symbol.
func (s *Store) UpsertProfile(ctx context.Context, source string, profile domain.CompanyProfile) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return upsertProfile(ctx, tx, source, profile, s.now().Unix())
	})
}

// InsertCorporateActions upserts dividends and splits.
func (s *Store) InsertCorporateActions(ctx context.Context, source string, actions []domain.CorporateAction) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return insertActions(ctx, tx, source, actions, s.now().Unix())
	})
}

// InsertStatements upserts income, balance sheet and cash flow rows.
func (s *Store) InsertStatements(ctx context.Context, source string, rows []domain.StatementRow) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return insertStatements(ctx, tx, source, rows, s.now().Unix())
	})
}

// InsertRecommendations upserts monthly analyst rating distributions.
func (s *Store) InsertRecommendations(ctx context.Context, source string, recs []domain.Recommendation) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return insertRecommendations(ctx, tx, source, recs, s.now().Unix())
	})
}

func insertPrices(ctx context.Context, tx *sql.Tx, source string, bars []domain.PriceBar, updatedAt int64) error {
	if len(bars) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO historical_prices
			(symbol, date, open, high, low, close, adj_close, volume, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare price insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.Date,
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.AdjClose.String(),
			b.Volume, source, updatedAt); err != nil {
			return fmt.Errorf("failed to insert price %s %s: %w", b.Symbol, b.Date, err)
		}
	}
	return nil
}

func upsertProfile(ctx context.Context, tx *sql.Tx, source string, p domain.CompanyProfile, updatedAt int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO company_profiles
			(symbol, name, exchange, currency, country, sector, industry, market_cap,
			 website, description, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, p.Name, p.Exchange, p.Currency, p.Country, p.Sector, p.Industry,
		p.MarketCap.String(), p.Website, p.Description, source, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.Symbol, err)
	}
	return nil
}

func insertActions(ctx context.Context, tx *sql.Tx, source string, actions []domain.CorporateAction, updatedAt int64) error {
	if len(actions) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO corporate_actions
			(symbol, action_type, ex_date, amount, numerator, denominator, payment_date, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare corporate action insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range actions {
		if _, err := stmt.ExecContext(ctx, a.Symbol, string(a.Type), a.ExDate, a.Amount.String(),
			a.Numerator, a.Denominator, a.PaymentDate, source, updatedAt); err != nil {
			return fmt.Errorf("failed to insert %s %s %s: %w", a.Type, a.Symbol, a.ExDate, err)
		}
	}
	return nil
}

func insertStatements(ctx context.Context, tx *sql.Tx, source string, rows []domain.StatementRow, updatedAt int64) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO financial_statements
			(symbol, statement_type, period_end, period, currency, data, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		data := string(r.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := stmt.ExecContext(ctx, r.Symbol, string(r.Kind), r.PeriodEnd, r.Period,
			r.Currency, data, source, updatedAt); err != nil {
			return fmt.Errorf("failed to insert %s statement %s %s: %w", r.Kind, r.Symbol, r.PeriodEnd, err)
		}
	}
	return nil
}

func insertRecommendations(ctx context.Context, tx *sql.Tx, source string, recs []domain.Recommendation, updatedAt int64) error {
	if len(recs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO analyst_recommendations
			(symbol, period, strong_buy, buy, hold, sell, strong_sell, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare recommendation insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.Period, r.StrongBuy, r.Buy, r.Hold,
			r.Sell, r.StrongSell, source, updatedAt); err != nil {
			return fmt.Errorf("failed to insert recommendation %s %s: %w", r.Symbol, r.Period, err)
		}
	}
	return nil
}
