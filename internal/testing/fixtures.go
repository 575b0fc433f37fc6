package testing

import (
	"encoding/json"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/shopspring/decimal"
)

// NewProfileFixture returns a complete company profile for symbol
func NewProfileFixture(symbol string) *domain.CompanyProfile {
	return &domain.CompanyProfile{
		Symbol:      symbol,
		Name:        symbol + " Inc.",
		Exchange:    "NASDAQ",
		Currency:    "USD",
		Country:     "US",
		Sector:      "Technology",
		Industry:    "Consumer Electronics",
		MarketCap:   decimal.RequireFromString("2500000000000"),
		Website:     "https://example.com",
		Description: "Test company",
	}
}

// NewPriceFixtures returns daily bars for symbol on the given dates
func NewPriceFixtures(symbol string, dates ...string) []domain.PriceBar {
	bars := make([]domain.PriceBar, 0, len(dates))
	for i, date := range dates {
		base := decimal.NewFromInt(int64(100 + i))
		bars = append(bars, domain.PriceBar{
			Symbol:   symbol,
			Date:     date,
			Open:     base,
			High:     base.Add(decimal.NewFromInt(2)),
			Low:      base.Sub(decimal.NewFromInt(1)),
			Close:    base.Add(decimal.NewFromInt(1)),
			AdjClose: base.Add(decimal.NewFromInt(1)),
			Volume:   1000000 + int64(i),
		})
	}
	return bars
}

// NewActionFixtures returns one dividend and one split for symbol
func NewActionFixtures(symbol string) []domain.CorporateAction {
	return []domain.CorporateAction{
		{
			Symbol:      symbol,
			Type:        domain.ActionDividend,
			ExDate:      "2024-02-09",
			Amount:      decimal.RequireFromString("0.24"),
			PaymentDate: "2024-02-15",
		},
		{
			Symbol:      symbol,
			Type:        domain.ActionSplit,
			ExDate:      "2020-08-31",
			Numerator:   4,
			Denominator: 1,
		},
	}
}

// NewStatementFixtures returns an annual income statement row for symbol
func NewStatementFixtures(symbol string) []domain.StatementRow {
	data, _ := json.Marshal(map[string]float64{"revenue": 383285000000, "netIncome": 96995000000})
	return []domain.StatementRow{
		{
			Symbol:    symbol,
			Kind:      domain.StatementIncome,
			PeriodEnd: "2023-09-30",
			Period:    "FY",
			Currency:  "USD",
			Data:      data,
		},
	}
}

// NewRecommendationFixtures returns one month of analyst ratings for symbol
func NewRecommendationFixtures(symbol string) []domain.Recommendation {
	return []domain.Recommendation{
		{Symbol: symbol, Period: "2024-03", StrongBuy: 11, Buy: 21, Hold: 6, Sell: 1, StrongSell: 0},
	}
}
