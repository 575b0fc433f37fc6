package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PriceBar is one daily OHLCV row.
type PriceBar struct {
	Symbol   string          `json:"symbol"`
	Date     string          `json:"date"` // YYYY-MM-DD
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// CompanyProfile is the static description of a listed company.
type CompanyProfile struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Exchange    string          `json:"exchange"`
	Currency    string          `json:"currency"`
	Country     string          `json:"country"`
	Sector      string          `json:"sector"`
	Industry    string          `json:"industry"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	Website     string          `json:"website"`
	Description string          `json:"description"`
}

// ActionType distinguishes dividends from splits.
type ActionType string

const (
	ActionDividend ActionType = "dividend"
	ActionSplit    ActionType = "split"
)

// CorporateAction is a dividend or split event.
type CorporateAction struct {
	Symbol      string          `json:"symbol"`
	Type        ActionType      `json:"type"`
	ExDate      string          `json:"ex_date"`
	Amount      decimal.Decimal `json:"amount"`      // dividends
	Numerator   float64         `json:"numerator"`   // splits
	Denominator float64         `json:"denominator"` // splits
	PaymentDate string          `json:"payment_date,omitempty"`
}

// StatementKind is one of the three financial statements.
type StatementKind string

const (
	StatementIncome   StatementKind = "income"
	StatementBalance  StatementKind = "balance"
	StatementCashFlow StatementKind = "cash_flow"
)

// StatementRow is one reported period of one statement. Line items are kept
// as a JSON object since the two providers name them differently.
type StatementRow struct {
	Symbol    string          `json:"symbol"`
	Kind      StatementKind   `json:"kind"`
	PeriodEnd string          `json:"period_end"`
	Period    string          `json:"period"` // FY, Q1..Q4, or annual/quarterly
	Currency  string          `json:"currency,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Recommendation is an analyst rating distribution for one month.
type Recommendation struct {
	Symbol     string `json:"symbol"`
	Period     string `json:"period"` // YYYY-MM
	StrongBuy  int    `json:"strong_buy"`
	Buy        int    `json:"buy"`
	Hold       int    `json:"hold"`
	Sell       int    `json:"sell"`
	StrongSell int    `json:"strong_sell"`
}

// Dataset carries whatever a provider returned for one gap.
type Dataset struct {
	Prices          []PriceBar        `json:"prices,omitempty"`
	Profile         *CompanyProfile   `json:"profile,omitempty"`
	Actions         []CorporateAction `json:"actions,omitempty"`
	Statements      []StatementRow    `json:"statements,omitempty"`
	Recommendations []Recommendation  `json:"recommendations,omitempty"`
}

// Empty reports whether the dataset holds no rows at all.
func (d Dataset) Empty() bool {
	return len(d.Prices) == 0 &&
		d.Profile == nil &&
		len(d.Actions) == 0 &&
		len(d.Statements) == 0 &&
		len(d.Recommendations) == 0
}

// Rows counts the rows in the dataset.
func (d Dataset) Rows() int {
	n := len(d.Prices) + len(d.Actions) + len(d.Statements) + len(d.Recommendations)
	if d.Profile != nil {
		n++
	}
	return n
}
