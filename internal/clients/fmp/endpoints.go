package fmp

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	endpointPrices          = "historical-price-full"
	endpointProfile         = "profile"
	endpointDividends       = "historical-price-full/stock_dividend"
	endpointSplits          = "historical-price-full/stock_split"
	endpointIncome          = "income-statement"
	endpointBalance         = "balance-sheet-statement"
	endpointCashFlow        = "cash-flow-statement"
	endpointRecommendations = "analyst-stock-recommendations"

	dateLayout     = "2006-01-02"
	statementLimit = 5
)

type historicalPrice struct {
	Date     string          `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adjClose"`
	Volume   float64         `json:"volume"`
}

type historicalPriceResponse struct {
	Symbol     string            `json:"symbol"`
	Historical []historicalPrice `json:"historical"`
}

type profileResponse struct {
	Symbol            string          `json:"symbol"`
	CompanyName       string          `json:"companyName"`
	ExchangeShortName string          `json:"exchangeShortName"`
	Currency          string          `json:"currency"`
	Country           string          `json:"country"`
	Sector            string          `json:"sector"`
	Industry          string          `json:"industry"`
	MktCap            decimal.Decimal `json:"mktCap"`
	Website           string          `json:"website"`
	Description       string          `json:"description"`
}

type dividendResponse struct {
	Historical []struct {
		Date        string          `json:"date"`
		Dividend    decimal.Decimal `json:"dividend"`
		AdjDividend decimal.Decimal `json:"adjDividend"`
		PaymentDate string          `json:"paymentDate"`
	} `json:"historical"`
}

type splitResponse struct {
	Historical []struct {
		Date        string  `json:"date"`
		Numerator   float64 `json:"numerator"`
		Denominator float64 `json:"denominator"`
	} `json:"historical"`
}

type recommendationResponse struct {
	Date       string `json:"date"`
	StrongBuy  int    `json:"analystRatingsStrongBuy"`
	Buy        int    `json:"analystRatingsbuy"`
	Hold       int    `json:"analystRatingsHold"`
	Sell       int    `json:"analystRatingsSell"`
	StrongSell int    `json:"analystRatingsStrongSell"`
}

// priceRange resolves the gap's dates, defaulting to the last year.
func (c *Client) priceRange(gap domain.Gap) (string, string) {
	to := gap.EndDate
	if to == "" {
		to = c.now().Format(dateLayout)
	}
	from := gap.StartDate
	if from == "" {
		end, err := time.Parse(dateLayout, to)
		if err != nil {
			end = c.now()
		}
		from = end.AddDate(-1, 0, 0).Format(dateLayout)
	}
	return from, to
}

func (c *Client) fetchPrices(ctx context.Context, gap domain.Gap) domain.FetchResult {
	from, to := c.priceRange(gap)
	params := url.Values{}
	params.Set("from", from)
	params.Set("to", to)

	var resp historicalPriceResponse
	if err := c.get(ctx, endpointPrices, gap.Symbol, "/"+endpointPrices+"/"+url.PathEscape(gap.Symbol), params, &resp); err != nil {
		return classify(endpointPrices, err)
	}

	bars := make([]domain.PriceBar, 0, len(resp.Historical))
	for _, h := range resp.Historical {
		adj := h.AdjClose
		if adj.IsZero() {
			adj = h.Close
		}
		bars = append(bars, domain.PriceBar{
			Symbol:   gap.Symbol,
			Date:     h.Date,
			Open:     h.Open,
			High:     h.High,
			Low:      h.Low,
			Close:    h.Close,
			AdjClose: adj,
			Volume:   int64(h.Volume),
		})
	}
	return domain.Found(ProviderName, endpointPrices, domain.Dataset{Prices: bars})
}

func (c *Client) fetchProfile(ctx context.Context, symbol string) domain.FetchResult {
	var resp []profileResponse
	if err := c.get(ctx, endpointProfile, symbol, "/"+endpointProfile+"/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return classify(endpointProfile, err)
	}
	if len(resp) == 0 {
		return domain.Found(ProviderName, endpointProfile, domain.Dataset{})
	}

	p := resp[0]
	return domain.Found(ProviderName, endpointProfile, domain.Dataset{Profile: &domain.CompanyProfile{
		Symbol:      symbol,
		Name:        p.CompanyName,
		Exchange:    p.ExchangeShortName,
		Currency:    p.Currency,
		Country:     p.Country,
		Sector:      p.Sector,
		Industry:    p.Industry,
		MarketCap:   p.MktCap,
		Website:     p.Website,
		Description: p.Description,
	}})
}

func (c *Client) fetchCorporateActions(ctx context.Context, symbol string) domain.FetchResult {
	var divs dividendResponse
	if err := c.get(ctx, endpointDividends, symbol, "/"+endpointDividends+"/"+url.PathEscape(symbol), nil, &divs); err != nil {
		return classify(endpointDividends, err)
	}
	var splits splitResponse
	if err := c.get(ctx, endpointSplits, symbol, "/"+endpointSplits+"/"+url.PathEscape(symbol), nil, &splits); err != nil {
		return classify(endpointSplits, err)
	}

	actions := make([]domain.CorporateAction, 0, len(divs.Historical)+len(splits.Historical))
	for _, d := range divs.Historical {
		amount := d.Dividend
		if amount.IsZero() {
			amount = d.AdjDividend
		}
		actions = append(actions, domain.CorporateAction{
			Symbol:      symbol,
			Type:        domain.ActionDividend,
			ExDate:      d.Date,
			Amount:      amount,
			PaymentDate: d.PaymentDate,
		})
	}
	for _, s := range splits.Historical {
		actions = append(actions, domain.CorporateAction{
			Symbol:      symbol,
			Type:        domain.ActionSplit,
			ExDate:      s.Date,
			Numerator:   s.Numerator,
			Denominator: s.Denominator,
		})
	}
	return domain.Found(ProviderName, endpointDividends, domain.Dataset{Actions: actions})
}

func (c *Client) fetchStatements(ctx context.Context, symbol string) domain.FetchResult {
	kinds := []struct {
		endpoint string
		kind     domain.StatementKind
	}{
		{endpointIncome, domain.StatementIncome},
		{endpointBalance, domain.StatementBalance},
		{endpointCashFlow, domain.StatementCashFlow},
	}

	var rows []domain.StatementRow
	for _, k := range kinds {
		params := url.Values{}
		params.Set("period", "annual")
		params.Set("limit", strconv.Itoa(statementLimit))

		var raw []json.RawMessage
		if err := c.get(ctx, k.endpoint, symbol, "/"+k.endpoint+"/"+url.PathEscape(symbol), params, &raw); err != nil {
			return classify(k.endpoint, err)
		}
		for _, item := range raw {
			var head struct {
				Date             string `json:"date"`
				Period           string `json:"period"`
				ReportedCurrency string `json:"reportedCurrency"`
			}
			if err := json.Unmarshal(item, &head); err != nil || head.Date == "" {
				continue
			}
			rows = append(rows, domain.StatementRow{
				Symbol:    symbol,
				Kind:      k.kind,
				PeriodEnd: head.Date,
				Period:    head.Period,
				Currency:  head.ReportedCurrency,
				Data:      item,
			})
		}
	}
	return domain.Found(ProviderName, endpointIncome, domain.Dataset{Statements: rows})
}

func (c *Client) fetchRecommendations(ctx context.Context, symbol string) domain.FetchResult {
	var resp []recommendationResponse
	if err := c.get(ctx, endpointRecommendations, symbol, "/"+endpointRecommendations+"/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return classify(endpointRecommendations, err)
	}

	// Newest first; keep one row per month
	seen := make(map[string]bool)
	recs := make([]domain.Recommendation, 0, len(resp))
	for _, r := range resp {
		if len(r.Date) < 7 {
			continue
		}
		period := r.Date[:7]
		if seen[period] {
			continue
		}
		seen[period] = true
		recs = append(recs, domain.Recommendation{
			Symbol:     symbol,
			Period:     period,
			StrongBuy:  r.StrongBuy,
			Buy:        r.Buy,
			Hold:       r.Hold,
			Sell:       r.Sell,
			StrongSell: r.StrongSell,
		})
	}
	return domain.Found(ProviderName, endpointRecommendations, domain.Dataset{Recommendations: recs})
}
