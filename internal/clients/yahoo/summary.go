package yahoo

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/shopspring/decimal"
)

const endpointSummary = "quoteSummary"

// rawValue is Yahoo's {"raw": ..., "fmt": ...} number wrapper.
type rawValue struct {
	Raw decimal.Decimal `json:"raw"`
	Fmt string          `json:"fmt"`
}

type summaryResult struct {
	AssetProfile *struct {
		Country             string `json:"country"`
		Industry            string `json:"industry"`
		Sector              string `json:"sector"`
		Website             string `json:"website"`
		LongBusinessSummary string `json:"longBusinessSummary"`
	} `json:"assetProfile"`
	Price *struct {
		LongName     string   `json:"longName"`
		ShortName    string   `json:"shortName"`
		ExchangeName string   `json:"exchangeName"`
		Currency     string   `json:"currency"`
		MarketCap    rawValue `json:"marketCap"`
	} `json:"price"`
	IncomeStatementHistory *struct {
		Items []json.RawMessage `json:"incomeStatementHistory"`
	} `json:"incomeStatementHistory"`
	BalanceSheetHistory *struct {
		Items []json.RawMessage `json:"balanceSheetStatements"`
	} `json:"balanceSheetHistory"`
	CashflowStatementHistory *struct {
		Items []json.RawMessage `json:"cashflowStatements"`
	} `json:"cashflowStatementHistory"`
	RecommendationTrend *struct {
		Trend []struct {
			Period     string `json:"period"`
			StrongBuy  int    `json:"strongBuy"`
			Buy        int    `json:"buy"`
			Hold       int    `json:"hold"`
			Sell       int    `json:"sell"`
			StrongSell int    `json:"strongSell"`
		} `json:"trend"`
	} `json:"recommendationTrend"`
}

type summaryResponse struct {
	QuoteSummary struct {
		Result []summaryResult `json:"result"`
		Error  *apiError       `json:"error"`
	} `json:"quoteSummary"`
}

// summary fetches the given quoteSummary modules. A nil result means Yahoo
// answered without data.
func (c *Client) summary(ctx context.Context, symbol string, modules ...string) (*summaryResult, error) {
	params := map[string]string{"modules": strings.Join(modules, ",")}

	var resp summaryResponse
	if err := c.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if err := checkAPIError(resp.QuoteSummary.Error); err != nil {
		return nil, err
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, nil
	}
	return &resp.QuoteSummary.Result[0], nil
}

func (c *Client) fetchProfile(ctx context.Context, symbol string) domain.FetchResult {
	res, err := c.summary(ctx, symbol, "assetProfile", "price")
	if err != nil {
		return classify(endpointSummary, err)
	}
	if res == nil || (res.AssetProfile == nil && res.Price == nil) {
		return domain.Found(ProviderName, endpointSummary, domain.Dataset{})
	}

	profile := &domain.CompanyProfile{Symbol: symbol}
	if p := res.Price; p != nil {
		profile.Name = p.LongName
		if profile.Name == "" {
			profile.Name = p.ShortName
		}
		profile.Exchange = p.ExchangeName
		profile.Currency = p.Currency
		profile.MarketCap = p.MarketCap.Raw
	}
	if a := res.AssetProfile; a != nil {
		profile.Country = a.Country
		profile.Sector = a.Sector
		profile.Industry = a.Industry
		profile.Website = a.Website
		profile.Description = a.LongBusinessSummary
	}
	return domain.Found(ProviderName, endpointSummary, domain.Dataset{Profile: profile})
}

func (c *Client) fetchStatements(ctx context.Context, symbol string) domain.FetchResult {
	res, err := c.summary(ctx, symbol, "incomeStatementHistory", "balanceSheetHistory", "cashflowStatementHistory")
	if err != nil {
		return classify(endpointSummary, err)
	}
	if res == nil {
		return domain.Found(ProviderName, endpointSummary, domain.Dataset{})
	}

	var rows []domain.StatementRow
	add := func(kind domain.StatementKind, items []json.RawMessage) {
		for _, item := range items {
			var head struct {
				EndDate rawValue `json:"endDate"`
			}
			if err := json.Unmarshal(item, &head); err != nil || head.EndDate.Fmt == "" {
				continue
			}
			rows = append(rows, domain.StatementRow{
				Symbol:    symbol,
				Kind:      kind,
				PeriodEnd: head.EndDate.Fmt,
				Period:    "annual",
				Data:      item,
			})
		}
	}
	if res.IncomeStatementHistory != nil {
		add(domain.StatementIncome, res.IncomeStatementHistory.Items)
	}
	if res.BalanceSheetHistory != nil {
		add(domain.StatementBalance, res.BalanceSheetHistory.Items)
	}
	if res.CashflowStatementHistory != nil {
		add(domain.StatementCashFlow, res.CashflowStatementHistory.Items)
	}
	return domain.Found(ProviderName, endpointSummary, domain.Dataset{Statements: rows})
}

func (c *Client) fetchRecommendations(ctx context.Context, symbol string) domain.FetchResult {
	res, err := c.summary(ctx, symbol, "recommendationTrend")
	if err != nil {
		return classify(endpointSummary, err)
	}
	if res == nil || res.RecommendationTrend == nil {
		return domain.Found(ProviderName, endpointSummary, domain.Dataset{})
	}

	now := c.now().UTC()
	recs := make([]domain.Recommendation, 0, len(res.RecommendationTrend.Trend))
	for _, t := range res.RecommendationTrend.Trend {
		period, ok := monthFor(now, t.Period)
		if !ok {
			continue
		}
		total := t.StrongBuy + t.Buy + t.Hold + t.Sell + t.StrongSell
		if total == 0 {
			continue
		}
		recs = append(recs, domain.Recommendation{
			Symbol:     symbol,
			Period:     period,
			StrongBuy:  t.StrongBuy,
			Buy:        t.Buy,
			Hold:       t.Hold,
			Sell:       t.Sell,
			StrongSell: t.StrongSell,
		})
	}
	return domain.Found(ProviderName, endpointSummary, domain.Dataset{Recommendations: recs})
}

// monthFor converts a relative period such as "0m" or "-2m" to YYYY-MM.
func monthFor(now time.Time, period string) (string, bool) {
	if !strings.HasSuffix(period, "m") {
		return "", false
	}
	offset, err := strconv.Atoi(strings.TrimSuffix(period, "m"))
	if err != nil {
		return "", false
	}
	first := time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
	return first.Format("2006-01"), true
}
