package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	endpointChart = "chart"
	dateLayout    = "2006-01-02"
)

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

type window struct {
	from, to time.Time
}

// chunks splits [from, to] into windows of at most c.chunkDays days.
func (c *Client) chunks(from, to time.Time) []window {
	var out []window
	step := time.Duration(c.chunkDays) * 24 * time.Hour
	for start := from; !start.After(to); start = start.Add(step) {
		end := start.Add(step - 24*time.Hour)
		if end.After(to) {
			end = to
		}
		out = append(out, window{from: start, to: end})
	}
	return out
}

// priceRange resolves the gap's dates, defaulting to the last year.
func (c *Client) priceRange(gap domain.Gap) (time.Time, time.Time, error) {
	to := c.now().UTC().Truncate(24 * time.Hour)
	if gap.EndDate != "" {
		t, err := time.Parse(dateLayout, gap.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", gap.EndDate, err)
		}
		to = t
	}
	from := to.AddDate(-1, 0, 0)
	if gap.StartDate != "" {
		t, err := time.Parse(dateLayout, gap.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", gap.StartDate, err)
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s after end date %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	return from, to, nil
}

// chart fetches one window of daily bars with dividend and split events.
func (c *Client) chart(ctx context.Context, symbol string, w window) (*chartResult, error) {
	params := map[string]string{
		"period1":  strconv.FormatInt(w.from.Unix(), 10),
		"period2":  strconv.FormatInt(w.to.Add(24*time.Hour).Unix(), 10),
		"interval": "1d",
		"events":   "div|split",
	}

	var resp chartResponse
	if err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if err := checkAPIError(resp.Chart.Error); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return &chartResult{}, nil
	}
	return &resp.Chart.Result[0], nil
}

// fetchCharts downloads every window concurrently and returns them in order.
func (c *Client) fetchCharts(ctx context.Context, symbol string, windows []window) ([]*chartResult, error) {
	results := make([]*chartResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			res, err := c.chart(gctx, symbol, w)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) fetchPrices(ctx context.Context, gap domain.Gap) domain.FetchResult {
	from, to, err := c.priceRange(gap)
	if err != nil {
		return domain.TransportFailure(ProviderName, endpointChart, err)
	}

	results, err := c.fetchCharts(ctx, gap.Symbol, c.chunks(from, to))
	if err != nil {
		return classify(endpointChart, err)
	}

	byDate := make(map[string]domain.PriceBar)
	for _, res := range results {
		for _, bar := range parseBars(gap.Symbol, res) {
			byDate[bar.Date] = bar
		}
	}

	bars := make([]domain.PriceBar, 0, len(byDate))
	for _, bar := range byDate {
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	c.log.Debug().
		Str("symbol", gap.Symbol).
		Int("bars", len(bars)).
		Int("chunks", len(results)).
		Msg("Fetched Yahoo chart")

	return domain.Found(ProviderName, endpointChart, domain.Dataset{Prices: bars})
}

func (c *Client) fetchCorporateActions(ctx context.Context, symbol string) domain.FetchResult {
	to := c.now().UTC().Truncate(24 * time.Hour)
	// Full event history in a single window
	w := window{from: time.Unix(0, 0).UTC(), to: to}

	res, err := c.chart(ctx, symbol, w)
	if err != nil {
		return classify(endpointChart, err)
	}

	actions := make([]domain.CorporateAction, 0, len(res.Events.Dividends)+len(res.Events.Splits))
	for _, d := range res.Events.Dividends {
		actions = append(actions, domain.CorporateAction{
			Symbol: symbol,
			Type:   domain.ActionDividend,
			ExDate: time.Unix(d.Date, 0).UTC().Format(dateLayout),
			Amount: decimal.NewFromFloat(d.Amount),
		})
	}
	for _, s := range res.Events.Splits {
		actions = append(actions, domain.CorporateAction{
			Symbol:      symbol,
			Type:        domain.ActionSplit,
			ExDate:      time.Unix(s.Date, 0).UTC().Format(dateLayout),
			Numerator:   s.Numerator,
			Denominator: s.Denominator,
		})
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].ExDate != actions[j].ExDate {
			return actions[i].ExDate < actions[j].ExDate
		}
		return actions[i].Type < actions[j].Type
	})

	return domain.Found(ProviderName, endpointChart, domain.Dataset{Actions: actions})
}

// parseBars converts a chart result into bars, skipping rows with a null close.
func parseBars(symbol string, res *chartResult) []domain.PriceBar {
	if res == nil || len(res.Indicators.Quote) == 0 {
		return nil
	}
	q := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]domain.PriceBar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		closeVal := at(q.Close, i)
		if closeVal == nil {
			continue
		}
		bar := domain.PriceBar{
			Symbol:   symbol,
			Date:     time.Unix(ts, 0).UTC().Format(dateLayout),
			Open:     toDecimal(at(q.Open, i)),
			High:     toDecimal(at(q.High, i)),
			Low:      toDecimal(at(q.Low, i)),
			Close:    decimal.NewFromFloat(*closeVal),
			AdjClose: decimal.NewFromFloat(*closeVal),
		}
		if a := at(adj, i); a != nil {
			bar.AdjClose = decimal.NewFromFloat(*a)
		}
		if v := at(q.Volume, i); v != nil {
			bar.Volume = int64(*v)
		}
		bars = append(bars, bar)
	}
	return bars
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func toDecimal(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
