// Package fmp provides a client for the Financial Modeling Prep API, the
// metered primary data provider. Every request is checked against the
// rate-limit cooldown and the daily budget before it is sent, and recorded
// against the budget afterwards.
package fmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/gapfill/internal/budget"
	"github.com/aristath/gapfill/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// ProviderName identifies this provider in logs, the audit log and stored rows.
	ProviderName = "fmp"

	defaultBaseURL = "https://financialmodelingprep.com/api/v3"
)

var (
	// ErrThrottled is returned without I/O while a rate-limit cooldown is active.
	ErrThrottled = errors.New("fmp: provider throttled, cooling down")
	// ErrBudgetExhausted is returned without I/O once today's budget is spent.
	ErrBudgetExhausted = errors.New("fmp: daily request budget exhausted")
)

// APIError is a non-2xx response, or a 200 response carrying an error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("FMP API error: status %d, body: %s", e.StatusCode, e.Message)
}

// Budget is the governor consulted before and charged after each request.
type Budget interface {
	CanMakeRequest(n int) bool
	RecordRequest(n int) bool
}

// Throttle reports the global rate-limit cooldown.
type Throttle interface {
	IsRateLimited() bool
}

// Auditor receives one entry per HTTP request.
type Auditor interface {
	Append(entry budget.RequestEntry)
}

// Client is the FMP API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	budget     Budget
	throttle   Throttle
	audit      Auditor
	now        func() time.Time
	log        zerolog.Logger
}

// NewClient creates a new FMP client. An empty baseURL selects the public API.
// budget, throttle and audit are optional.
func NewClient(baseURL, apiKey string, budget Budget, throttle Throttle, audit Auditor, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		budget:   budget,
		throttle: throttle,
		audit:    audit,
		now:      time.Now,
		log:      log.With().Str("client", ProviderName).Logger(),
	}
}

// Name implements provider.Provider.
func (c *Client) Name() string { return ProviderName }

// Fetch retrieves the data for one gap and classifies the outcome.
func (c *Client) Fetch(ctx context.Context, gap domain.Gap) domain.FetchResult {
	switch gap.Type {
	case domain.GapHistoricalPrices:
		return c.fetchPrices(ctx, gap)
	case domain.GapProfileData:
		return c.fetchProfile(ctx, gap.Symbol)
	case domain.GapCorporateActions:
		return c.fetchCorporateActions(ctx, gap.Symbol)
	case domain.GapFinancialStatements:
		return c.fetchStatements(ctx, gap.Symbol)
	case domain.GapAnalystRecommendations:
		return c.fetchRecommendations(ctx, gap.Symbol)
	default:
		return domain.TransportFailure(ProviderName, "", fmt.Errorf("unsupported gap type: %s", gap.Type))
	}
}

// classify maps a request error to a tagged result.
func classify(endpoint string, err error) domain.FetchResult {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusServiceUnavailable,
			strings.Contains(strings.ToLower(apiErr.Message), "limit reach"):
			return domain.RateLimited(ProviderName, endpoint, err)
		case apiErr.StatusCode == http.StatusNotFound:
			return domain.NotFound(ProviderName, endpoint, err)
		}
	}
	return domain.TransportFailure(ProviderName, endpoint, err)
}

// get performs one budgeted GET request and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, symbol, path string, params url.Values, out interface{}) error {
	if c.throttle != nil && c.throttle.IsRateLimited() {
		return ErrThrottled
	}
	if c.budget != nil && !c.budget.CanMakeRequest(1) {
		return ErrBudgetExhausted
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.log.Debug().Str("endpoint", endpoint).Str("symbol", symbol).Msg("Making FMP request")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(endpoint, symbol, 0, start, err)
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// The request reached the provider, so it counts against the budget
	if c.budget != nil {
		c.budget.RecordRequest(1)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(endpoint, symbol, resp.StatusCode, start, err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
		c.record(endpoint, symbol, resp.StatusCode, start, apiErr)
		return apiErr
	}

	// FMP reports quota errors as 200 with an "Error Message" object
	var probe struct {
		ErrorMessage string `json:"Error Message"`
	}
	if len(body) > 0 && body[0] == '{' && json.Unmarshal(body, &probe) == nil && probe.ErrorMessage != "" {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: probe.ErrorMessage}
		c.record(endpoint, symbol, resp.StatusCode, start, apiErr)
		return apiErr
	}

	c.record(endpoint, symbol, resp.StatusCode, start, nil)
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) record(endpoint, symbol string, status int, start time.Time, err error) {
	if c.audit == nil {
		return
	}
	entry := budget.RequestEntry{
		Timestamp:  start,
		Provider:   ProviderName,
		Endpoint:   endpoint,
		Symbol:     symbol,
		StatusCode: status,
		Outcome:    "ok",
		DurationMs: c.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		entry.Outcome = classify(endpoint, err).Outcome.String()
		entry.Error = err.Error()
	}
	c.audit.Append(entry)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
