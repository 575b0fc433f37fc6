// Package yahoo provides the unmetered fallback provider backed by the
// Yahoo Finance chart and quoteSummary APIs. It uses cookie + crumb
// authentication and keeps no budget or rate-limit bookkeeping of its own.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	// ProviderName identifies this provider in logs and stored rows.
	ProviderName = "yahoo"

	defaultBaseURL   = "https://query2.finance.yahoo.com"
	defaultCookieURL = "https://fc.yahoo.com"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// StatusError is a non-2xx response from Yahoo.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("yahoo returned HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("yahoo returned HTTP %d: %s", e.StatusCode, e.Message)
}

// errNoData marks an API-level "not found" reported inside a 200 body.
var errNoData = errors.New("yahoo: no data found")

// Client is the Yahoo Finance client.
type Client struct {
	baseURL   string
	cookieURL string
	http      *resty.Client
	workers   int
	chunkDays int
	now       func() time.Time
	log       zerolog.Logger

	mu    sync.Mutex
	crumb string
}

// NewClient creates a new Yahoo client. Empty URLs select the public endpoints.
func NewClient(baseURL, cookieURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cookieURL == "" {
		cookieURL = defaultCookieURL
	}

	httpClient := resty.New()
	httpClient.SetTimeout(30 * time.Second)
	httpClient.SetHeader("User-Agent", userAgent)

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		cookieURL: cookieURL,
		http:      httpClient,
		workers:   3,
		chunkDays: 365,
		now:       time.Now,
		log:       log.With().Str("client", ProviderName).Logger(),
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
	if errors.Is(err, errNoData) {
		return domain.NotFound(ProviderName, endpoint, err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return domain.RateLimited(ProviderName, endpoint, err)
		case http.StatusNotFound:
			return domain.NotFound(ProviderName, endpoint, err)
		}
	}
	return domain.TransportFailure(ProviderName, endpoint, err)
}

// ensureCrumb fetches a session cookie and crumb token if not already cached.
func (c *Client) ensureCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" {
		return c.crumb, nil
	}

	// Step 1: obtain a session cookie; the response status does not matter
	if _, err := c.http.R().SetContext(ctx).Get(c.cookieURL); err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("fetch cookie: %w", err)
	}

	// Step 2: the cookie jar sends the cookie with the crumb request
	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/v1/test/getcrumb")
	if err != nil {
		return "", fmt.Errorf("fetch crumb: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode(), Message: "crumb endpoint"}
	}

	crumb := strings.TrimSpace(string(resp.Body()))
	if crumb == "" {
		return "", fmt.Errorf("empty crumb received")
	}

	c.crumb = crumb
	c.log.Debug().Int("crumb_len", len(crumb)).Msg("Obtained Yahoo crumb")
	return crumb, nil
}

func (c *Client) invalidateCrumb() {
	c.mu.Lock()
	c.crumb = ""
	c.mu.Unlock()
}

// get performs an authenticated GET and decodes the body into out.
func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	crumb, err := c.ensureCrumb(ctx)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("crumb", crumb).
		Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		// Invalidate crumb on auth errors so the next call retries auth
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			c.invalidateCrumb()
		}
		return newStatusError(resp.StatusCode(), resp.Body())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("parse yahoo response: %w", err)
	}
	return nil
}

// apiError is the error object embedded in chart and quoteSummary bodies.
type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func newStatusError(status int, body []byte) *StatusError {
	var envelope struct {
		Chart        struct{ Error *apiError } `json:"chart"`
		QuoteSummary struct{ Error *apiError } `json:"quoteSummary"`
		Finance      struct{ Error *apiError } `json:"finance"`
	}
	se := &StatusError{StatusCode: status}
	if json.Unmarshal(body, &envelope) == nil {
		for _, e := range []*apiError{envelope.Chart.Error, envelope.QuoteSummary.Error, envelope.Finance.Error} {
			if e != nil {
				se.Code = e.Code
				se.Message = e.Description
				return se
			}
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	se.Message = msg
	return se
}

// checkAPIError turns an error object in a 200 body into an error.
func checkAPIError(e *apiError) error {
	if e == nil {
		return nil
	}
	if strings.EqualFold(e.Code, "Not Found") {
		return fmt.Errorf("%w: %s", errNoData, e.Description)
	}
	return fmt.Errorf("yahoo error: %s: %s", e.Code, e.Description)
}
