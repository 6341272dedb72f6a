package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market-collector/models"
	"market-collector/observability"

	"github.com/shopspring/decimal"
)

// ProfileFeedAdapter handles communication with the ProfileFeed company
// profile API. It sits last in the adapter chain and only fills fields the
// primary providers were silent on (52-week extrema, market cap).
type ProfileFeedAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewProfileFeedAdapter creates a new ProfileFeedAdapter instance
func NewProfileFeedAdapter(apiKey, baseURL string, timeout time.Duration) *ProfileFeedAdapter {
	return &ProfileFeedAdapter{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Name returns the provider tag used in logs, metrics and source fields
func (s *ProfileFeedAdapter) Name() string {
	return BreakerProfileFeed
}

// profileResponse represents a company profile from the ProfileFeed API
type profileResponse struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	MktCap    int64   `json:"mktCap"`
	Range     string  `json:"range"` // "164.08-199.62"
	Currency  string  `json:"currency"`
	Exchange  string  `json:"exchangeShortName"`
	Sector    string  `json:"sector"`
	IsTrading bool    `json:"isActivelyTrading"`
}

// Fetch returns the profile-derived fields for a symbol
func (s *ProfileFeedAdapter) Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(s.Name(), "profile")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(s.Name(), "profile")

	profile, err := WithCircuitBreaker(ctx, BreakerProfileFeed, func() (*profileResponse, error) {
		return s.getProfile(ctx, entity.Symbol)
	})
	if err != nil {
		ce := Classify(s.Name(), entity.Symbol, err)
		metrics.RecordExternalAPIError(s.Name(), "profile", string(ce.Class))
		return nil, ce
	}

	week52Low, week52High := parseRange(profile.Range)

	quote := &models.RawQuote{
		Symbol:     entity.Symbol,
		Market:     entity.Market,
		MarketCap:  decimal.NewFromInt(profile.MktCap),
		Week52High: week52High,
		Week52Low:  week52Low,
		Source:     s.Name(),
		FetchedAt:  time.Now(),
	}

	return &models.FetchResult{Quote: quote}, nil
}

func (s *ProfileFeedAdapter) getProfile(ctx context.Context, symbol string) (*profileResponse, error) {
	params := url.Values{}
	params.Set("apikey", s.apiKey)

	endpoint := fmt.Sprintf("%s/profile/%s?%s", s.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var profiles []profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, err
	}

	// Unknown symbols come back as an empty array.
	if len(profiles) == 0 {
		return nil, ErrNoData
	}

	return &profiles[0], nil
}

// parseRange splits a "low-high" range string into decimals. Malformed
// ranges yield zeros, which the merge step treats as absent.
func parseRange(r string) (low, high decimal.Decimal) {
	parts := strings.SplitN(r, "-", 2)
	if len(parts) != 2 {
		return decimal.Zero, decimal.Zero
	}
	l, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
	if err != nil {
		return decimal.Zero, decimal.Zero
	}
	h, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return decimal.Zero, decimal.Zero
	}
	return l, h
}
