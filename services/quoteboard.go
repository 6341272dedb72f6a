package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"market-collector/models"
	"market-collector/observability"

	"github.com/shopspring/decimal"
)

// QuoteBoardAdapter handles communication with the QuoteBoard summary API,
// the primary source for fundamental fields.
type QuoteBoardAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewQuoteBoardAdapter creates a new QuoteBoardAdapter instance
func NewQuoteBoardAdapter(apiKey, baseURL string, timeout time.Duration) *QuoteBoardAdapter {
	return &QuoteBoardAdapter{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Name returns the provider tag used in logs, metrics and source fields
func (s *QuoteBoardAdapter) Name() string {
	return BreakerQuoteBoard
}

// SummaryResponse represents the per-symbol summary from QuoteBoard.
// Numeric fields arrive as strings and may be "None".
type SummaryResponse struct {
	Symbol        string `json:"symbol"`
	TradeDate     string `json:"tradeDate"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	MarketCap     string `json:"marketCapitalization"`
	PERatio       string `json:"peRatio"`
	PBRatio       string `json:"pbRatio"`
	EPS           string `json:"eps"`
	DividendYield string `json:"dividendYield"`
	Week52High    string `json:"week52High"`
	Week52Low     string `json:"week52Low"`

	// Note is set instead of data when the call frequency is exceeded.
	Note string `json:"note"`
}

// Fetch returns the fundamental snapshot for a symbol
func (s *QuoteBoardAdapter) Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(s.Name(), "summary")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(s.Name(), "summary")

	summary, err := WithCircuitBreaker(ctx, BreakerQuoteBoard, func() (*SummaryResponse, error) {
		return s.getSummary(ctx, entity.Symbol)
	})
	if err != nil {
		ce := Classify(s.Name(), entity.Symbol, err)
		metrics.RecordExternalAPIError(s.Name(), "summary", string(ce.Class))
		return nil, ce
	}

	marketCap := parseDecimal(summary.MarketCap)
	eps := parseDecimal(summary.EPS)
	week52High := parseDecimal(summary.Week52High)
	week52Low := parseDecimal(summary.Week52Low)
	closePrice := parseDecimal(summary.Close)

	var volume int64
	if summary.Volume != "" && summary.Volume != "None" {
		volume, err = strconv.ParseInt(summary.Volume, 10, 64)
		if err != nil {
			observability.WithSymbol(entity.Symbol).Warn("failed to parse volume",
				"provider", s.Name(), "value", summary.Volume, "error", err)
		}
	}

	quote := &models.RawQuote{
		Symbol:        entity.Symbol,
		Market:        entity.Market,
		Close:         closePrice,
		Volume:        volume,
		MarketCap:     marketCap,
		PERatio:       parseFloat(summary.PERatio),
		PBRatio:       parseFloat(summary.PBRatio),
		EPS:           eps,
		DividendYield: parseFloat(summary.DividendYield),
		Week52High:    week52High,
		Week52Low:     week52Low,
		Source:        s.Name(),
		FetchedAt:     time.Now(),
	}

	return &models.FetchResult{Quote: quote}, nil
}

func (s *QuoteBoardAdapter) getSummary(ctx context.Context, symbol string) (*SummaryResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/summary?"+params.Encode(), nil)
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

	var summary SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, err
	}

	// Throttled calls come back 200 with a note instead of data.
	if summary.Note != "" {
		return nil, &ClassifiedError{
			Class:    FailureRateLimit,
			Provider: s.Name(),
			Symbol:   symbol,
			Err:      &StatusError{StatusCode: resp.StatusCode, Body: summary.Note},
		}
	}

	// Unknown symbols come back as an empty object.
	if summary.Symbol == "" {
		return nil, ErrNoData
	}

	return &summary, nil
}

// parseDecimal parses a QuoteBoard string field, treating "" and "None" as zero
func parseDecimal(s string) decimal.Decimal {
	if s == "" || s == "None" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseFloat parses a QuoteBoard string field, treating "" and "None" as zero
func parseFloat(s string) float64 {
	if s == "" || s == "None" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
