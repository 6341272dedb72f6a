package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"market-collector/observability"
)

// IndexFeed fetches the benchmark index close series used for the beta
// regression. The series is fetched once per process and cached, so
// collecting several markets in one invocation costs one call.
type IndexFeed struct {
	apiKey     string
	symbol     string
	httpClient *http.Client
	baseURL    string

	mu    sync.Mutex
	cache map[int][]float64
}

// NewIndexFeed creates a new IndexFeed instance
func NewIndexFeed(apiKey, baseURL, symbol string, timeout time.Duration) *IndexFeed {
	return &IndexFeed{
		apiKey:     apiKey,
		symbol:     symbol,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		cache:      make(map[int][]float64),
	}
}

// Name returns the provider tag used in logs and metrics
func (s *IndexFeed) Name() string {
	return BreakerIndexFeed
}

// seriesResponse represents the daily close series from the index endpoint
type seriesResponse struct {
	Symbol string `json:"symbol"`
	Closes []struct {
		Date  string `json:"date"`
		Close string `json:"close"`
	} `json:"closes"`
	Note string `json:"note"`
}

// DailyCloses returns the most recent daily closes for the benchmark,
// oldest first.
func (s *IndexFeed) DailyCloses(ctx context.Context, days int) ([]float64, error) {
	s.mu.Lock()
	cached, ok := s.cache[days]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(s.Name(), "series")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(s.Name(), "series")

	series, err := WithCircuitBreaker(ctx, BreakerIndexFeed, func() (*seriesResponse, error) {
		return s.getSeries(ctx, days)
	})
	if err != nil {
		ce := Classify(s.Name(), s.symbol, err)
		metrics.RecordExternalAPIError(s.Name(), "series", string(ce.Class))
		return nil, ce
	}

	closes := make([]float64, 0, len(series.Closes))
	for _, c := range series.Closes {
		f, err := strconv.ParseFloat(c.Close, 64)
		if err != nil {
			observability.Debug("skipping unparsable benchmark close",
				"provider", s.Name(), "date", c.Date, "value", c.Close)
			continue
		}
		closes = append(closes, f)
	}

	s.mu.Lock()
	s.cache[days] = closes
	s.mu.Unlock()

	return closes, nil
}

func (s *IndexFeed) getSeries(ctx context.Context, days int) (*seriesResponse, error) {
	params := url.Values{}
	params.Set("symbol", s.symbol)
	params.Set("days", strconv.Itoa(days))
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/series?"+params.Encode(), nil)
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

	var series seriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, err
	}

	if series.Note != "" {
		return nil, &ClassifiedError{
			Class:    FailureRateLimit,
			Provider: s.Name(),
			Symbol:   s.symbol,
			Err:      &StatusError{StatusCode: resp.StatusCode, Body: series.Note},
		}
	}

	if len(series.Closes) == 0 {
		return nil, ErrNoData
	}

	return &series, nil
}
