package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-collector/models"

	"github.com/shopspring/decimal"
)

func freshRegistry() {
	SetGlobalRegistry(NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig))
}

func TestQuoteBoardAdapter_Fetch(t *testing.T) {
	freshRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "AAPL" {
			t.Errorf("symbol = %v, want 'AAPL'", r.URL.Query().Get("symbol"))
		}
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("apikey = %v, want 'test-key'", r.URL.Query().Get("apikey"))
		}
		w.Write([]byte(`{
			"symbol": "AAPL",
			"tradeDate": "2026-08-28",
			"close": "195.50",
			"volume": "52000000",
			"marketCapitalization": "3000000000000",
			"peRatio": "28.5",
			"pbRatio": "45.2",
			"eps": "6.85",
			"dividendYield": "0.0051",
			"week52High": "199.62",
			"week52Low": "164.08"
		}`))
	}))
	defer server.Close()

	adapter := NewQuoteBoardAdapter("test-key", server.URL, 5*time.Second)
	res, err := adapter.Fetch(context.Background(), models.Entity{Symbol: "AAPL", Market: models.MarketNASDAQ})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	q := res.Quote
	if !q.Close.Equal(decimal.NewFromFloat(195.50)) {
		t.Errorf("Close = %v, want 195.50", q.Close)
	}
	if q.Volume != 52000000 {
		t.Errorf("Volume = %v, want 52000000", q.Volume)
	}
	if q.PERatio != 28.5 {
		t.Errorf("PERatio = %v, want 28.5", q.PERatio)
	}
	if !q.MarketCap.Equal(decimal.RequireFromString("3000000000000")) {
		t.Errorf("MarketCap = %v, want 3000000000000", q.MarketCap)
	}
	if q.Source != BreakerQuoteBoard {
		t.Errorf("Source = %v, want %v", q.Source, BreakerQuoteBoard)
	}
}

func TestQuoteBoardAdapter_NoneFields(t *testing.T) {
	freshRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"symbol": "NEWCO",
			"close": "10.00",
			"volume": "None",
			"peRatio": "None",
			"marketCapitalization": "None"
		}`))
	}))
	defer server.Close()

	adapter := NewQuoteBoardAdapter("test-key", server.URL, 5*time.Second)
	res, err := adapter.Fetch(context.Background(), models.Entity{Symbol: "NEWCO", Market: models.MarketNYSE})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if res.Quote.Volume != 0 {
		t.Errorf("Volume = %v, want 0 for 'None'", res.Quote.Volume)
	}
	if res.Quote.PERatio != 0 {
		t.Errorf("PERatio = %v, want 0 for 'None'", res.Quote.PERatio)
	}
	if !res.Quote.MarketCap.IsZero() {
		t.Errorf("MarketCap = %v, want zero for 'None'", res.Quote.MarketCap)
	}
}

func TestQuoteBoardAdapter_ThrottleNote(t *testing.T) {
	freshRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Throttled responses still come back 200.
		w.Write([]byte(`{"note": "API call frequency is 5 calls per minute"}`))
	}))
	defer server.Close()

	adapter := NewQuoteBoardAdapter("test-key", server.URL, 5*time.Second)
	_, err := adapter.Fetch(context.Background(), models.Entity{Symbol: "AAPL", Market: models.MarketNASDAQ})
	if err == nil {
		t.Fatal("expected throttle note to be an error")
	}
	if ClassOf(err) != FailureRateLimit {
		t.Errorf("class = %v, want RATE_LIMIT", ClassOf(err))
	}
}

func TestQuoteBoardAdapter_UnknownSymbol(t *testing.T) {
	freshRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter := NewQuoteBoardAdapter("test-key", server.URL, 5*time.Second)
	_, err := adapter.Fetch(context.Background(), models.Entity{Symbol: "NOPE", Market: models.MarketNYSE})
	if err == nil {
		t.Fatal("expected empty response to be an error")
	}
	if ClassOf(err) != FailureNoData {
		t.Errorf("class = %v, want NO_DATA", ClassOf(err))
	}
}

func TestQuoteBoardAdapter_HTTP429(t *testing.T) {
	freshRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewQuoteBoardAdapter("test-key", server.URL, 5*time.Second)
	_, err := adapter.Fetch(context.Background(), models.Entity{Symbol: "AAPL", Market: models.MarketNASDAQ})
	if err == nil {
		t.Fatal("expected 429 to be an error")
	}
	if ClassOf(err) != FailureRateLimit {
		t.Errorf("class = %v, want RATE_LIMIT", ClassOf(err))
	}
}

func TestParseDecimal(t *testing.T) {
	if !parseDecimal("None").IsZero() {
		t.Error("parseDecimal('None') should be zero")
	}
	if !parseDecimal("").IsZero() {
		t.Error("parseDecimal('') should be zero")
	}
	if !parseDecimal("garbage").IsZero() {
		t.Error("parseDecimal('garbage') should be zero")
	}
	if !parseDecimal("12.34").Equal(decimal.NewFromFloat(12.34)) {
		t.Errorf("parseDecimal('12.34') = %v, want 12.34", parseDecimal("12.34"))
	}
}
