package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCV is one daily price bar. Indicator math runs on float64 bars;
// persisted prices use the decimal fields on RawQuote.
type OHLCV struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// RawQuote is a point-in-time price/volume/fundamental snapshot for one
// entity from one or more sources. Upserted by (symbol, market, trade date),
// never mutated in place.
type RawQuote struct {
	Symbol    string    `json:"symbol"`
	Market    Market    `json:"market"`
	TradeDate time.Time `json:"trade_date"`

	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`

	MarketCap     decimal.Decimal `json:"market_cap"`
	PERatio       float64         `json:"pe_ratio"`
	PBRatio       float64         `json:"pb_ratio"`
	EPS           decimal.Decimal `json:"eps"`
	DividendYield float64         `json:"dividend_yield"`
	Week52High    decimal.Decimal `json:"week52_high"`
	Week52Low     decimal.Decimal `json:"week52_low"`

	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// MergeMissing copies fields from other into q where q has no value yet.
// Used by the adapter chain: a lower-priority provider only fills fields the
// higher-priority providers were silent on.
func (q *RawQuote) MergeMissing(other *RawQuote) {
	if other == nil {
		return
	}
	if q.Close.IsZero() && !other.Close.IsZero() {
		q.Open, q.High, q.Low, q.Close = other.Open, other.High, other.Low, other.Close
	}
	if q.Volume == 0 {
		q.Volume = other.Volume
	}
	if q.MarketCap.IsZero() {
		q.MarketCap = other.MarketCap
	}
	if q.PERatio == 0 {
		q.PERatio = other.PERatio
	}
	if q.PBRatio == 0 {
		q.PBRatio = other.PBRatio
	}
	if q.EPS.IsZero() {
		q.EPS = other.EPS
	}
	if q.DividendYield == 0 {
		q.DividendYield = other.DividendYield
	}
	if q.Week52High.IsZero() {
		q.Week52High = other.Week52High
	}
	if q.Week52Low.IsZero() {
		q.Week52Low = other.Week52Low
	}
	if other.Source != "" {
		if q.Source == "" {
			q.Source = other.Source
		} else {
			q.Source += "+" + other.Source
		}
	}
}

// NeedsFill reports whether secondary providers still have fields to supply.
func (q *RawQuote) NeedsFill() bool {
	return q.Week52High.IsZero() || q.Week52Low.IsZero() || q.MarketCap.IsZero()
}

// FetchResult is the per-entity output of an adapter chain: the merged daily
// snapshot plus the OHLCV history window the indicator engine consumes.
// FillErrors carries classified failures from secondary providers whose
// fields stayed empty; they degrade the record instead of failing it.
type FetchResult struct {
	Quote      *RawQuote `json:"quote"`
	History    []OHLCV   `json:"history,omitempty"`
	FillErrors []error   `json:"-"`
}
