package models

import "fmt"

// Market identifies a listing venue.
type Market string

const (
	MarketNYSE   Market = "nyse"
	MarketNASDAQ Market = "nasdaq"
)

// ParseMarket converts a CLI/config string into a Market.
func ParseMarket(s string) (Market, error) {
	switch Market(s) {
	case MarketNYSE, MarketNASDAQ:
		return Market(s), nil
	default:
		return "", fmt.Errorf("unknown market %q (want nyse or nasdaq)", s)
	}
}

// Entity is one tradable instrument in a market universe.
// Entities are deduplicated by (Symbol, Market) and immutable once created.
type Entity struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Market   Market `json:"market"`
	Currency string `json:"currency"`
	Sector   string `json:"sector,omitempty"`
}

// Key returns the dedup/progress key for the entity.
func (e Entity) Key() string {
	return e.Symbol + "|" + string(e.Market)
}
