package models

import "time"

// IndicatorSet holds the derived technical metrics for one (entity, date).
// Fields are pointers: nil means the history window was too short or a
// required input was missing, and the engine logged why. Fully recomputed
// each run, never incrementally patched.
type IndicatorSet struct {
	Symbol    string    `json:"symbol"`
	Market    Market    `json:"market"`
	TradeDate time.Time `json:"trade_date"`

	RSI14 *float64 `json:"rsi_14"`
	MFI14 *float64 `json:"mfi_14"`

	MACD          *float64 `json:"macd"`
	MACDSignal    *float64 `json:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram"`

	BollingerUpper  *float64 `json:"bollinger_upper"`
	BollingerMiddle *float64 `json:"bollinger_middle"`
	BollingerLower  *float64 `json:"bollinger_lower"`
	PercentB        *float64 `json:"percent_b"`

	SMA5   *float64 `json:"sma_5"`
	SMA20  *float64 `json:"sma_20"`
	SMA60  *float64 `json:"sma_60"`
	SMA120 *float64 `json:"sma_120"`

	Beta *float64 `json:"beta"`

	Week52High *float64 `json:"week52_high"`
	Week52Low  *float64 `json:"week52_low"`

	ComputedAt time.Time `json:"computed_at"`
}
